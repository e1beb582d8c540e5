// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

// Package client implements the scripted chat client: a reactor over one
// server connection and a timer that paces commands read from a script file.
package client

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/mds/queue"
	"github.com/rs/zerolog"

	chat "github.com/gopherchat/gopherchat"
	"github.com/gopherchat/gopherchat/poller"
	"github.com/gopherchat/gopherchat/socket"
)

// A pending records one request awaiting acknowledgement. The server answers
// requests strictly in order, so the oldest pending entry always matches the
// next OK or error frame.
type pending struct {
	kind    chat.Kind
	payload chat.Payload
}

// A fileKey identifies one inbound transfer. Chunks from different senders,
// or for different filenames, reassemble independently.
type fileKey struct {
	sender, name string
}

// A Client drives one scripted session against the server. All state is
// confined to the goroutine running [Client.Run].
type Client struct {
	conn  *socket.Conn
	poll  *poller.Poller
	timer *poller.Timer
	log   zerolog.Logger

	split    chat.Splitter
	out      *queue.Queue[chat.Frame]
	acks     *queue.Queue[pending]
	writable bool

	authed   bool
	username string // valid only when authed

	script []string
	pc     int

	jobs    []*FileJob
	nextJob int
	files   map[fileKey]*os.File
	dir     string // destination directory for received files

	closed bool
	err    error
}

// New dials the server at addr and prepares to run the script at scriptPath.
// Received files are written to the current directory.
func New(addr, scriptPath string, log zerolog.Logger) (*Client, error) {
	script, err := readScript(scriptPath)
	if err != nil {
		return nil, err
	}
	conn, err := socket.Dial(addr)
	if err != nil {
		return nil, err
	}
	poll, err := poller.New()
	if err != nil {
		conn.Close()
		return nil, err
	}
	timer, err := poller.NewTimer()
	if err != nil {
		poll.Close()
		conn.Close()
		return nil, err
	}
	return &Client{
		conn:   conn,
		poll:   poll,
		timer:  timer,
		log:    log,
		out:    queue.New[chat.Frame](),
		acks:   queue.New[pending](),
		script: script,
		files:  make(map[fileKey]*os.File),
		dir:    ".",
	}, nil
}

// Run services the client's event loop until the script is done and the
// server connection closes, or ctx ends.
func (c *Client) Run(ctx context.Context) error {
	defer c.cleanup()
	stop := context.AfterFunc(ctx, c.poll.Wake)
	defer stop()

	if err := c.poll.Register(c.conn, poller.Readable, c.connReady); err != nil {
		return err
	}
	if err := c.poll.Register(c.timer, poller.Readable, c.timerReady); err != nil {
		return err
	}
	// Give the connection a beat to settle before the first command.
	if err := c.timer.Set(time.Second); err != nil {
		return err
	}

	for ctx.Err() == nil && !c.closed {
		if err := c.poll.Wait(-1); err != nil {
			return err
		}
	}
	return c.err
}

func (c *Client) cleanup() {
	for _, f := range c.files {
		f.Close()
	}
	clear(c.files)
	for _, j := range c.jobs {
		j.close()
	}
	c.timer.Close()
	c.conn.Close()
	c.poll.Close()
}

func (c *Client) fail(err error) {
	c.closed = true
	if err != io.EOF {
		c.err = err
	} else {
		c.log.Info().Msg("server closed the connection")
	}
}

func (c *Client) connReady(r poller.Ready) {
	if r&poller.Closed != 0 {
		c.fail(io.EOF)
		return
	}
	if r&poller.Readable != 0 {
		if err := c.readFrames(); err != nil {
			c.fail(err)
			return
		}
	}
	if r&poller.Writable != 0 {
		if err := c.writeFrame(); err != nil {
			c.fail(err)
		}
	}
}

func (c *Client) readFrames() error {
	data, rerr := c.conn.RecvAll()
	c.split.Push(data)
	for {
		f, err := c.split.Next()
		if err != nil {
			return err
		}
		if f == nil {
			break
		}
		if err := c.handleFrame(*f); err != nil {
			return err
		}
	}
	return rerr
}

// queueFrame queues f for sending and enables writable interest.
func (c *Client) queueFrame(f chat.Frame) {
	c.out.Add(f)
	c.setWritable(true)
}

// request queues a frame of the given kind and records it as awaiting an
// acknowledgement.
func (c *Client) request(kind chat.Kind, p chat.Payload) {
	c.queueFrame(chat.NewFrame(kind, p))
	c.acks.Add(pending{kind: kind, payload: p})
}

func (c *Client) setWritable(on bool) {
	if c.writable == on || c.conn == nil || c.poll == nil {
		return
	}
	want := poller.Readable
	if on {
		want |= poller.Writable
	}
	if err := c.poll.Modify(c.conn, want); err != nil {
		c.log.Warn().Err(err).Msg("update interest set")
		return
	}
	c.writable = on
}

// writeFrame sends at most one frame per writable event. When the outbound
// queue is empty, an active file transfer contributes its next chunk; with
// neither, writable interest is released.
func (c *Client) writeFrame() error {
	if c.out.IsEmpty() && len(c.jobs) > 0 {
		if err := c.enqueueChunk(); err != nil {
			return err
		}
	}
	f, ok := c.out.Pop()
	if !ok {
		c.setWritable(false)
		return nil
	}
	if _, err := c.conn.SendAll(f.AppendDelimited(nil)); err != nil {
		return err
	}
	if c.out.IsEmpty() && len(c.jobs) == 0 {
		c.setWritable(false)
	}
	return nil
}

// handleFrame consumes one frame from the server: acknowledgements resolve
// the oldest pending request, messages and lists are rendered, and file
// chunks are appended to their destination files.
func (c *Client) handleFrame(f chat.Frame) error {
	p, err := chat.DecodePayload(f)
	if err != nil {
		return err
	}
	switch {
	case f.Kind == chat.MsgOK:
		c.ackOK()
	case f.Kind.IsError():
		c.ackError(f.Kind)
	case f.Kind == chat.MsgSend:
		m := p.(*chat.MessagePacket)
		sender := m.Username
		if sender == "" {
			sender = "Anonymous"
		}
		c.log.Info().Str("from", sender).Msg(m.Message)
	case f.Kind == chat.MsgList:
		// A LIST frame is the success response to the oldest pending GETLIST;
		// it must resolve that entry or later acknowledgements would match
		// the wrong requests.
		if req, ok := c.acks.Pop(); !ok || req.kind != chat.MsgGetList {
			c.log.Warn().Msg("unmatched LIST from server")
		}
		c.log.Info().Strs("users", p.(*chat.ListPacket).Users).Msg("registered users")
	case f.Kind == chat.MsgXfer:
		return c.receiveChunk(p.(*chat.FilePacket))
	default:
		c.log.Warn().Stringer("kind", f.Kind).Msg("unexpected frame from server")
	}
	return nil
}

func (c *Client) ackOK() {
	req, ok := c.acks.Pop()
	if !ok {
		c.log.Warn().Msg("unmatched OK from server")
		return
	}
	switch req.kind {
	case chat.MsgLogin:
		c.authed = true
		c.username = req.payload.(*chat.LoginPacket).Username
		c.log.Info().Str("user", c.username).Msg("logged in")
	case chat.MsgLogout:
		c.authed = false
		c.username = ""
		c.log.Info().Msg("logged out")
	case chat.MsgXfer:
		// Chunk acknowledgements are routine; report only completion.
		if fp := req.payload.(*chat.FilePacket); fp.EOF {
			c.log.Info().Str("file", fp.Filename).Msg("file sent")
		}
	default:
		c.log.Info().Stringer("op", req.kind).Msg("ok")
	}
}

func (c *Client) ackError(kind chat.Kind) {
	req, ok := c.acks.Pop()
	if !ok {
		c.log.Warn().Stringer("error", kind).Msg("unmatched error from server")
		return
	}
	c.log.Warn().Stringer("op", req.kind).Msg(kind.ErrorText())
	if req.kind == chat.MsgXfer {
		// The receiver is gone; sending further chunks is pointless.
		c.cancelJob(req.payload.(*chat.FilePacket).Filename)
	}
}

// receiveChunk appends one inbound file chunk. The first chunk of a transfer
// creates (or truncates) the destination file; the EOF chunk completes it.
func (c *Client) receiveChunk(p *chat.FilePacket) error {
	key := fileKey{sender: p.Username, name: p.Filename}
	f, ok := c.files[key]
	if !ok {
		var err error
		f, err = os.Create(filepath.Join(c.dir, filepath.Base(p.Filename)))
		if err != nil {
			return err
		}
		c.files[key] = f
	}
	if len(p.Data) > 0 {
		if _, err := f.Write(p.Data); err != nil {
			return err
		}
	}
	if p.EOF {
		delete(c.files, key)
		if err := f.Close(); err != nil {
			return err
		}
		c.log.Info().Str("file", p.Filename).Str("from", p.Username).Msg("file received")
	}
	return nil
}

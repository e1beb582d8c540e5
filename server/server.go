// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

// Package server implements the chat service: a single-threaded reactor that
// accepts connections, reassembles frames, and routes messages between
// logged-in users.
package server

import (
	"context"
	"errors"
	"expvar"
	"io"
	"net"

	"github.com/creachadair/mds/queue"
	"github.com/rs/zerolog"

	chat "github.com/gopherchat/gopherchat"
	"github.com/gopherchat/gopherchat/poller"
	"github.com/gopherchat/gopherchat/socket"
	"github.com/gopherchat/gopherchat/store"
)

// A session is the per-connection state of the server: transport identity,
// authentication, the frame reassembler for inbound bytes, and the queue of
// outbound frames not yet written.
type session struct {
	conn     *socket.Conn
	authed   bool
	username string // valid only when authed
	split    chat.Splitter
	out      *queue.Queue[chat.Frame]
	writable bool // whether the poller interest set includes writability
}

func newSession(conn *socket.Conn) *session {
	return &session{conn: conn, out: queue.New[chat.Frame]()}
}

// A Server owns the listening socket, the poller, and all live sessions.
// All of its state is confined to the goroutine running [Server.Run]; no
// locks are needed or taken.
type Server struct {
	lst   *socket.Conn
	poll  *poller.Poller
	store *store.Store
	log   zerolog.Logger

	sessions map[int]*session    // keyed by descriptor
	byUser   map[string]*session // live authenticated sessions

	m *serverMetrics
}

// New constructs a server listening on addr, backed by st for user accounts
// and offline messages. The caller must have loaded st already.
func New(addr string, st *store.Store, log zerolog.Logger) (*Server, error) {
	lst, err := socket.Listen(addr)
	if err != nil {
		return nil, err
	}
	poll, err := poller.New()
	if err != nil {
		lst.Close()
		return nil, err
	}
	s := &Server{
		lst:      lst,
		poll:     poll,
		store:    st,
		log:      log,
		sessions: make(map[int]*session),
		byUser:   make(map[string]*session),
		m:        rootMetrics,
	}
	if err := poll.Register(lst, poller.Readable, func(poller.Ready) { s.acceptReady() }); err != nil {
		poll.Close()
		lst.Close()
		return nil, err
	}
	return s, nil
}

// Addr reports the address the server is listening on.
func (s *Server) Addr() (*net.TCPAddr, error) { return s.lst.Addr() }

// Metrics returns a map of server activity counters.
func (s *Server) Metrics() *expvar.Map { return s.m.emap }

// Run services the event loop until ctx ends or the poller fails. On return
// all connections are closed and the store has been saved.
func (s *Server) Run(ctx context.Context) error {
	defer s.cleanup()
	stop := context.AfterFunc(ctx, s.poll.Wake)
	defer stop()

	addr, _ := s.Addr()
	s.log.Info().Stringer("addr", addr).Msg("server listening")

	for ctx.Err() == nil {
		if err := s.poll.Wait(-1); err != nil {
			return err
		}
	}
	s.log.Info().Msg("server shutting down")
	return nil
}

func (s *Server) cleanup() {
	for _, cs := range s.sessions {
		cs.conn.Close()
	}
	clear(s.sessions)
	clear(s.byUser)
	s.lst.Close()
	s.poll.Close()
	if err := s.store.Save(); err != nil {
		s.log.Error().Err(err).Msg("saving server state")
	}
}

// acceptReady drains every pending connection from the listener.
func (s *Server) acceptReady() {
	for {
		conn, err := s.lst.Accept()
		if errors.Is(err, socket.ErrWouldBlock) {
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("accept failed")
			s.m.connFailed.Add(1)
			return
		}
		s.attach(conn)
	}
}

func (s *Server) attach(conn *socket.Conn) {
	cs := newSession(conn)
	err := s.poll.Register(conn, poller.Readable, func(r poller.Ready) { s.connReady(cs, r) })
	if err != nil {
		s.log.Warn().Err(err).Msg("register connection")
		conn.Close()
		s.m.connFailed.Add(1)
		return
	}
	s.sessions[conn.FD()] = cs
	s.m.connAccepted.Add(1)
	s.log.Debug().Int("fd", conn.FD()).Msg("connection accepted")
}

// connReady dispatches one readiness event for a live session. Closure wins
// over the other conditions: a connection reported closed is dropped without
// consuming whatever input may remain.
func (s *Server) connReady(cs *session, r poller.Ready) {
	if r&poller.Closed != 0 {
		s.drop(cs, io.EOF)
		return
	}
	if r&poller.Readable != 0 {
		if err := s.readFrames(cs); err != nil {
			s.drop(cs, err)
			return
		}
	}
	if r&poller.Writable != 0 {
		if err := s.writeFrame(cs); err != nil {
			s.drop(cs, err)
		}
	}
}

// readFrames drains the connection and handles every complete frame the new
// bytes finish. Frames already reassembled are handled even when the same
// read reports end of stream, so a peer that sends and immediately closes is
// still served.
func (s *Server) readFrames(cs *session) error {
	data, rerr := cs.conn.RecvAll()
	cs.split.Push(data)
	for {
		f, err := cs.split.Next()
		if err != nil {
			return err
		}
		if f == nil {
			break
		}
		s.m.frameRecv.Add(1)
		if err := s.handleFrame(cs, *f); err != nil {
			return err
		}
	}
	return rerr
}

// enqueue queues f for delivery to cs and arranges for the poller to report
// writability on its connection.
func (s *Server) enqueue(cs *session, f chat.Frame) {
	cs.out.Add(f)
	s.setWritable(cs, true)
}

func (s *Server) setWritable(cs *session, on bool) {
	if cs.writable == on || cs.conn == nil || s.poll == nil {
		return
	}
	want := poller.Readable
	if on {
		want |= poller.Writable
	}
	if err := s.poll.Modify(cs.conn, want); err != nil {
		s.log.Warn().Err(err).Msg("update interest set")
		return
	}
	cs.writable = on
}

// writeFrame sends at most one queued frame, keeping the reactor responsive
// to other connections while a large backlog drains.
func (s *Server) writeFrame(cs *session) error {
	f, ok := cs.out.Pop()
	if !ok {
		s.setWritable(cs, false)
		return nil
	}
	if _, err := cs.conn.SendAll(f.AppendDelimited(nil)); err != nil {
		return err
	}
	s.m.frameSent.Add(1)
	if cs.out.IsEmpty() {
		s.setWritable(cs, false)
	}
	return nil
}

// drop tears down a session: its descriptor leaves the registry, its user
// binding (if any) is released, and the connection is closed. Queued outbound
// frames are discarded.
func (s *Server) drop(cs *session, cause error) {
	if cause == io.EOF {
		s.log.Debug().Int("fd", cs.conn.FD()).Msg("connection closed by peer")
		s.m.connClosed.Add(1)
	} else {
		s.log.Warn().Int("fd", cs.conn.FD()).Err(cause).Msg("dropping connection")
		s.m.connFailed.Add(1)
	}
	if cs.authed {
		delete(s.byUser, cs.username)
	}
	delete(s.sessions, cs.conn.FD())
	s.poll.Deregister(cs.conn)
	cs.conn.Close()
}

// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package client

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	chat "github.com/gopherchat/gopherchat"
)

// A FileJob streams one local file to the server in fixed-size chunks. A job
// yields at most one chunk per writable opportunity, so concurrent jobs and
// ordinary messages interleave instead of one transfer starving the rest.
type FileJob struct {
	Filename    string // base name announced to the receiver
	Destination string // empty broadcasts to all logged-in users

	src  *os.File
	sent int64
	done bool
}

// newFileJob opens path for sending to dest.
func newFileJob(path, dest string) (*FileJob, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileJob{
		Filename:    filepath.Base(path),
		Destination: dest,
		src:         src,
	}, nil
}

// next reads the job's next chunk, stamped with the sending user. The chunk
// that exhausts the file carries EOF and completes the job; a file whose size
// is an exact multiple of the chunk size ends with an empty EOF chunk.
func (j *FileJob) next(sender string) (*chat.FilePacket, error) {
	buf := make([]byte, chat.MaxChunk)
	n, err := io.ReadFull(j.src, buf)
	p := &chat.FilePacket{
		Filename:    j.Filename,
		Data:        buf[:n],
		Username:    sender,
		Destination: j.Destination,
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		p.EOF = true
		j.done = true
		j.close()
	default:
		j.done = true
		j.close()
		return nil, err
	}
	j.sent += int64(n)
	return p, nil
}

func (j *FileJob) close() {
	if j.src != nil {
		j.src.Close()
		j.src = nil
	}
}

// addJob starts streaming the file at path to dest and arranges for the
// poller to offer writable opportunities.
func (c *Client) addJob(path, dest string) {
	j, err := newFileJob(path, dest)
	if err != nil {
		c.log.Warn().Err(err).Str("file", path).Msg("cannot open file for sending")
		return
	}
	c.jobs = append(c.jobs, j)
	c.setWritable(true)
	c.log.Info().Str("file", j.Filename).Msg("file transfer started")
}

// enqueueChunk takes the next chunk from the active jobs in round-robin
// order, queues it, and records its pending acknowledgement.
func (c *Client) enqueueChunk() error {
	if len(c.jobs) == 0 {
		return nil
	}
	if c.nextJob >= len(c.jobs) {
		c.nextJob = 0
	}
	j := c.jobs[c.nextJob]
	p, err := j.next(c.username)
	if err != nil {
		c.removeJob(c.nextJob)
		c.log.Warn().Err(err).Str("file", j.Filename).Msg("file transfer failed")
		return nil
	}
	if j.done {
		c.removeJob(c.nextJob)
	} else {
		c.nextJob++
	}
	c.request(chat.MsgXfer, p)
	return nil
}

// cancelJob abandons the active transfer of the named file, if any.
func (c *Client) cancelJob(name string) {
	for i, j := range c.jobs {
		if j.Filename == name {
			j.close()
			c.removeJob(i)
			c.log.Warn().Str("file", name).Msg("file transfer abandoned")
			return
		}
	}
}

func (c *Client) removeJob(i int) {
	c.jobs = append(c.jobs[:i], c.jobs[i+1:]...)
	if c.nextJob > i {
		c.nextJob--
	}
}

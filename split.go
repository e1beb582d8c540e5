// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package chat

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDesync is reported when the stream does not carry a valid frame
// delimiter where one is expected. The stream cannot be resynchronized; the
// connection must be torn down.
var ErrDesync = errors.New("invalid frame delimiter")

// A Splitter reassembles delimited frames from a byte stream. Bytes received
// from the stream are appended with Push, in any sized pieces, and complete
// frames are taken off with Next. The zero value is ready for use.
//
// The splitter alternates strictly between awaiting a delimiter header and
// awaiting the frame body it announces. Any error reported by Next is
// terminal: the splitter must not be used again afterward.
type Splitter struct {
	buf       []byte
	need      int  // bytes required before the next state change
	inPayload bool // whether need refers to a frame body (vs. a header)
}

// Push appends received bytes to the splitter's accumulator.
func (s *Splitter) Push(data []byte) { s.buf = append(s.buf, data...) }

// Next returns the next complete frame, or (nil, nil) if more input is
// needed. Callers should invoke Next repeatedly until it returns nil, so
// that every frame completed by a single Push is drained in order.
func (s *Splitter) Next() (*Frame, error) {
	if s.need == 0 {
		s.need = headerLen
	}
	for len(s.buf) >= s.need {
		if !s.inPayload {
			if s.buf[0] != magicByte {
				return nil, ErrDesync
			}
			size := binary.BigEndian.Uint64(s.buf[1:headerLen])
			if size < 2 || size > MaxFrameLen {
				return nil, fmt.Errorf("frame length %d out of range: %w", size, ErrDesync)
			}
			s.buf = s.buf[headerLen:]
			s.need = int(size)
			s.inPayload = true
			continue
		}

		body := s.buf[:s.need:s.need]
		s.buf = s.buf[s.need:]
		s.need = headerLen
		s.inPayload = false

		var f Frame
		if err := f.UnmarshalBinary(body); err != nil {
			return nil, err
		}
		return &f, nil
	}
	return nil, nil
}

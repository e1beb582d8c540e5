// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package chat

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolVersion is the wire protocol version understood by this
// implementation. Frames carrying any other version are rejected.
const ProtocolVersion = 0

const (
	magicByte = 0xFE
	headerLen = 1 + 8 // magic byte + big-endian length

	// MaxFrameLen is the sanity cap on the encoded length of a single frame.
	// A delimiter announcing a larger frame is treated as a desync.
	MaxFrameLen = 1 << 20
)

// ErrVersionMismatch is reported when a frame carries a protocol version
// other than [ProtocolVersion]. It is fatal to the connection.
var ErrVersionMismatch = errors.New("protocol version mismatch")

// Kind describes the structure and meaning of a frame's payload.
type Kind byte

const (
	MsgOK       Kind = 0 // positive acknowledgement, empty payload
	MsgRegister Kind = 1 // create an account (LoginPacket)
	MsgLogin    Kind = 2 // authenticate this connection (LoginPacket)
	MsgLogout   Kind = 3 // release authentication, empty payload
	MsgSend     Kind = 4 // a text message (MessagePacket)
	MsgXfer     Kind = 5 // one file chunk (FilePacket)
	MsgGetList  Kind = 6 // request the user list, empty payload
	MsgList     Kind = 7 // the user list (ListPacket)

	// Error kinds occupy the high half of the tag space. All carry an empty
	// payload and are delivered as ordinary response frames.
	ErrNoLogin         Kind = 128 // operation requires a login
	ErrNotRegistered   Kind = 129 // username is not registered
	ErrAlreadyLoggedIn Kind = 130 // username has a live session, or connection already authenticated
	ErrUserExists      Kind = 131 // username already taken
	ErrNoSuchUser      Kind = 132 // destination user does not exist
	ErrPasswordWrong   Kind = 133 // incorrect password
	ErrNoPerms         Kind = 134 // tried to send as a different user
	ErrNoSuchFile      Kind = 135 // requested file does not exist
)

// IsError reports whether k is an error kind.
func (k Kind) IsError() bool { return k >= ErrNoLogin }

func (k Kind) String() string {
	switch k {
	case MsgOK:
		return "OK"
	case MsgRegister:
		return "REGISTER"
	case MsgLogin:
		return "LOGIN"
	case MsgLogout:
		return "LOGOUT"
	case MsgSend:
		return "SEND"
	case MsgXfer:
		return "XFER"
	case MsgGetList:
		return "GETLIST"
	case MsgList:
		return "LIST"
	case ErrNoLogin:
		return "NOLOGIN"
	case ErrNotRegistered:
		return "NOTREGISTERED"
	case ErrAlreadyLoggedIn:
		return "ALREADYLOGGEDIN"
	case ErrUserExists:
		return "USEREXISTS"
	case ErrNoSuchUser:
		return "NOSUCHUSER"
	case ErrPasswordWrong:
		return "PASSWRONG"
	case ErrNoPerms:
		return "NOPERMS"
	case ErrNoSuchFile:
		return "NOSUCHFILE"
	default:
		return fmt.Sprintf("KIND:%d", byte(k))
	}
}

// ErrorText returns a human-readable description of an error kind, suitable
// for rendering to the user. For non-error kinds it returns "".
func (k Kind) ErrorText() string {
	switch k {
	case ErrNoLogin:
		return "not logged in"
	case ErrNotRegistered:
		return "not registered"
	case ErrAlreadyLoggedIn:
		return "logged in elsewhere"
	case ErrUserExists:
		return "username already registered"
	case ErrNoSuchUser:
		return "user does not exist"
	case ErrPasswordWrong:
		return "incorrect password"
	case ErrNoPerms:
		return "tried to send message as a different user"
	case ErrNoSuchFile:
		return "no such file"
	default:
		return ""
	}
}

// Frame is the parsed form of one complete protocol message.
type Frame struct {
	Version byte
	Kind    Kind
	Payload []byte
}

// NewFrame constructs a frame of the given kind carrying p. A nil payload
// produces an empty frame body, as used by control and error kinds.
func NewFrame(kind Kind, p Payload) Frame {
	f := Frame{Version: ProtocolVersion, Kind: kind}
	if p != nil {
		f.Payload = p.Encode()
	}
	return f
}

// Encode encodes the frame body (version, kind, payload) in binary format,
// without the stream delimiter.
func (f Frame) Encode() []byte {
	buf := make([]byte, 2+len(f.Payload))
	buf[0] = f.Version
	buf[1] = byte(f.Kind)
	copy(buf[2:], f.Payload)
	return buf
}

// AppendDelimited appends the delimited wire form of f to dst: the magic
// byte, the 8-byte big-endian length of the frame body, and the body itself.
func (f Frame) AppendDelimited(dst []byte) []byte {
	dst = append(dst, magicByte)
	dst = binary.BigEndian.AppendUint64(dst, uint64(2+len(f.Payload)))
	dst = append(dst, f.Version, byte(f.Kind))
	return append(dst, f.Payload...)
}

// UnmarshalBinary decodes a frame body into f. It implements
// encoding.BinaryUnmarshaler. The payload aliases data.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("short frame (%d bytes)", len(data))
	}
	if data[0] != ProtocolVersion {
		return fmt.Errorf("%w (got %d, want %d)", ErrVersionMismatch, data[0], ProtocolVersion)
	}
	f.Version = data[0]
	f.Kind = Kind(data[1])
	if len(data) > 2 {
		f.Payload = data[2:]
	} else {
		f.Payload = nil
	}
	return nil
}

// String returns a human-friendly rendering of the frame.
func (f Frame) String() string {
	if p, err := DecodePayload(f); err == nil && p != nil {
		return fmt.Sprintf("Frame(v%d, %v, %v)", f.Version, f.Kind, p)
	}
	return fmt.Sprintf("Frame(v%d, %v, [%d bytes])", f.Version, f.Kind, len(f.Payload))
}

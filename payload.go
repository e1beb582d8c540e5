// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package chat

import (
	"fmt"

	"github.com/gopherchat/gopherchat/packet"
)

const (
	// MaxChunk is the maximum number of data bytes carried by one file chunk.
	MaxChunk = 1024

	// maxListUsers caps the number of entries accepted in a user list.
	maxListUsers = 4096
)

// A Payload is the typed body of a frame. The wire encoding of a payload is
// derived from its ordered field list.
type Payload interface {
	// Fields returns the ordered field list binding the payload's values to
	// their wire encoding.
	Fields() []packet.Field

	// Encode encodes the payload in binary format.
	Encode() []byte

	String() string
}

// marshal encodes a payload from its field list.
func marshal(p Payload) []byte { return packet.Encode(p.Fields()...) }

// unmarshal decodes a payload from its field list, requiring that data is
// fully consumed.
func unmarshal(p Payload, data []byte) error {
	n, err := packet.Parse(data, p.Fields()...)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%d trailing bytes after payload", len(data)-n)
	}
	return nil
}

// LoginPacket carries the credentials for registration and login.
type LoginPacket struct {
	Username string
	Password string
}

// Fields returns the ordered wire field list of p.
func (p *LoginPacket) Fields() []packet.Field {
	return []packet.Field{
		packet.String(&p.Username),
		packet.String(&p.Password),
	}
}

// Encode encodes the payload in binary format.
func (p *LoginPacket) Encode() []byte { return marshal(p) }

// UnmarshalBinary decodes data into p. It implements
// encoding.BinaryUnmarshaler.
func (p *LoginPacket) UnmarshalBinary(data []byte) error { return unmarshal(p, data) }

func (p *LoginPacket) String() string { return fmt.Sprintf("Login(User=%q)", p.Username) }

// MessagePacket carries one text message. An empty Username marks the
// message as anonymous; an empty Destination broadcasts it to all other
// logged-in users.
type MessagePacket struct {
	Username    string
	Destination string
	Message     string
}

// Fields returns the ordered wire field list of p.
func (p *MessagePacket) Fields() []packet.Field {
	return []packet.Field{
		packet.String(&p.Username),
		packet.String(&p.Destination),
		packet.String(&p.Message),
	}
}

// Encode encodes the payload in binary format.
func (p *MessagePacket) Encode() []byte { return marshal(p) }

// UnmarshalBinary decodes data into p. It implements
// encoding.BinaryUnmarshaler.
func (p *MessagePacket) UnmarshalBinary(data []byte) error { return unmarshal(p, data) }

func (p *MessagePacket) String() string {
	return fmt.Sprintf("Message(From=%q, To=%q, %q)", p.Username, p.Destination, p.Message)
}

// FilePacket carries one chunk of a file transfer. EOF is set on the chunk
// that exhausts the source. Username identifies the sender; Destination
// routes the chunk like a message destination.
type FilePacket struct {
	EOF         bool
	Filename    string
	Data        []byte
	Username    string
	Destination string
}

// Fields returns the ordered wire field list of p. The data field rejects
// chunks larger than [MaxChunk] during decoding.
func (p *FilePacket) Fields() []packet.Field {
	return []packet.Field{
		packet.Bool(&p.EOF),
		packet.String(&p.Filename),
		packet.Bytes(&p.Data, MaxChunk),
		packet.String(&p.Username),
		packet.String(&p.Destination),
	}
}

// Encode encodes the payload in binary format.
func (p *FilePacket) Encode() []byte { return marshal(p) }

// UnmarshalBinary decodes data into p. It implements
// encoding.BinaryUnmarshaler. The chunk data aliases the input.
func (p *FilePacket) UnmarshalBinary(data []byte) error { return unmarshal(p, data) }

func (p *FilePacket) String() string {
	return fmt.Sprintf("File(%q, From=%q, To=%q, [%d bytes], eof=%v)",
		p.Filename, p.Username, p.Destination, len(p.Data), p.EOF)
}

// ListPacket carries the list of registered usernames.
type ListPacket struct {
	Users []string
}

// Fields returns the ordered wire field list of p.
func (p *ListPacket) Fields() []packet.Field {
	return []packet.Field{packet.Strings(&p.Users, maxListUsers)}
}

// Encode encodes the payload in binary format.
func (p *ListPacket) Encode() []byte { return marshal(p) }

// UnmarshalBinary decodes data into p. It implements
// encoding.BinaryUnmarshaler.
func (p *ListPacket) UnmarshalBinary(data []byte) error { return unmarshal(p, data) }

func (p *ListPacket) String() string { return fmt.Sprintf("List(%d users)", len(p.Users)) }

// DecodePayload decodes the payload of f according to its kind. Control and
// error kinds return a nil payload. A decode failure means the frame is
// corrupt; the caller must treat it as fatal to the connection, since
// frame-level resynchronization is not supported.
func DecodePayload(f Frame) (Payload, error) {
	var p Payload
	switch f.Kind {
	case MsgRegister, MsgLogin:
		p = new(LoginPacket)
	case MsgSend:
		p = new(MessagePacket)
	case MsgXfer:
		p = new(FilePacket)
	case MsgList:
		p = new(ListPacket)
	default:
		return nil, nil
	}
	if err := unmarshal(p, f.Payload); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidCredential reports whether s is usable as a username or password:
// between 4 and 8 bytes of ASCII letters and digits.
func ValidCredential(s string) bool {
	if len(s) < 4 || len(s) > 8 {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' {
			continue
		}
		return false
	}
	return true
}

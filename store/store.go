// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

// Package store persists the server's user database and offline message
// table. The whole structure is serialized to a single file with the wire
// codec: loaded on startup, saved on shutdown, and replaced wholesale by a
// reset.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	chat "github.com/gopherchat/gopherchat"
	"github.com/gopherchat/gopherchat/packet"
)

// maxTableLen caps the element count accepted for a persisted table, as a
// guard against loading a corrupt file.
const maxTableLen = 1 << 20

// Data is the persisted server state: the registered users and the
// messages queued for users who were offline when they were sent.
type Data struct {
	Users   []chat.LoginPacket
	Offline []chat.MessagePacket
}

// FindUser returns the stored credentials for name, if registered.
func (d *Data) FindUser(name string) (chat.LoginPacket, bool) {
	for _, u := range d.Users {
		if u.Username == name {
			return u, true
		}
	}
	return chat.LoginPacket{}, false
}

// AddOffline queues m for later delivery to its destination.
func (d *Data) AddOffline(m chat.MessagePacket) { d.Offline = append(d.Offline, m) }

// TakeOffline removes and returns all queued messages destined for user,
// preserving their stored order.
func (d *Data) TakeOffline(user string) []chat.MessagePacket {
	var taken, kept []chat.MessagePacket
	for _, m := range d.Offline {
		if m.Destination == user {
			taken = append(taken, m)
		} else {
			kept = append(kept, m)
		}
	}
	d.Offline = kept
	return taken
}

func (d *Data) encode() []byte {
	var b packet.Builder
	b.Uint64(uint64(len(d.Users)))
	for i := range d.Users {
		packet.Append(&b, d.Users[i].Fields()...)
	}
	b.Uint64(uint64(len(d.Offline)))
	for i := range d.Offline {
		packet.Append(&b, d.Offline[i].Fields()...)
	}
	return b.Bytes()
}

func (d *Data) decode(raw []byte) error {
	rest := raw

	take := func(fields ...packet.Field) error {
		n, err := packet.Parse(rest, fields...)
		if err != nil {
			return err
		}
		rest = rest[n:]
		return nil
	}

	var nu, nm uint64
	if err := take(packet.Uint64(&nu)); err != nil {
		return fmt.Errorf("user count: %w", err)
	}
	if nu > maxTableLen {
		return fmt.Errorf("user count %d exceeds capacity", nu)
	}
	d.Users = make([]chat.LoginPacket, nu)
	for i := range d.Users {
		if err := take(d.Users[i].Fields()...); err != nil {
			return fmt.Errorf("user %d: %w", i, err)
		}
	}

	if err := take(packet.Uint64(&nm)); err != nil {
		return fmt.Errorf("offline count: %w", err)
	}
	if nm > maxTableLen {
		return fmt.Errorf("offline count %d exceeds capacity", nm)
	}
	d.Offline = make([]chat.MessagePacket, nm)
	for i := range d.Offline {
		if err := take(d.Offline[i].Fields()...); err != nil {
			return fmt.Errorf("offline message %d: %w", i, err)
		}
	}

	if len(rest) != 0 {
		return fmt.Errorf("%d trailing bytes after data", len(rest))
	}
	return nil
}

// A Store binds a Data value to its file path.
type Store struct {
	Path string
	Data Data
}

// Open constructs a store for the file at path. No I/O is performed until
// Load or Save.
func Open(path string) *Store { return &Store{Path: path} }

// Load reads the saved state from the store's file. A missing file is not
// an error and yields default-empty state.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		s.Data = Data{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	if err := s.Data.decode(raw); err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	return nil
}

// Save writes the whole state to the store's file, replacing any previous
// contents.
func (s *Store) Save() error {
	if err := os.WriteFile(s.Path, s.Data.encode(), 0600); err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	return nil
}

// Reset discards the saved state, leaving a default-empty store on disk.
func (s *Store) Reset() error {
	s.Data = Data{}
	return s.Save()
}

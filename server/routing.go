// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package server

import (
	"fmt"

	chat "github.com/gopherchat/gopherchat"
)

// handleFrame routes one inbound frame. An error return is fatal to the
// connection; protocol-level failures are answered with error frames and do
// not end the session.
func (s *Server) handleFrame(cs *session, f chat.Frame) error {
	p, err := chat.DecodePayload(f)
	if err != nil {
		return fmt.Errorf("decode %v payload: %w", f.Kind, err)
	}
	switch f.Kind {
	case chat.MsgRegister:
		s.register(cs, p.(*chat.LoginPacket))
	case chat.MsgLogin:
		s.login(cs, p.(*chat.LoginPacket))
	case chat.MsgLogout:
		s.logout(cs)
	case chat.MsgSend:
		s.send(cs, p.(*chat.MessagePacket))
	case chat.MsgXfer:
		s.xfer(cs, p.(*chat.FilePacket))
	case chat.MsgGetList:
		s.getList(cs)
	default:
		return fmt.Errorf("unexpected %v frame from client", f.Kind)
	}
	return nil
}

// reply queues an empty frame of the given kind to cs.
func (s *Server) reply(cs *session, kind chat.Kind) { s.enqueue(cs, chat.NewFrame(kind, nil)) }

func (s *Server) register(cs *session, p *chat.LoginPacket) {
	if _, ok := s.store.Data.FindUser(p.Username); ok {
		s.reply(cs, chat.ErrUserExists)
		return
	}
	s.store.Data.Users = append(s.store.Data.Users, *p)
	s.log.Info().Str("user", p.Username).Msg("user registered")
	s.reply(cs, chat.MsgOK)
}

// login authenticates the session and flushes any messages queued while the
// user was offline. A username may hold at most one live session. The
// credentials are checked before the session bindings, so a caller always
// learns about a bad name or password first.
func (s *Server) login(cs *session, p *chat.LoginPacket) {
	u, ok := s.store.Data.FindUser(p.Username)
	if !ok {
		s.reply(cs, chat.ErrNotRegistered)
		return
	}
	if u.Password != p.Password {
		s.reply(cs, chat.ErrPasswordWrong)
		return
	}
	if cs.authed {
		s.reply(cs, chat.ErrAlreadyLoggedIn)
		return
	}
	if _, live := s.byUser[p.Username]; live {
		s.reply(cs, chat.ErrAlreadyLoggedIn)
		return
	}
	cs.authed = true
	cs.username = p.Username
	s.byUser[p.Username] = cs
	s.log.Info().Str("user", p.Username).Msg("user logged in")

	// Restored messages precede the acknowledgement.
	for _, m := range s.store.Data.TakeOffline(p.Username) {
		s.enqueue(cs, chat.NewFrame(chat.MsgSend, &m))
	}
	s.reply(cs, chat.MsgOK)
}

// logout releases the session's authentication. Logging out an unauthenticated
// session is harmless and still acknowledged.
func (s *Server) logout(cs *session) {
	if cs.authed {
		s.log.Info().Str("user", cs.username).Msg("user logged out")
		delete(s.byUser, cs.username)
		cs.authed = false
		cs.username = ""
	}
	s.reply(cs, chat.MsgOK)
}

// checkSender enforces that a session speaks only for its own user: the
// claimed sender must be empty (anonymous) or match the login binding.
func (s *Server) checkSender(cs *session, claimed string) chat.Kind {
	if !cs.authed {
		return chat.ErrNoLogin
	}
	if claimed != "" && claimed != cs.username {
		return chat.ErrNoPerms
	}
	return chat.MsgOK
}

func (s *Server) send(cs *session, m *chat.MessagePacket) {
	if k := s.checkSender(cs, m.Username); k != chat.MsgOK {
		s.reply(cs, k)
		return
	}
	f := chat.NewFrame(chat.MsgSend, m)

	if m.Destination == "" {
		for _, dst := range s.byUser {
			if dst != cs {
				s.enqueue(dst, f)
			}
		}
		s.m.broadcasts.Add(1)
		s.reply(cs, chat.MsgOK)
		return
	}
	if dst, live := s.byUser[m.Destination]; live {
		s.enqueue(dst, f)
		s.m.directSends.Add(1)
		s.reply(cs, chat.MsgOK)
		return
	}
	if _, ok := s.store.Data.FindUser(m.Destination); ok {
		s.store.Data.AddOffline(*m)
		s.m.offlineQueued.Add(1)
		s.reply(cs, chat.MsgOK)
		return
	}
	s.reply(cs, chat.ErrNoSuchUser)
}

// xfer routes one file chunk. Unlike text messages, chunks are never queued
// for offline users: the receiver must be live for the whole transfer.
func (s *Server) xfer(cs *session, p *chat.FilePacket) {
	if k := s.checkSender(cs, p.Username); k != chat.MsgOK {
		s.reply(cs, k)
		return
	}
	f := chat.NewFrame(chat.MsgXfer, p)

	if p.Destination == "" {
		for _, dst := range s.byUser {
			if dst != cs {
				s.enqueue(dst, f)
			}
		}
		s.reply(cs, chat.MsgOK)
		return
	}
	if dst, live := s.byUser[p.Destination]; live {
		s.enqueue(dst, f)
		s.reply(cs, chat.MsgOK)
		return
	}
	s.reply(cs, chat.ErrNoSuchUser)
}

// getList reports every registered username, logged in or not.
func (s *Server) getList(cs *session) {
	if !cs.authed {
		s.reply(cs, chat.ErrNoLogin)
		return
	}
	list := &chat.ListPacket{Users: make([]string, 0, len(s.store.Data.Users))}
	for _, u := range s.store.Data.Users {
		list.Users = append(list.Users, u.Username)
	}
	s.enqueue(cs, chat.NewFrame(chat.MsgList, list))
}

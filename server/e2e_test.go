// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package server_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	chat "github.com/gopherchat/gopherchat"
	"github.com/gopherchat/gopherchat/server"
	"github.com/gopherchat/gopherchat/store"
)

// testConn wraps a client-side TCP connection to the server under test with
// frame-level send and receive.
type testConn struct {
	t     *testing.T
	conn  net.Conn
	split chat.Splitter
}

func dialServer(t *testing.T, addr string) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) send(kind chat.Kind, p chat.Payload) {
	c.t.Helper()
	if _, err := c.conn.Write(chat.NewFrame(kind, p).AppendDelimited(nil)); err != nil {
		c.t.Fatalf("Write failed: %v", err)
	}
}

func (c *testConn) recv() chat.Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var buf [4096]byte
	for {
		f, err := c.split.Next()
		if err != nil {
			c.t.Fatalf("Next failed: %v", err)
		}
		if f != nil {
			return *f
		}
		n, err := c.conn.Read(buf[:])
		if err != nil {
			c.t.Fatalf("Read failed: %v", err)
		}
		c.split.Push(buf[:n])
	}
}

func (c *testConn) expect(want chat.Kind) chat.Frame {
	c.t.Helper()
	f := c.recv()
	if f.Kind != want {
		c.t.Fatalf("Received %v, want %v", f.Kind, want)
	}
	return f
}

func TestServerEndToEnd(t *testing.T) {
	defer leaktest.Check(t)()

	path := filepath.Join(t.TempDir(), "serverdata.bin")
	st := store.Open(path)
	if err := st.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	srv, err := server.New("127.0.0.1:0", st, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	addr, err := srv.Addr()
	if err != nil {
		t.Fatalf("Addr failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := taskgroup.Go(func() error { return srv.Run(ctx) })

	alice := dialServer(t, addr.String())
	alice.send(chat.MsgRegister, &chat.LoginPacket{Username: "alice", Password: "pass1234"})
	alice.expect(chat.MsgOK)
	alice.send(chat.MsgLogin, &chat.LoginPacket{Username: "alice", Password: "pass1234"})
	alice.expect(chat.MsgOK)

	bob := dialServer(t, addr.String())
	bob.send(chat.MsgRegister, &chat.LoginPacket{Username: "bob", Password: "abcd1234"})
	bob.expect(chat.MsgOK)
	bob.send(chat.MsgLogin, &chat.LoginPacket{Username: "bob", Password: "abcd1234"})
	bob.expect(chat.MsgOK)

	// A direct message crosses from alice's connection to bob's.
	alice.send(chat.MsgSend, &chat.MessagePacket{
		Username: "alice", Destination: "bob", Message: "over the wire",
	})
	alice.expect(chat.MsgOK)
	got := bob.expect(chat.MsgSend)
	p, err := chat.DecodePayload(got)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	want := &chat.MessagePacket{Username: "alice", Destination: "bob", Message: "over the wire"}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("Delivered message (-want, +got):\n%s", diff)
	}

	alice.send(chat.MsgGetList, nil)
	lf := alice.expect(chat.MsgList)
	lp, err := chat.DecodePayload(lf)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	wantList := &chat.ListPacket{Users: []string{"alice", "bob"}}
	if diff := cmp.Diff(wantList, lp); diff != "" {
		t.Errorf("User list (-want, +got):\n%s", diff)
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Errorf("Run failed: %v", err)
	}

	// Shutdown saved the registered users.
	after := store.Open(path)
	if err := after.Load(); err != nil {
		t.Fatalf("Load after shutdown failed: %v", err)
	}
	if _, ok := after.Data.FindUser("alice"); !ok {
		t.Error("Saved store is missing user alice")
	}
	if _, ok := after.Data.FindUser("bob"); !ok {
		t.Error("Saved store is missing user bob")
	}
}

// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package poller

import (
	"testing"

	"golang.org/x/sys/unix"
)

// TestStaleEventDropped simulates a descriptor being closed and reused
// within one event batch: an event stamped with the old registration's
// generation must not reach the handler registered afterward for the same
// descriptor number.
func TestStaleEventDropped(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	fd := fds[0]

	var oldCalls, newCalls int
	if err := p.Register(fdOf(fd), Readable, func(Ready) { oldCalls++ }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	oldGen := p.handlers[fd].gen

	// The old resource goes away and the descriptor number is reused by a
	// fresh registration, as when a connection drops and another is accepted
	// in the same batch.
	if err := p.Deregister(fdOf(fd)); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if err := p.Register(fdOf(fd), Readable, func(Ready) { newCalls++ }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	newGen := p.handlers[fd].gen
	if newGen == oldGen {
		t.Fatalf("Re-registration kept generation %d", oldGen)
	}

	p.dispatch([]unix.EpollEvent{
		{Events: unix.EPOLLIN, Fd: int32(fd), Pad: oldGen},
		{Events: unix.EPOLLIN, Fd: int32(fd), Pad: newGen},
	})
	if oldCalls != 0 {
		t.Errorf("Stale handler ran %d times, want 0", oldCalls)
	}
	if newCalls != 1 {
		t.Errorf("Current handler ran %d times, want 1", newCalls)
	}
}

// fdOf adapts a raw descriptor to the Pollable interface.
type fdOf int

func (f fdOf) FD() int { return int(f) }

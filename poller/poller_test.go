// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package poller_test

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"golang.org/x/sys/unix"

	"github.com/gopherchat/gopherchat/poller"
)

// fdOf adapts a raw descriptor to the Pollable interface.
type fdOf int

func (f fdOf) FD() int { return int(f) }

func mustPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func mustPoller(t *testing.T) *poller.Poller {
	t.Helper()
	p, err := poller.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestReadableDispatch(t *testing.T) {
	p := mustPoller(t)
	r, w := mustPipe(t)

	var got poller.Ready
	if err := p.Register(fdOf(r), poller.Readable, func(rd poller.Ready) { got |= rd }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Nothing to read yet: a short wait must not dispatch.
	if err := p.Wait(10 * time.Millisecond); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("Unexpected dispatch %v before any data", got)
	}

	unix.Write(w, []byte("x"))
	if err := p.Wait(time.Second); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got&poller.Readable == 0 {
		t.Errorf("Dispatch: got %v, want Readable set", got)
	}
}

func TestDeregisterDropsEvents(t *testing.T) {
	p := mustPoller(t)
	r, w := mustPipe(t)

	var calls int
	if err := p.Register(fdOf(r), poller.Readable, func(poller.Ready) { calls++ }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := p.Deregister(fdOf(r)); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}

	unix.Write(w, []byte("x"))
	if err := p.Wait(10 * time.Millisecond); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Handler ran %d times after deregistration", calls)
	}

	// Deregistering again must be harmless.
	if err := p.Deregister(fdOf(r)); err != nil {
		t.Errorf("Second Deregister failed: %v", err)
	}
}

func TestWakeInterruptsWait(t *testing.T) {
	defer leaktest.Check(t)()
	p := mustPoller(t)

	done := make(chan error, 1)
	go func() {
		// Nothing is registered, so only Wake can end this wait.
		done <- p.Wait(-1)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Wake()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wake did not interrupt Wait")
	}
}

func TestModifyInterest(t *testing.T) {
	p := mustPoller(t)
	r, w := mustPipe(t)

	var got poller.Ready
	if err := p.Register(fdOf(r), 0, func(rd poller.Ready) { got |= rd }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	unix.Write(w, []byte("x"))
	if err := p.Wait(10 * time.Millisecond); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got&poller.Readable != 0 {
		t.Fatal("Readable dispatched without readable interest")
	}

	if err := p.Modify(fdOf(r), poller.Readable); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if err := p.Wait(time.Second); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got&poller.Readable == 0 {
		t.Errorf("Dispatch after Modify: got %v, want Readable set", got)
	}
}

func TestTimerFires(t *testing.T) {
	p := mustPoller(t)
	tm, err := poller.NewTimer()
	if err != nil {
		t.Fatalf("NewTimer failed: %v", err)
	}
	defer tm.Close()

	fired := 0
	if err := p.Register(tm, poller.Readable, func(poller.Ready) {
		tm.Clear()
		fired++
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := tm.Set(5 * time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for fired == 0 && time.Now().Before(deadline) {
		if err := p.Wait(time.Second); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if fired != 1 {
		t.Fatalf("Timer fired %d times, want 1", fired)
	}

	// One-shot: with no rearm, no further expirations arrive.
	if err := p.Wait(20 * time.Millisecond); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("Timer fired %d times after expiry, want 1", fired)
	}
}

func TestTimerDisarm(t *testing.T) {
	p := mustPoller(t)
	tm, err := poller.NewTimer()
	if err != nil {
		t.Fatalf("NewTimer failed: %v", err)
	}
	defer tm.Close()

	fired := false
	if err := p.Register(tm, poller.Readable, func(poller.Ready) {
		tm.Clear()
		fired = true
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := tm.Set(20 * time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tm.Disarm(); err != nil {
		t.Fatalf("Disarm failed: %v", err)
	}
	if err := p.Wait(50 * time.Millisecond); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if fired {
		t.Error("Disarmed timer fired")
	}
}

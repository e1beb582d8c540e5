// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package poller

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// A Timer is a pollable one-shot timer backed by a timer descriptor. When
// the timer fires its descriptor becomes readable; the handler must call
// Clear to consume the expiration before the timer can be armed again.
type Timer struct {
	fd int
}

// NewTimer constructs an unarmed timer.
func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// FD reports the descriptor identity of the timer.
func (t *Timer) FD() int { return t.fd }

// Set arms the timer to fire once after d. A non-positive duration fires as
// soon as the poller next waits.
func (t *Timer) Set(d time.Duration) error {
	if d <= 0 {
		d = time.Nanosecond // a zero it_value would disarm instead
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	return nil
}

// Disarm stops the timer without closing it.
func (t *Timer) Disarm() error {
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	return nil
}

// Clear consumes the pending expiration count after the timer fires.
func (t *Timer) Clear() {
	var buf [8]byte
	unix.Read(t.fd, buf[:])
}

// Close releases the timer's descriptor.
func (t *Timer) Close() error {
	if err := unix.Close(t.fd); err != nil {
		return fmt.Errorf("close timer: %w", err)
	}
	return nil
}

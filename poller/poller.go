// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

// Package poller implements a single-threaded readiness-multiplexing event
// loop over epoll.
//
// A [Poller] owns a registry of pollable resources (sockets, timers) and
// dispatches readiness events to per-resource handlers. The registry stores
// only a descriptor and a handler, never the resource itself: the true owner
// of a resource decides its lifetime, and an event delivered for a
// descriptor that has since been deregistered is quietly dropped rather than
// dispatched to a dead target.
//
// All registry operations and Wait must be called from a single goroutine.
// Wake is the one exception: it may be called from anywhere to interrupt a
// blocking Wait, for example from a cancellation watcher.
package poller

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Ready is a set of readiness conditions reported for a resource.
type Ready uint32

const (
	Readable Ready = 1 << iota // data or a connection is available to read
	Writable                   // the resource can accept writes
	Closed                     // the peer closed, or an error condition holds
)

// A Pollable exposes a stable descriptor identity for registration with a
// Poller.
type Pollable interface {
	FD() int
}

// A Handler receives readiness events for one registered resource. Handlers
// run synchronously inside Wait and may freely register or deregister
// resources, including their own.
type Handler func(Ready)

// An entry pairs a handler with the generation of its registration. The
// generation is stamped into the kernel-side event data, so an event queued
// for an earlier registration of a reused descriptor is recognized as stale.
type entry struct {
	gen int32
	h   Handler
}

// A Poller multiplexes readiness across registered resources.
type Poller struct {
	epfd     int
	wakefd   int
	gen      int32
	handlers map[int]entry
	events   [64]unix.EpollEvent
}

// New constructs an empty poller.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &Poller{epfd: epfd, wakefd: wakefd, handlers: make(map[int]entry)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		p.Close()
		return nil, fmt.Errorf("epoll_ctl: %w", err)
	}
	return p, nil
}

func epollMask(want Ready) uint32 {
	// Peer-closed and error conditions are always reported.
	m := uint32(unix.EPOLLRDHUP)
	if want&Readable != 0 {
		m |= unix.EPOLLIN
	}
	if want&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

// Register adds r to the registry with the given interest set, dispatching
// its events to h. Registering a descriptor again after deregistration
// starts a new generation; events queued for the old one are dropped.
func (p *Poller) Register(r Pollable, want Ready, h Handler) error {
	fd := r.FD()
	p.gen++
	ev := unix.EpollEvent{Events: epollMask(want), Fd: int32(fd), Pad: p.gen}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("register fd %d: %w", fd, err)
	}
	p.handlers[fd] = entry{gen: p.gen, h: h}
	return nil
}

// Modify replaces the interest set for a registered resource.
func (p *Poller) Modify(r Pollable, want Ready) error {
	fd := r.FD()
	e, ok := p.handlers[fd]
	if !ok {
		return fmt.Errorf("modify fd %d: not registered", fd)
	}
	ev := unix.EpollEvent{Events: epollMask(want), Fd: int32(fd), Pad: e.gen}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("modify fd %d: %w", fd, err)
	}
	return nil
}

// Deregister removes r from the registry. Removing a resource that is
// already gone (closed or never registered) is not an error.
func (p *Poller) Deregister(r Pollable) error {
	fd := r.FD()
	delete(p.handlers, fd)
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("deregister fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one registered resource is ready or the
// timeout elapses, then dispatches each event to its handler. A negative
// timeout waits indefinitely. A wait interrupted by a signal or by Wake
// returns without error, so the caller's loop can recheck its cancellation
// state before waiting again.
func (p *Poller) Wait(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.events[:], ms)
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return fmt.Errorf("epoll_wait: %w", err)
	}
	p.dispatch(p.events[:n])
	return nil
}

// dispatch delivers one batch of events. A handler run earlier in the batch
// may close a descriptor, and a new resource accepted in the same batch can
// be assigned the same number; the generation check keeps an event queued
// for the old registration from reaching the new handler.
func (p *Poller) dispatch(events []unix.EpollEvent) {
	for _, ev := range events {
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		e, ok := p.handlers[fd]
		if !ok || e.gen != ev.Pad {
			continue // the resource is gone; drop the event
		}
		var r Ready
		if ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			r |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r |= Writable
		}
		if ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			r |= Closed
		}
		e.h(r)
	}
}

// Wake interrupts a concurrent Wait. It is safe to call from any goroutine.
func (p *Poller) Wake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	unix.Write(p.wakefd, buf[:])
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the poller's descriptors and clears the registry. It does
// not close the registered resources; their owners do that.
func (p *Poller) Close() error {
	clear(p.handlers)
	unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return fmt.Errorf("close epoll: %w", err)
	}
	return nil
}

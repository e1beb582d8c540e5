// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

// Package socket provides a non-blocking stream socket layer on raw file
// descriptors, suitable for driving from a readiness poller.
//
// The package targets Linux. Connections are created in non-blocking mode;
// sends always deliver the whole buffer (waiting on the descriptor if the
// kernel buffer fills), while receives never block.
package socket

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is reported by Accept when no connection is pending.
var ErrWouldBlock = errors.New("operation would block")

// An Error is a transport failure: the failed operation together with the
// underlying system error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("socket %s: %v", e.Op, e.Err) }

// Unwrap reports the underlying error of e.
func (e *Error) Unwrap() error { return e.Err }

func opError(op string, err error) error { return &Error{Op: op, Err: err} }

// A Conn is a stream socket identified by its file descriptor. A Conn is
// not safe for concurrent use.
type Conn struct {
	fd int
}

// FD reports the descriptor identity of the connection, for registration
// with a poller.
func (c *Conn) FD() int { return c.fd }

// resolve maps a host:port string to a socket address and address family.
func resolve(addr string) (unix.Sockaddr, int, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, err
	}
	if ip4 := ta.IP.To4(); ip4 != nil || ta.IP == nil {
		sa := &unix.SockaddrInet4{Port: ta.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: ta.Port}
	copy(sa.Addr[:], ta.IP.To16())
	return sa, unix.AF_INET6, nil
}

// Listen opens a non-blocking listening socket on addr with SO_REUSEADDR
// set, so a restarted server can rebind immediately.
func Listen(addr string) (*Conn, error) {
	sa, family, err := resolve(addr)
	if err != nil {
		return nil, opError("resolve", err)
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, opError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, opError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, opError("bind", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, opError("listen", err)
	}
	return &Conn{fd: fd}, nil
}

// Dial connects to addr, blocking until the connection is established, then
// switches the socket to non-blocking mode.
func Dial(addr string) (*Conn, error) {
	sa, family, err := resolve(addr)
	if err != nil {
		return nil, opError("resolve", err)
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, opError("socket", err)
	}
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return nil, opError("connect", err)
	}
	c := &Conn{fd: fd}
	if err := c.SetNonblocking(true); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Accept takes one pending connection from a listening socket and returns
// it in non-blocking mode. If no connection is pending, Accept reports
// [ErrWouldBlock].
func (c *Conn) Accept() (*Conn, error) {
	for {
		nfd, _, err := unix.Accept4(c.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return &Conn{fd: nfd}, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return nil, ErrWouldBlock
		default:
			return nil, opError("accept", err)
		}
	}
}

// SendAll writes all of buf to the connection. When the kernel buffer is
// full it waits for the descriptor to become writable and continues, so a
// caller never observes a partially sent buffer without a fatal error.
func (c *Conn) SendAll(buf []byte) (int, error) {
	var sent int
	for sent < len(buf) {
		n, err := unix.Write(c.fd, buf[sent:])
		if n > 0 {
			sent += n
		}
		switch {
		case err == nil:
		case err == unix.EINTR:
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			if werr := c.waitWritable(); werr != nil {
				return sent, werr
			}
		default:
			return sent, opError("send", err)
		}
	}
	return sent, nil
}

func (c *Conn) waitWritable() error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return opError("poll", err)
		}
		return nil
	}
}

// Recv reads at most maxBytes from the connection. It returns (nil, nil)
// when no data is ready, and (nil, [io.EOF]) on a clean peer shutdown.
func (c *Conn) Recv(maxBytes int) ([]byte, error) {
	buf := make([]byte, maxBytes)
	for {
		n, err := unix.Read(c.fd, buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return nil, nil
		case err != nil:
			return nil, opError("recv", err)
		case n == 0:
			return nil, io.EOF
		default:
			return buf[:n], nil
		}
	}
}

// RecvAll drains every byte currently readable from the connection, as
// required by edge-style readiness consumption. It returns the drained
// bytes together with [io.EOF] if the peer shut down cleanly, or a
// transport error; either way the returned data is still valid.
func (c *Conn) RecvAll() ([]byte, error) {
	var out []byte
	var blk [4096]byte
	for {
		n, err := unix.Read(c.fd, blk[:])
		if n > 0 {
			out = append(out, blk[:n]...)
		}
		switch {
		case err == unix.EINTR:
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return out, nil
		case err != nil:
			return out, opError("recv", err)
		case n == 0:
			return out, io.EOF
		}
	}
}

// SetNonblocking toggles non-blocking mode on the connection.
func (c *Conn) SetNonblocking(on bool) error {
	if err := unix.SetNonblock(c.fd, on); err != nil {
		return opError("setnonblock", err)
	}
	return nil
}

// Addr reports the locally bound address of the connection. It is mainly
// useful for recovering the port of a listener bound to port 0.
func (c *Conn) Addr() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return nil, opError("getsockname", err)
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}, nil
	default:
		return nil, opError("getsockname", fmt.Errorf("unexpected address type %T", sa))
	}
}

// Close releases the connection's descriptor.
func (c *Conn) Close() error {
	if err := unix.Close(c.fd); err != nil {
		return opError("close", err)
	}
	return nil
}

//go:build linux

package rconn

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// Recv reads as many bytes as the kernel has ready into buf. It returns
// (0, nil) on EAGAIN (caller should stop looping and wait for the next
// wake), (0, io.EOF) on a clean close, and any other error as a transport
// failure.
func (c *Conn) Recv(buf []byte) (int, error) {
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			c.RecvReady = false
			return 0, nil
		}
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Sendv writes as much of bufs as the kernel will accept in one
// scatter-gather call, bounded by IOV_MAX. It returns the number of
// bytes actually written.
func (c *Conn) Sendv(bufs [][]byte) (int, error) {
	if len(bufs) == 0 {
		return 0, nil
	}
	const iovMax = 1024
	if len(bufs) > iovMax {
		bufs = bufs[:iovMax]
	}
	n, err := unix.Writev(c.fd, bufs)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			c.SendReady = false
			return 0, nil
		}
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Close shuts down and releases the socket fd.
func (c *Conn) Close() error {
	if c.Closed {
		return nil
	}
	c.Closed = true
	if c.rx != nil {
		_ = c.rx.Del(c)
	}
	return unix.Close(c.fd)
}

// SetNonblock puts fd into non-blocking mode, required before registering
// it with the reactor.
func SetNonblock(fd int) error { return unix.SetNonblock(fd, true) }

// CloseFD closes a raw fd that was never wrapped in a Conn, e.g. a just-
// accepted connection rejected for being over the pool's client limit.
func CloseFD(fd int) error { return unix.Close(fd) }

// Dial opens a non-blocking TCP connection to addr, returning immediately
// even if the connect is still in progress (the caller waits for a
// writable event to confirm it, per spec.md §4.8).
func Dial(network, addr string) (int, error) {
	sa, fam, err := resolveSockaddr(network, addr)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ConnectError checks a connecting socket's pending error (SO_ERROR),
// returning nil once the connect has succeeded.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

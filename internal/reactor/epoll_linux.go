//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Base is the epoll-backed reactor. It is single-threaded: Wait, Add,
// EnableWrite, DisableWrite and Del must only ever be called from the
// goroutine that owns it.
type Base struct {
	epfd     int
	handlers map[int]Handler
	events   []unix.EpollEvent
}

// Create constructs a reactor sized to hold up to n ready events per wake.
func Create(n int) (*Base, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	if n <= 0 {
		n = 128
	}
	return &Base{
		epfd:     fd,
		handlers: make(map[int]Handler),
		events:   make([]unix.EpollEvent, n),
	}, nil
}

// Add registers h for read readiness, edge-triggered; write readiness is
// armed separately via EnableWrite once there is something queued to
// send (or, for an outbound connection still completing its non-blocking
// connect, immediately after Add so the connect's completion itself
// arrives as a writable event).
func (b *Base) Add(h Handler) error {
	fd := h.FD()
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}
	b.handlers[fd] = h
	return nil
}

// EnableWrite arms EPOLLOUT notifications for h.
func (b *Base) EnableWrite(h Handler) error {
	fd := h.FD()
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// DisableWrite disarms EPOLLOUT notifications for h, leaving read armed.
func (b *Base) DisableWrite(h Handler) error {
	fd := h.FD()
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Del deregisters h.
func (b *Base) Del(h Handler) error {
	fd := h.FD()
	delete(b.handlers, fd)
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT {
		return fmt.Errorf("reactor: epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks up to timeoutMs (a negative value blocks indefinitely) and
// dispatches each ready connection's OnEvents callback once events have
// been normalized to {ErrMask, Readable, Writable}. It returns the number
// of ready connections, or 0 on timeout.
func (b *Base) Wait(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := b.events[i]
		h, ok := b.handlers[int(ev.Fd)]
		if !ok {
			continue
		}
		var mask Mask
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			// Hang-up collapses to Readable so the subsequent zero-byte
			// read observes EOF, per spec.md §4.4.
			mask |= Readable
		}
		if ev.Events&unix.EPOLLERR != 0 {
			mask |= ErrMask
		}
		if ev.Events&unix.EPOLLIN != 0 {
			mask |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			mask |= Writable
		}
		h.OnEvents(mask)
	}
	return n, nil
}

// Close releases the epoll fd.
func (b *Base) Close() error { return unix.Close(b.epfd) }

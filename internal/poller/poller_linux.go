// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

// Package poller wraps Linux epoll as the selector a ChannelHub polls for
// read/write readiness across many registered descriptors at once. An
// eventfd lets any goroutine interrupt a blocked Wait to register a new
// descriptor or push a task without waiting out the current timeout.
package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Event is one descriptor's readiness report from Wait.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Error    bool
	HangUp   bool
}

const maxEvents = 256

// Poller is a single epoll instance plus its wakeup eventfd. It is safe
// for concurrent Add/Modify/Remove/Wake from any goroutine; Wait must only
// be called from the selector thread.
type Poller struct {
	epfd   int
	wakefd int
	mu     sync.Mutex
	closed bool
}

// New creates an epoll instance with its wakeup eventfd already registered
// for readability.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &Poller{epfd: epfd, wakefd: wakefd}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// interestMask translates the caller's read/write intent into epoll bits.
// Edge-triggered is deliberately not used: the chunk parser's "leave
// unconsumed bytes for next time" behavior composes far more simply with
// level-triggered semantics, at the cost of redundant wakeups the hub
// already tolerates (it always re-derives want-read/want-write per pass).
func interestMask(wantRead, wantWrite bool) uint32 {
	var m uint32
	if wantRead {
		m |= unix.EPOLLIN
	}
	if wantWrite {
		m |= unix.EPOLLOUT
	}
	return m
}

// Add registers fd for the given interest.
func (p *Poller) Add(fd int, wantRead, wantWrite bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: interestMask(wantRead, wantWrite),
		Fd:     int32(fd),
	})
}

// Modify changes fd's registered interest.
func (p *Poller) Modify(fd int, wantRead, wantWrite bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: interestMask(wantRead, wantWrite),
		Fd:     int32(fd),
	})
}

// Remove deregisters fd. It is not an error to remove an fd that has
// already been closed out from under the poller (EBADF/ENOENT are
// swallowed), since that's the common race on transport teardown.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
		return nil
	}
	return err
}

// Wake interrupts a blocked Wait from any goroutine.
func (p *Poller) Wake() error {
	var v [8]byte
	v[0] = 1
	_, err := unix.Write(p.wakefd, v[:])
	return err
}

// Wait blocks up to timeoutMs (-1 for indefinite) and appends ready
// descriptors to dst, returning the extended slice. A wakeup via Wake
// drains the eventfd and is not reported as an Event.
func (p *Poller) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	var raw [maxEvents]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakefd {
			var buf [8]byte
			unix.Read(p.wakefd, buf[:])
			continue
		}
		ev := raw[i].Events
		dst = append(dst, Event{
			Fd:       fd,
			Readable: ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: ev&(unix.EPOLLOUT|unix.EPOLLERR) != 0,
			Error:    ev&unix.EPOLLERR != 0,
			HangUp:   ev&unix.EPOLLHUP != 0,
		})
	}
	return dst, nil
}

// Close releases the epoll and eventfd descriptors. Idempotent.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	unix.Close(p.wakefd)
	unix.Close(p.epfd)
	return nil
}

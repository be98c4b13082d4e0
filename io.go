// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"net"
	"os"
	"syscall"
	"time"
)

// Readable is a non-blocking-first byte source: Read returns ErrWouldBlock
// (never blocking the caller) when no data is currently available, io.EOF
// on orderly peer close, or a hard I/O error otherwise.
type Readable interface {
	Read(p []byte) (int, error)
}

// Writable is the write-side dual of Readable.
type Writable interface {
	Write(p []byte) (int, error)
}

// Selectable exposes the OS descriptor backing a stream so a ChannelHub
// can register and deregister readiness interest with its selector.
type Selectable interface {
	SyscallConn() (syscall.RawConn, error)
}

// endpoint is what Mono's single duplex stream, or one half of a Dual
// pair, must support: {Readable, Writable, Selectable} per spec §3.
type endpoint interface {
	Readable
	Writable
	Selectable
	Close() error
}

// readEndpoint is the read half of a Dual transport.
type readEndpoint interface {
	Readable
	Selectable
	Close() error
}

// writeEndpoint is the write half of a Dual transport.
type writeEndpoint interface {
	Writable
	Selectable
	Close() error
}

// halfCloser is implemented by endpoints that can shut down one direction
// of a duplex stream while leaving the other operational (e.g. TCP/Unix
// stream sockets). Endpoints that cannot (e.g. a single pipe fd) simply
// don't implement it, and the transport falls back to a full Close.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// deadlineEndpoint wraps an object with per-call read/write deadlines
// (net.Conn and *os.File both qualify) into the non-blocking Readable /
// Writable contract.
//
// Go's net package, unlike Java NIO, has no "configureBlocking(false)"
// switch: a conn is always blocking from the caller's point of view. The
// idiomatic substitute, used throughout the standard library's own
// non-blocking patterns, is to set an already-past deadline before each
// call and translate the resulting os.ErrDeadlineExceeded into the
// semantic ErrWouldBlock that the rest of this package (and iox) expects.
type deadlineEndpoint struct {
	rw   interface {
		Read(p []byte) (int, error)
		Write(p []byte) (int, error)
		Close() error
	}
	sc        syscall.Conn
	setRDL    func(time.Time) error
	setWDL    func(time.Time) error
}

func (e *deadlineEndpoint) Read(p []byte) (int, error) {
	if err := e.setRDL(time.Now()); err != nil {
		return 0, err
	}
	n, err := e.rw.Read(p)
	if err != nil && isDeadlineExceeded(err) {
		return n, ErrWouldBlock
	}
	return n, err
}

func (e *deadlineEndpoint) Write(p []byte) (int, error) {
	if err := e.setWDL(time.Now()); err != nil {
		return 0, err
	}
	n, err := e.rw.Write(p)
	if err != nil && isDeadlineExceeded(err) {
		return n, ErrWouldBlock
	}
	return n, err
}

func (e *deadlineEndpoint) Close() error { return e.rw.Close() }

func (e *deadlineEndpoint) SyscallConn() (syscall.RawConn, error) { return e.sc.SyscallConn() }

func isDeadlineExceeded(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// netEndpoint adapts a net.Conn (TCP, Unix stream, or anything
// implementing syscall.Conn) into endpoint, additionally exposing
// CloseRead/CloseWrite when the underlying conn supports half-close.
type netEndpoint struct {
	deadlineEndpoint
	conn net.Conn
}

// NewNetEndpoint adapts conn for use as a Mono transport's single duplex
// stream.
func NewNetEndpoint(conn net.Conn) (endpoint, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, ErrInvalidArgument
	}
	return &netEndpoint{
		deadlineEndpoint: deadlineEndpoint{
			rw:     conn,
			sc:     sc,
			setRDL: conn.SetReadDeadline,
			setWDL: conn.SetWriteDeadline,
		},
		conn: conn,
	}, nil
}

func (e *netEndpoint) CloseRead() error {
	type reader interface{ CloseRead() error }
	if cr, ok := e.conn.(reader); ok {
		return cr.CloseRead()
	}
	return e.conn.Close()
}

func (e *netEndpoint) CloseWrite() error {
	type writer interface{ CloseWrite() error }
	if cw, ok := e.conn.(writer); ok {
		return cw.CloseWrite()
	}
	return e.conn.Close()
}

// fileEndpoint adapts a POSIX file descriptor (regular file, or — more
// usefully here — one end of a pipe backing a split stdin/stdout agent
// launch) into readEndpoint or writeEndpoint. This is the §6 "optional
// adapter [that] converts POSIX file descriptors into selectable
// streams". On platforms where *os.File doesn't support deadlines (or
// epoll registration of the fd fails), callers should fall back to
// thread-per-stream I/O via the higher layer, per spec §6.
type fileEndpoint struct {
	deadlineEndpoint
	f *os.File
}

// NewFileEndpoint adapts f (expected to be a pipe or other selectable
// POSIX descriptor, opened O_NONBLOCK-friendly) for use as one half of a
// Dual transport.
func NewFileEndpoint(f *os.File) (endpoint, error) {
	return &fileEndpoint{
		deadlineEndpoint: deadlineEndpoint{
			rw:     f,
			sc:     f,
			setRDL: f.SetReadDeadline,
			setWDL: f.SetWriteDeadline,
		},
		f: f,
	}, nil
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"net"
	"os"
)

// Named transport constructors and per-kind defaults.
//
// Single source of truth — transport kind → (NioTransport variant, frame
// size default):
//   - TCP / Unix (stream socket) → Mono,  8 KiB frames, half-close via shutdown
//   - Local pipes (split stdio)  → Dual, 16 KiB frames, independent fd close
//
// Every helper below still takes ...Option, so a caller can override the
// per-kind default (e.g. a smaller WithFrameSize for a latency-sensitive
// Unix socket) without losing the kind-appropriate endpoint wiring.

type netKind uint8

const (
	netTCP netKind = iota
	netUnixStream
	netLocalPipes
)

func defaultsFor(kind netKind) []Option {
	switch kind {
	case netTCP, netUnixStream:
		return []Option{WithFrameSize(8192)}
	case netLocalPipes:
		// A forked local agent process is typically fed larger batches per
		// command; give it more framing headroom than a network peer.
		return []Option{WithFrameSize(16 * 1024)}
	default:
		return nil
	}
}

// NewTCPTransport wires conn (expected to be a *net.TCPConn or anything
// else satisfying syscall.Conn) as a Mono transport, half-closed via
// CloseRead/CloseWrite.
func NewTCPTransport(hub *ChannelHub, conn net.Conn, opts ...Option) (*NioTransport, error) {
	return newMonoNetTransport(hub, conn, netTCP, opts)
}

// NewUnixTransport wires a Unix stream socket conn as a Mono transport.
func NewUnixTransport(hub *ChannelHub, conn net.Conn, opts ...Option) (*NioTransport, error) {
	return newMonoNetTransport(hub, conn, netUnixStream, opts)
}

func newMonoNetTransport(hub *ChannelHub, conn net.Conn, kind netKind, opts []Option) (*NioTransport, error) {
	ep, err := NewNetEndpoint(conn)
	if err != nil {
		return nil, err
	}
	all := append(append([]Option(nil), defaultsFor(kind)...), opts...)
	return NewMonoTransport(hub, ep, all...), nil
}

// NewLocalPipeTransport wires a split read/write pair of pipe file
// descriptors (e.g. a forked agent's stdout/stdin) as a Dual transport:
// each half is closed independently, with no shutdown-style half-close
// available.
func NewLocalPipeTransport(hub *ChannelHub, r, w *os.File, opts ...Option) (*NioTransport, error) {
	re, err := NewFileEndpoint(r)
	if err != nil {
		return nil, err
	}
	we, err := NewFileEndpoint(w)
	if err != nil {
		return nil, err
	}
	all := append(append([]Option(nil), defaultsFor(netLocalPipes)...), opts...)
	return NewDualTransport(hub, re, we, all...), nil
}

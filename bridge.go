// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"errors"
	"io"
	"sync/atomic"
)

// Bridge relays every packet received on one transport to the other as a
// single WriteBlock call, preserving packet boundaries across the splice
// (the packet-oriented analogue of a byte-stream message forwarder).
// Either side closing propagates a half-close to the other; either side
// aborting tears down both.
type Bridge struct {
	a, b    *NioTransport
	closing atomic.Bool
}

// NewBridge splices a and b together and installs itself as both
// transports' Receiver. Setup must not have been called on either
// transport yet.
func NewBridge(a, b *NioTransport) *Bridge {
	br := &Bridge{a: a, b: b}
	a.Setup(bridgeSide{br: br, from: a, to: b})
	b.Setup(bridgeSide{br: br, from: b, to: a})
	return br
}

// bridgeSide is the Receiver installed on one end of a Bridge; it knows
// which transport it heard the packet on and where to relay it.
type bridgeSide struct {
	br   *Bridge
	from *NioTransport
	to   *NioTransport
}

func (s bridgeSide) Handle(packet []byte) {
	if err := s.to.WriteBlock(packet); err != nil {
		s.br.teardown(err)
	}
}

func (s bridgeSide) Terminate(cause error) {
	if errors.Is(cause, io.EOF) && s.br.closing.CompareAndSwap(false, true) {
		// Orderly EOF on one side: propagate a half-close to the other,
		// matching the half-close discipline of a direct peer rather than
		// tearing the whole splice down on a one-sided finish.
		s.to.CloseWrite()
		return
	}
	s.br.teardown(cause)
}

// teardown aborts both sides once a hard error makes the splice
// unrecoverable.
func (br *Bridge) teardown(cause error) {
	br.a.Abort(cause)
	br.b.Abort(cause)
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Receiver is the higher layer's command-packet consumer. Handle is
// called in single-lane FIFO order, at most once per packet, never
// concurrently for the same transport. Terminate is called at most once,
// when the transport is aborted or the peer closes first.
type Receiver interface {
	Handle(packet []byte)
	Terminate(cause error)
}

// endpointKind tags which of the two NioTransport shapes a given instance
// is: one duplex endpoint with half-close via shutdown, or two simplex
// endpoints with independent close (spec §9 "model as an enum with two
// variants and dispatch via pattern match").
type endpointKind uint8

const (
	kindMono endpointKind = iota
	kindDual
)

// NioTransport is the per-connection state: two FifoBuffers (ingress,
// egress), the chunk-encoded framing protocol, half-close discipline for
// both directions, and a single-lane executor that preserves per-
// connection packet delivery order.
type NioTransport struct {
	hub *ChannelHub

	kind  endpointKind
	mono  endpoint
	dualR readEndpoint
	dualW writeEndpoint

	rb *FifoBuffer
	wb *FifoBuffer

	frameSize int

	ropen atomic.Bool
	wopen atomic.Bool

	remoteCap atomic.Value // holds any (CapabilitySet)

	recvMu   sync.Mutex
	receiver Receiver

	lane *swimLane

	readInitiatedLocal atomic.Bool // true once CloseRead() was called by us

	aborted   atomic.Bool
	abortOnce sync.Once

	// terminateOnce guards the peer-EOF notify in parseAndDispatch: the
	// poller is level-triggered, so a closed-but-still-registered ingress
	// fd keeps reporting HangUp/Readable on every subsequent pass even
	// though closeReadEnd only clears ropen without deregistering the fd.
	// Without this guard Terminate(io.EOF) would fire again on every poll
	// cycle for as long as the write half stays open.
	terminateOnce sync.Once

	// key is the hub's opaque per-transport selection-key bookkeeping.
	key any
}

// newTransportBase wires the buffers, frame size, and single-lane executor
// common to both Mono and Dual transports.
func newTransportBase(hub *ChannelHub, opts ...Option) *NioTransport {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	t := &NioTransport{
		hub:       hub,
		frameSize: o.FrameSize,
		rb:        NewFifoBuffer(o.IngressPageSize, o.IngressCapacity, nil),
		wb:        NewFifoBuffer(o.EgressPageSize, o.EgressCapacity, nil),
		lane:      newSwimLane(hub.pool()),
	}
	t.ropen.Store(true)
	t.wopen.Store(true)
	return t
}

// NewMonoTransport builds a transport over a single duplex endpoint (e.g.
// a TCP or Unix stream socket) whose halves are half-closed via shutdown.
func NewMonoTransport(hub *ChannelHub, ep endpoint, opts ...Option) *NioTransport {
	t := newTransportBase(hub, opts...)
	t.kind = kindMono
	t.mono = ep
	return t
}

// NewDualTransport builds a transport over two independent simplex
// endpoints (e.g. split stdin/stdout of a forked agent process), each
// closed independently.
func NewDualTransport(hub *ChannelHub, r readEndpoint, w writeEndpoint, opts ...Option) *NioTransport {
	t := newTransportBase(hub, opts...)
	t.kind = kindDual
	t.dualR = r
	t.dualW = w
	return t
}

// Setup registers the packet receiver. Until called, no inbound bytes are
// delivered and the transport is not readable-intent-eligible.
func (t *NioTransport) Setup(r Receiver) {
	t.recvMu.Lock()
	t.receiver = r
	t.recvMu.Unlock()
	t.hub.requestReregister(t)
}

func (t *NioTransport) getReceiver() Receiver {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	return t.receiver
}

// RemoteCapability returns the weakly-typed handle to the remote peer's
// advertised capability set, or nil if the handshake hasn't populated it.
func (t *NioTransport) RemoteCapability() any { return t.remoteCap.Load() }

// SetRemoteCapability installs the handshake result. It is read-only for
// every caller other than the code performing the handshake.
func (t *NioTransport) SetRemoteCapability(c any) { t.remoteCap.Store(c) }

// IsAborted reports whether the transport has reached its terminal state.
func (t *NioTransport) IsAborted() bool { return t.aborted.Load() }

// WriteBlock slices packet into chunks of at most frameSize bytes, each
// prefixed with a ChunkHeader, and writes them to the egress buffer. It
// may block under back-pressure when the egress buffer is full; this is
// deliberate (spec §4.4).
func (t *NioTransport) WriteBlock(packet []byte) error {
	return t.WriteBlockContext(context.Background(), packet)
}

// WriteBlockContext is WriteBlock with cancellation: a cancelled ctx
// translates a blocked write into ErrInterrupted.
func (t *NioTransport) WriteBlockContext(ctx context.Context, packet []byte) error {
	if t.IsAborted() {
		return ErrTransportAborted
	}
	pos := 0
	for {
		frame := len(packet) - pos
		if frame > t.frameSize {
			frame = t.frameSize
		}
		hasMore := pos+frame < len(packet)

		var hdr [chunkHeaderLen]byte
		packChunkHeader(hdr[:], frame, !hasMore)
		if _, err := t.wb.WriteContext(ctx, hdr[:]); err != nil {
			return t.translateWriteErr(err)
		}
		if frame > 0 {
			if _, err := t.wb.WriteContext(ctx, packet[pos:pos+frame]); err != nil {
				return t.translateWriteErr(err)
			}
		}
		t.hub.requestReregister(t)
		pos += frame
		if !hasMore {
			break
		}
	}
	return nil
}

func (t *NioTransport) translateWriteErr(err error) error {
	switch err {
	case ErrBufferClosed:
		t.abort(ErrTransportAborted)
		return ErrTransportAborted
	case ErrInterrupted:
		return ErrInterrupted
	default:
		return err
	}
}

// wantsToRead / wantsToWrite compute the selector registration intents
// from buffer state (spec §4.4), evaluated on the selector thread only.
func (t *NioTransport) wantsToRead() bool {
	return t.getReceiver() != nil && t.ropen.Load() && t.rb.Writable() > 0
}

func (t *NioTransport) wantsToWrite() bool {
	return t.wopen.Load() && t.wb.Readable() > 0
}

// closeWrite closes the egress buffer; no further packets may be
// submitted. The selector loop observes wb.Readable() < 0 once drained
// and then shuts the underlying write end via closeWriteEnd.
func (t *NioTransport) closeWrite() {
	t.wb.Close(nil)
}

// CloseWrite is the public half-close: application code calls this when
// it has no more packets to send.
func (t *NioTransport) CloseWrite() {
	t.closeWrite()
	t.hub.requestReregister(t)
}

// closeWriteEnd is selector-thread-only: it shuts the underlying write
// descriptor once the egress buffer has fully drained and closed.
func (t *NioTransport) closeWriteEnd() {
	if !t.wopen.CompareAndSwap(true, false) {
		return
	}
	switch t.kind {
	case kindMono:
		if hc, ok := t.mono.(halfCloser); ok {
			_ = hc.CloseWrite()
		} else if !t.ropen.Load() {
			_ = t.mono.Close()
		}
	case kindDual:
		_ = t.dualW.Close()
	}
}

// CloseRead requests a read-side half-close. Per spec §4.4 this is
// deferred to the selector thread, since only it may touch selectable
// state; it enqueues a selector task that closes the read stream and the
// ingress buffer (signalling EOF to consumers).
func (t *NioTransport) CloseRead() {
	t.readInitiatedLocal.Store(true)
	t.hub.enqueueSelectorTask(func() { t.closeReadEnd() })
}

// closeReadEnd is selector-thread-only.
func (t *NioTransport) closeReadEnd() {
	if !t.ropen.CompareAndSwap(true, false) {
		return
	}
	switch t.kind {
	case kindMono:
		if hc, ok := t.mono.(halfCloser); ok {
			_ = hc.CloseRead()
		} else if !t.wopen.Load() {
			_ = t.mono.Close()
		}
	case kindDual:
		_ = t.dualR.Close()
	}
	t.rb.Close(io.EOF)
}

// abort is terminal: both ends are closed best-effort, pending tasks in
// the single-lane executor are released, and the receiver is notified via
// Terminate. Idempotent: a second call is a no-op. The notify itself shares
// terminateOnce with parseAndDispatch's peer-EOF path, so Terminate fires
// exactly once overall regardless of which path gets there first.
func (t *NioTransport) abort(cause error) {
	t.abortOnce.Do(func() {
		t.aborted.Store(true)
		t.rb.Close(cause)
		t.wb.Close(cause)
		if t.ropen.CompareAndSwap(true, false) {
			switch t.kind {
			case kindMono:
				_ = t.mono.Close()
			case kindDual:
				_ = t.dualR.Close()
			}
		}
		if t.wopen.CompareAndSwap(true, false) {
			if t.kind == kindDual {
				_ = t.dualW.Close()
			}
		}
		t.hub.cancelKey(t)
		t.lane.Drain()
		r := t.getReceiver()
		if r != nil {
			t.terminateOnce.Do(func() {
				// The lane is stopped by now, so the notify goes to the
				// shared pool directly.
				if !t.hub.pool().submit(func() { r.Terminate(cause) }) {
					// Pool already shutting down: nothing left to notify through.
					r.Terminate(cause)
				}
			})
		}
	})
}

// Abort exposes abort for callers outside the selector loop (e.g. a
// higher layer detecting a protocol violation it wants this transport to
// die from).
func (t *NioTransport) Abort(cause error) { t.abort(cause) }

// readSource/writeSink return the Readable/Writable view the selector
// loop pulls from or pushes into for this transport's current variant.
func (t *NioTransport) readSource() Readable {
	if t.kind == kindMono {
		return t.mono
	}
	return t.dualR
}

func (t *NioTransport) writeSink() Writable {
	if t.kind == kindMono {
		return t.mono
	}
	return t.dualW
}

// selectables returns the distinct Selectable handles this transport
// registers with the poller: one for Mono, up to two for Dual.
func (t *NioTransport) selectables() []Selectable {
	if t.kind == kindMono {
		return []Selectable{t.mono}
	}
	out := make([]Selectable, 0, 2)
	if t.dualR != nil {
		out = append(out, t.dualR)
	}
	if t.dualW != nil && t.dualW != any(t.dualR) {
		out = append(out, t.dualW)
	}
	return out
}

// peekPacket walks the ingress buffer without consuming it, looking for a
// complete packet: a chain of chunks ending in isLast. It returns the
// packet's total payload length and whether a complete packet was found.
func (t *NioTransport) peekPacket() (bodyLen int64, complete bool) {
	var hdr [chunkHeaderLen]byte
	offset := 0
	for {
		n := t.rb.Peek(offset, hdr[:])
		if n < chunkHeaderLen {
			return 0, false
		}
		length, last := parseChunkHeader(hdr[:])
		offset += chunkHeaderLen + length
		bodyLen += int64(length)
		if last {
			if int64(offset) > t.rb.Readable() {
				// The last chunk's body has not fully arrived yet.
				return 0, false
			}
			return bodyLen, true
		}
	}
}

// drainPacket consumes exactly one complete packet (already confirmed
// present by peekPacket) from the ingress buffer chunk-by-chunk,
// re-reading each header with ReadNonBlocking to advance past it.
func (t *NioTransport) drainPacket(bodyLen int64) []byte {
	packet := make([]byte, bodyLen)
	pos := int64(0)
	var hdr [chunkHeaderLen]byte
	for {
		t.rb.ReadNonBlocking(hdr[:])
		length, last := parseChunkHeader(hdr[:])
		if length > 0 {
			t.rb.ReadNonBlocking(packet[pos : pos+int64(length)])
			pos += int64(length)
		}
		if last {
			return packet
		}
	}
}

// parseAndDispatch is the selector-thread-only inbound path (spec §4.4):
// after rb.Receive has pulled as many bytes as possible from the kernel,
// repeatedly peek for complete packets and submit each to the single-lane
// executor. A zero-length packet is silently discarded rather than
// delivered to Handle.
//
// Because the poller is level-triggered, a closed-but-still-registered
// ingress fd keeps reporting readiness on every subsequent pass; the
// peer-EOF notify below is guarded by terminateOnce so a repeat pass never
// redelivers Terminate.
func (t *NioTransport) parseAndDispatch() {
	for {
		bodyLen, complete := t.peekPacket()
		if !complete {
			break
		}
		packet := t.drainPacket(bodyLen)
		if len(packet) == 0 {
			continue
		}
		r := t.getReceiver()
		if r == nil {
			continue
		}
		if !t.lane.Submit(func() { r.Handle(packet) }) {
			t.abort(ErrExecutionRejected)
			return
		}
	}

	if t.rb.Writable() == 0 && t.rb.Readable() > 0 {
		// Wedged: not enough room to receive more, yet not enough
		// buffered to complete parsing any one command.
		t.abort(ErrOverflow)
		return
	}

	if t.rb.IsClosed() {
		r := t.getReceiver()
		if r != nil && !t.readInitiatedLocal.Load() {
			t.terminateOnce.Do(func() {
				t.lane.Submit(func() { r.Terminate(io.EOF) })
			})
		}
	}
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// bufferState is the small lattice a FifoBuffer's lifecycle moves through,
// monotonically: open -> closed. The intervening "close requested but not
// yet applied" instant is covered by closeReq below, a separate lock-free
// flag a blocked writer/reader can observe without the monitor, rather
// than by a third value of this state itself — Close sets both in the same
// call, so state never actually rests at a third value.
type bufferState uint8

const (
	bufferOpen bufferState = iota
	bufferClosed
)

// writerBlockedPoll bounds how long a blocked Write waits on the condition
// variable between re-checks of the buffer state and the caller's context,
// so a cooperating close or cancellation is observed promptly (spec §4.2).
const writerBlockedPoll = 100 * time.Millisecond

// FifoBuffer is an unbounded-growth, bounded-capacity, single-producer /
// single-consumer byte FIFO built from a lazy linked list of fixed-size
// pages. It is the substrate shared between a ChannelHub's selector loop
// (which fills the read buffer and drains the write buffer against the
// kernel) and command-processing workers (which drain the read buffer and
// fill the write buffer).
type FifoBuffer struct {
	mu   *sync.Mutex
	cond *sync.Cond

	pageSize int
	limit    int64
	sz       int64

	r pointer
	w pointer

	state      bufferState
	closeReq   atomic.Bool // observable lock-free, per spec §4.2
	closeCause error
}

// NewFifoBuffer constructs a FifoBuffer with the given page size and
// capacity. guard, if non-nil, lets the caller couple the buffer's
// condition variable with its own locking; a nil guard makes the buffer
// serve as its own monitor.
func NewFifoBuffer(pageSize int, limit int64, guard *sync.Mutex) *FifoBuffer {
	if pageSize <= 0 {
		pageSize = 16 * 1024
	}
	if guard == nil {
		guard = &sync.Mutex{}
	}
	first := newPage(pageSize)
	fb := &FifoBuffer{
		mu:       guard,
		pageSize: pageSize,
		limit:    limit,
	}
	fb.cond = sync.NewCond(guard)
	fb.r = pointer{pageSize: pageSize, p: first}
	fb.w = pointer{pageSize: pageSize, p: first}
	return fb
}

// readable returns sz if sz > 0, -1 if closed and drained, else 0.
func (fb *FifoBuffer) readable() int64 {
	if fb.sz > 0 {
		return fb.sz
	}
	if fb.state == bufferClosed {
		return -1
	}
	return 0
}

// Readable reports how many unread bytes are buffered, or -1 once the
// buffer is closed and fully drained. Must be called while not holding the
// lock; it takes it internally.
func (fb *FifoBuffer) Readable() int64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.readable()
}

// writable returns max(0, limit-sz) while open, 0 once closed.
func (fb *FifoBuffer) writable() int64 {
	if fb.state != bufferOpen {
		return 0
	}
	w := fb.limit - fb.sz
	if w < 0 {
		return 0
	}
	return w
}

// Writable reports how many more bytes may currently be appended.
func (fb *FifoBuffer) Writable() int64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.writable()
}

// IsClosed reports whether the buffer has reached the terminal Closed
// state (drained after close).
func (fb *FifoBuffer) IsClosed() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.readable() < 0
}

// SetLimit changes the capacity cap and wakes all waiters so that
// previously blocked writers may proceed.
func (fb *FifoBuffer) SetLimit(limit int64) {
	fb.mu.Lock()
	fb.limit = limit
	fb.cond.Broadcast()
	fb.mu.Unlock()
}

// Write blocks until all of b has been appended or the buffer closes
// mid-write, in which case it returns a short count and ErrBufferClosed.
// While blocked it polls the condition on a bounded interval so a
// close-requested transition is observed promptly even without a wakeup.
func (fb *FifoBuffer) Write(b []byte) (int, error) {
	return fb.WriteContext(context.Background(), b)
}

// WriteContext is Write with cancellation: if ctx is done while blocked,
// it returns a short count and ErrInterrupted, the Go analogue of Java's
// InterruptedIOException with the interrupt flag preserved. Cancellation
// is observed on the same bounded poll interval used for closeRequested.
func (fb *FifoBuffer) WriteContext(ctx context.Context, b []byte) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	written := 0
	for written < len(b) {
		for fb.writable() == 0 {
			if fb.state != bufferOpen {
				return written, ErrBufferClosed
			}
			if err := ctx.Err(); err != nil {
				return written, ErrInterrupted
			}
			fb.waitBounded()
		}
		if fb.state != bufferOpen {
			return written, ErrBufferClosed
		}
		if err := ctx.Err(); err != nil {
			return written, ErrInterrupted
		}
		room := fb.writable()
		n := int64(len(b) - written)
		if n > room {
			n = room
		}
		written += fb.appendLocked(b[written : int64(written)+n])
		fb.cond.Broadcast()
	}
	return written, nil
}

// waitBounded waits on the condition variable for at most
// writerBlockedPoll, guaranteeing the caller re-checks its loop condition
// promptly rather than hanging indefinitely on a missed signal.
func (fb *FifoBuffer) waitBounded() {
	timer := time.AfterFunc(writerBlockedPoll, func() {
		fb.mu.Lock()
		fb.cond.Broadcast()
		fb.mu.Unlock()
	})
	fb.cond.Wait()
	timer.Stop()
}

// appendLocked copies b into the page chain and advances sz; caller holds mu.
func (fb *FifoBuffer) appendLocked(b []byte) int {
	n := 0
	for n < len(b) {
		n += fb.w.putFrom(b[n:])
	}
	fb.sz += int64(len(b))
	return len(b)
}

// WriteNonBlock writes at most Writable() bytes from b and returns the
// count, possibly zero; it never blocks.
func (fb *FifoBuffer) WriteNonBlock(b []byte) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.state != bufferOpen {
		return 0
	}
	room := fb.writable()
	if room == 0 {
		return 0
	}
	n := int64(len(b))
	if n > room {
		n = room
	}
	written := fb.appendLocked(b[:n])
	if written > 0 {
		fb.cond.Broadcast()
	}
	return written
}

// Read blocks until at least one byte can be delivered, or returns
// (0, ErrBufferClosed) if the buffer is closed and empty. len(b) == 0 is
// the only case that returns (0, nil), without blocking.
func (fb *FifoBuffer) Read(b []byte) (int, error) {
	return fb.ReadContext(context.Background(), b)
}

// ReadContext is Read with cancellation: if ctx is done while blocked, it
// returns (0, ErrInterrupted) with the interrupt flag preserved.
func (fb *FifoBuffer) ReadContext(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for fb.sz == 0 {
		if fb.state == bufferClosed {
			return 0, ErrBufferClosed
		}
		if err := ctx.Err(); err != nil {
			return 0, ErrInterrupted
		}
		fb.waitBounded()
	}
	n := fb.drainLocked(b)
	return n, nil
}

// ReadNonBlocking drains as many bytes as are currently available without
// blocking: what it read, 0 if nothing, or (0, ErrBufferClosed) when closed
// and empty.
func (fb *FifoBuffer) ReadNonBlocking(b []byte) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.sz == 0 {
		if fb.state == bufferClosed {
			return 0, ErrBufferClosed
		}
		return 0, nil
	}
	return fb.drainLocked(b), nil
}

// drainLocked copies up to len(b) buffered bytes out, advancing the read
// cursor and releasing fully-consumed pages; caller holds mu.
func (fb *FifoBuffer) drainLocked(b []byte) int {
	want := int64(len(b))
	if want > fb.sz {
		want = fb.sz
	}
	got := 0
	for int64(got) < want {
		got += fb.r.getInto(b[got:want])
	}
	fb.sz -= int64(got)
	fb.releaseConsumedPages()
	return got
}

// releaseConsumedPages drops pages the read cursor has fully passed and
// that the write cursor no longer references, letting the garbage
// collector reclaim them instead of the page chain growing unbounded.
func (fb *FifoBuffer) releaseConsumedPages() {
	for fb.r.off >= fb.pageSize && fb.r.p != fb.w.p && fb.r.p.next != nil {
		fb.r.p = fb.r.p.next
		fb.r.off = 0
	}
}

// Peek copies up to len(b) bytes starting offset bytes past the read
// cursor, without advancing it. Returns the count actually copied (0 if
// offset lies beyond the readable region). Never blocks, never negative.
func (fb *FifoBuffer) Peek(offset int, b []byte) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	avail := fb.sz - int64(offset)
	if avail <= 0 {
		return 0
	}
	if int64(len(b)) > avail {
		b = b[:avail]
	}
	return fb.r.peekInto(offset, b)
}

// Receive loops pulling bytes from src into the write cursor until src
// reports ErrWouldBlock (drained for now), io.EOF or another error (the
// peer direction is gone: the buffer is closed, and Receive returns
// (-1, err) if this call read nothing, otherwise the count and a nil
// error), or Writable() reaches zero. It is the selector thread's only way to fill a FifoBuffer
// and must never block.
func (fb *FifoBuffer) Receive(src Readable) (int, error) {
	total := 0
	for {
		fb.mu.Lock()
		room := fb.writable()
		if room == 0 {
			fb.mu.Unlock()
			return total, nil
		}
		max := fb.pageSize
		if room < int64(max) {
			max = int(room)
		}
		rn, err := fb.w.receiveOnce(src, max)
		if rn > 0 {
			fb.sz += int64(rn)
			fb.cond.Broadcast()
		}
		fb.mu.Unlock()

		if rn > 0 {
			total += rn
		}
		if err != nil {
			if err == ErrWouldBlock {
				return total, nil
			}
			// EOF or hard I/O failure: the peer direction is gone.
			fb.Close(err)
			if total == 0 {
				return -1, err
			}
			return total, nil
		}
		if rn == 0 {
			return total, nil
		}
	}
}

// Send loops pushing bytes from the read cursor into dst until
// Readable() <= 0 or dst accepts zero bytes. On a closed dst it closes the
// buffer and returns -1. It is the dual of Receive and must never block.
func (fb *FifoBuffer) Send(dst Writable) (int, error) {
	total := 0
	for {
		fb.mu.Lock()
		if fb.readable() <= 0 {
			fb.mu.Unlock()
			return total, nil
		}
		max := fb.pageSize
		if fb.sz < int64(max) {
			max = int(fb.sz)
		}
		wn, err := fb.r.sendOnce(dst, max)
		if wn > 0 {
			fb.sz -= int64(wn)
			fb.releaseConsumedPages()
		}
		fb.mu.Unlock()

		if wn > 0 {
			total += wn
		}
		if err != nil {
			if err == ErrWouldBlock {
				return total, nil
			}
			fb.Close(err)
			return -1, err
		}
		if wn == 0 {
			return total, nil
		}
	}
}

// Close is idempotent and non-blocking. It first flips closeRequested
// (observable without the lock, so blocked writers/readers wake and
// observe the impending close), then under the lock marks the buffer
// Closed, notifies all waiters, and — if readable() < 0 — drops the page
// chain. cause, if non-nil, is recorded for diagnostics.
func (fb *FifoBuffer) Close(cause error) {
	fb.closeReq.Store(true)
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.state == bufferClosed {
		return
	}
	fb.state = bufferClosed
	if fb.closeCause == nil {
		fb.closeCause = cause
	}
	fb.cond.Broadcast()
	if fb.readable() < 0 {
		fb.r = pointer{}
		fb.w = pointer{}
	}
}

// CloseRequested reports the lock-free, write-once flag set by the first
// Close call, observable by blocked writers/readers without the monitor.
func (fb *FifoBuffer) CloseRequested() bool {
	return fb.closeReq.Load()
}

// CloseCause returns the error recorded by the first Close call, if any.
func (fb *FifoBuffer) CloseCause() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.closeCause
}

// ProducerStream wraps a FifoBuffer as an io.Writer-shaped producer byte
// stream: Write and Close. Its Write is FifoBuffer.Write, which takes no
// context, so a blocked write cannot be interrupted and never returns
// ErrInterrupted; it ends only when all bytes fit or the buffer closes.
type ProducerStream struct{ fb *FifoBuffer }

// NewProducerStream returns the producer-side byte stream view of fb.
func NewProducerStream(fb *FifoBuffer) *ProducerStream { return &ProducerStream{fb: fb} }

func (p *ProducerStream) Write(b []byte) (int, error) { return p.fb.Write(b) }
func (p *ProducerStream) Close() error                { p.fb.Close(nil); return nil }

// ConsumerStream wraps a FifoBuffer as an io.Reader-shaped consumer byte
// stream: Read only.
type ConsumerStream struct{ fb *FifoBuffer }

// NewConsumerStream returns the consumer-side byte stream view of fb.
func NewConsumerStream(fb *FifoBuffer) *ConsumerStream { return &ConsumerStream{fb: fb} }

func (c *ConsumerStream) Read(b []byte) (int, error) {
	n, err := c.fb.Read(b)
	if err == ErrBufferClosed {
		return n, io.EOF
	}
	return n, err
}

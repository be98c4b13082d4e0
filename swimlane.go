// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// swimLaneQueueCapacity bounds how many pending packets a single
// transport's lane may hold at once; while it is full, Submit retries with
// backoff until room frees up rather than reporting rejection. A command must be handled before the next one arrives in
// any reasonably-behaved client, so this is generous headroom rather
// than a throughput limit.
const swimLaneQueueCapacity = 256

// swimLane is a single-lane FIFO executor backed by the hub's shared
// workerPool: every task submitted to one lane runs strictly in
// submission order, on at most one worker goroutine at a time, even
// though the pool itself has many workers running many lanes concurrently
// (spec §5). It is grounded on the classic "MPSC queue plus a single
// active drainer" scheduling pattern, using lfq's MPSC queue for the
// lock-free backing store.
type swimLane struct {
	q       lfq.Queue[func()]
	pending atomic.Int64
	active  atomic.Bool
	stopped atomic.Bool
	pool    *workerPool
}

func newSwimLane(pool *workerPool) *swimLane {
	return &swimLane{
		q:    lfq.NewMPSC[func()](swimLaneQueueCapacity),
		pool: pool,
	}
}

// Submit enqueues task for FIFO execution on this lane. It returns false
// if the lane has been drained for shutdown or the shared pool rejected
// scheduling a drainer; the caller (NioTransport) treats false as cause
// to abort.
func (l *swimLane) Submit(task func()) bool {
	if l.stopped.Load() {
		return false
	}
	backoff := iox.Backoff{}
	for {
		if err := l.q.Enqueue(&task); err == nil {
			break
		} else if !lfq.IsWouldBlock(err) {
			return false
		}
		backoff.Wait()
	}
	if l.pending.Add(1) == 1 {
		return l.schedule()
	}
	return true
}

// schedule arranges for drain to run on the shared pool exactly once per
// idle-to-busy transition, retrying briefly under pool back-pressure
// before giving up.
func (l *swimLane) schedule() bool {
	if !l.active.CompareAndSwap(false, true) {
		return true
	}
	backoff := iox.Backoff{}
	for attempt := 0; attempt < 8; attempt++ {
		if l.pool.submit(l.drain) {
			return true
		}
		backoff.Wait()
	}
	l.active.Store(false)
	return false
}

// drain runs on a pool worker goroutine: it executes queued tasks in
// order until the pending count returns to zero, then releases the
// active flag. A Submit racing the release re-triggers scheduling via its
// own 0->1 transition, so no wakeup is lost.
func (l *swimLane) drain() {
	backoff := iox.Backoff{}
	for {
		task, err := l.q.Dequeue()
		if err != nil {
			backoff.Wait()
			continue
		}
		backoff.Reset()
		task()
		if l.pending.Add(-1) == 0 {
			l.active.Store(false)
			// A Submit that raised pending from 0 while active was still set
			// scheduled no drainer; take the lane back for it.
			if l.pending.Load() == 0 || !l.active.CompareAndSwap(false, true) {
				return
			}
		}
	}
}

// Drain discards every task still queued, without executing it, and
// permanently stops the lane. It is used by NioTransport.abort, where
// pending packets are no longer deliverable. A task already running on a
// worker is not waited for, so Drain may be called from inside a lane task.
//
// Setting stopped first guarantees Submit will enqueue nothing further, so
// it is safe to tell the underlying MPSC queue itself to drain: per its
// own documented graceful-shutdown protocol, its FAA-based threshold
// mechanism can otherwise make Dequeue report ErrWouldBlock while items
// still remain, which would spin this loop forever instead of converging.
func (l *swimLane) Drain() {
	l.stopped.Store(true)
	if d, ok := l.q.(lfq.Drainer); ok {
		d.Drain()
	}
	for {
		if _, err := l.q.Dequeue(); err != nil {
			break
		}
		l.pending.Add(-1)
	}
	l.active.Store(false)
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"context"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"golang.org/x/sync/errgroup"
)

// workerPool is the command-processor pool a ChannelHub shares across every
// transport's single-lane executor (spec §5 "single-lane FIFO atop a
// shared pool"). Workers pull closures from a lock-free MPMC queue;
// errgroup supervises worker lifecycle and shutdown.
type workerPool struct {
	q      lfq.Queue[func()]
	eg     *errgroup.Group
	cancel context.CancelFunc
}

// newWorkerPool starts size worker goroutines draining a queue of the
// given capacity (rounded up to a power of two by lfq).
func newWorkerPool(ctx context.Context, size, capacity int) *workerPool {
	ctx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(ctx)
	p := &workerPool{
		q:      lfq.NewMPMC[func()](capacity),
		eg:     eg,
		cancel: cancel,
	}
	for i := 0; i < size; i++ {
		eg.Go(func() error {
			p.workerLoop(egCtx)
			return nil
		})
	}
	return p
}

func (p *workerPool) workerLoop(ctx context.Context) {
	backoff := iox.Backoff{}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		task, err := p.q.Dequeue()
		if err != nil {
			backoff.Wait()
			continue
		}
		backoff.Reset()
		task()
	}
}

// submit enqueues fn for execution on some worker goroutine. It never
// blocks: a full queue is reported as rejection so the caller can fall
// back to synchronous execution or abort, per its own policy.
func (p *workerPool) submit(fn func()) bool {
	err := p.q.Enqueue(&fn)
	return err == nil
}

// stop cancels all worker goroutines and waits for them to exit.
func (p *workerPool) stop() {
	p.cancel()
	p.eg.Wait()
}

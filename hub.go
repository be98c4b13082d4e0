// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"context"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/lfq"
	"code.hybscloud.com/nio/internal/poller"
	"github.com/sirupsen/logrus"
)

const (
	// selectorTaskQueueCapacity bounds how many registration/reregistration
	// requests may be pending for the selector thread at once.
	selectorTaskQueueCapacity = 4096
	// commandProcessorPoolQueueCapacity bounds how many lane drain tasks
	// may wait for a worker at once before the shared pool starts
	// rejecting new work.
	commandProcessorPoolQueueCapacity = 8192
	// selectPollTimeoutMs bounds how long one selector pass blocks when
	// nothing is ready, so a Close request is noticed promptly even if the
	// wakeup eventfd write is somehow missed.
	selectPollTimeoutMs = 1000
)

// fdRole records, for one registered OS descriptor, which transport it
// belongs to and which of that transport's directions it serves. Mono
// transports register a single fd serving both; Dual transports register
// up to two, each serving one direction.
type fdRole struct {
	t     *NioTransport
	read  bool
	write bool
}

// transportReg is the selector-thread-owned registration record stashed
// in NioTransport.key once a transport has been added to the poller.
type transportReg struct {
	fds []int
}

// ChannelHub is the selector loop shared by every transport registered
// with it: one goroutine owns the epoll wait, dispatches readiness to
// FifoBuffer.Receive/Send, drives the chunk parser, and recomputes each
// transport's read/write interest after every pass (spec §5). Command
// processing itself happens off the selector thread, on the shared
// workerPool via each transport's single-lane executor.
type ChannelHub struct {
	poller  *poller.Poller
	workers *workerPool
	tasks   lfq.Queue[func()]

	mu    sync.Mutex
	byFd  map[int]*fdRole

	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
	fatal  atomic.Value
}

// NewChannelHub creates a hub with its own epoll instance and a
// poolSize-worker command-processor pool. log may be nil, in which case
// logrus's standard logger is used.
func NewChannelHub(log *logrus.Logger, poolSize int) (*ChannelHub, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &ChannelHub{
		poller:  p,
		workers: newWorkerPool(ctx, poolSize, commandProcessorPoolQueueCapacity),
		tasks:   lfq.NewMPSC[func()](selectorTaskQueueCapacity),
		byFd:    make(map[int]*fdRole),
		log:     log.WithField("component", "channel-hub"),
		ctx:     ctx,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}
	return h, nil
}

// pool exposes the shared command-processor pool to NioTransport, which
// hands it to each of its single-lane executors.
func (h *ChannelHub) pool() *workerPool { return h.workers }

// Start launches the selector thread. Call once per hub.
func (h *ChannelHub) Start() { go h.run() }

// Err returns whatever error killed the selector thread, or nil if it is
// still running or was stopped cleanly via Close.
func (h *ChannelHub) Err() error {
	if v := h.fatal.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close stops the selector thread and the command-processor pool, and
// releases the epoll instance. It blocks until the selector thread has
// actually exited.
func (h *ChannelHub) Close() error {
	h.cancel()
	h.poller.Wake()
	<-h.doneCh
	h.workers.stop()
	return h.poller.Close()
}

func (h *ChannelHub) run() {
	defer close(h.doneCh)
	events := make([]poller.Event, 0, 256)
	for {
		select {
		case <-h.ctx.Done():
			return
		default:
		}

		h.drainSelectorTasks()

		events = events[:0]
		var err error
		events, err = h.poller.Wait(events, selectPollTimeoutMs)
		if err != nil {
			h.log.WithError(err).Error("selector wait failed; selector thread exiting")
			h.fatal.Store(err)
			return
		}
		for _, ev := range events {
			h.handleEvent(ev)
		}
	}
}

// drainSelectorTasks runs every registration/reregistration request
// queued by non-selector goroutines since the last pass.
func (h *ChannelHub) drainSelectorTasks() {
	for {
		task, err := h.tasks.Dequeue()
		if err != nil {
			return
		}
		task()
	}
}

// enqueueSelectorTask schedules fn to run on the selector thread and
// wakes it immediately rather than waiting for the next timeout.
func (h *ChannelHub) enqueueSelectorTask(fn func()) {
	if err := h.tasks.Enqueue(&fn); err != nil {
		// Task queue saturated: run inline rather than silently drop a
		// registration request, at the cost of running off-thread just
		// this once.
		fn()
		return
	}
	h.poller.Wake()
}

// requestReregister asks the selector thread to (re)compute t's interest
// bits, registering it for the first time if necessary.
func (h *ChannelHub) requestReregister(t *NioTransport) {
	h.enqueueSelectorTask(func() {
		if t.IsAborted() {
			return
		}
		if t.key == nil {
			if err := h.register(t); err != nil {
				t.abort(err)
			}
			return
		}
		if t.wb.IsClosed() {
			// Egress closed and already drained: no write readiness will
			// arrive for handleEvent to shut the write end, so do it here.
			t.closeWriteEnd()
		}
		h.applyInterest(t)
	})
}

// register adds t's selectable descriptor(s) to the poller. Selector-
// thread-only.
func (h *ChannelHub) register(t *NioTransport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch t.kind {
	case kindMono:
		fd, err := fdOf(t.mono)
		if err != nil {
			return err
		}
		if err := h.poller.Add(fd, t.wantsToRead(), t.wantsToWrite()); err != nil {
			return err
		}
		h.byFd[fd] = &fdRole{t: t, read: true, write: true}
		t.key = &transportReg{fds: []int{fd}}
	case kindDual:
		rfd, err := fdOf(t.dualR)
		if err != nil {
			return err
		}
		wfd, err := fdOf(t.dualW)
		if err != nil {
			return err
		}
		if err := h.poller.Add(rfd, t.wantsToRead(), false); err != nil {
			return err
		}
		h.byFd[rfd] = &fdRole{t: t, read: true}
		if wfd == rfd {
			h.byFd[rfd].write = true
			t.key = &transportReg{fds: []int{rfd}}
		} else {
			if err := h.poller.Add(wfd, false, t.wantsToWrite()); err != nil {
				return err
			}
			h.byFd[wfd] = &fdRole{t: t, write: true}
			t.key = &transportReg{fds: []int{rfd, wfd}}
		}
	}
	return nil
}

// applyInterest recomputes and pushes t's current want-read/want-write
// bits for every fd it owns. Selector-thread-only.
func (h *ChannelHub) applyInterest(t *NioTransport) {
	reg, ok := t.key.(*transportReg)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, fd := range reg.fds {
		role, ok := h.byFd[fd]
		if !ok {
			continue
		}
		wantRead := role.read && t.wantsToRead()
		wantWrite := role.write && t.wantsToWrite()
		_ = h.poller.Modify(fd, wantRead, wantWrite)
	}
}

// cancelKey removes every fd t owns from the poller and the hub's
// bookkeeping. Safe to call from any goroutine; defers the actual work to
// the selector thread.
func (h *ChannelHub) cancelKey(t *NioTransport) {
	h.enqueueSelectorTask(func() {
		reg, ok := t.key.(*transportReg)
		if !ok {
			return
		}
		h.mu.Lock()
		for _, fd := range reg.fds {
			delete(h.byFd, fd)
			_ = h.poller.Remove(fd)
		}
		h.mu.Unlock()
	})
}

// handleEvent dispatches one readiness notification to its transport.
// Selector-thread-only.
func (h *ChannelHub) handleEvent(ev poller.Event) {
	h.mu.Lock()
	role, ok := h.byFd[ev.Fd]
	h.mu.Unlock()
	if !ok {
		return
	}
	t := role.t
	if t.IsAborted() {
		return
	}

	if role.read && (ev.Readable || ev.HangUp || ev.Error) {
		if _, err := t.rb.Receive(t.readSource()); err != nil {
			h.log.WithError(err).Debug("ingress read failed")
		}
		t.parseAndDispatch()
	}
	if t.IsAborted() {
		return
	}
	if t.rb.IsClosed() {
		t.closeReadEnd()
	}

	if role.write && (ev.Writable || ev.Error) {
		if _, err := t.wb.Send(t.writeSink()); err != nil {
			h.log.WithError(err).Debug("egress write failed")
		}
	}
	if t.IsAborted() {
		return
	}
	if t.wb.IsClosed() {
		t.closeWriteEnd()
	}

	if !t.ropen.Load() && !t.wopen.Load() {
		t.abort(t.rb.CloseCause())
		return
	}
	h.applyInterest(t)
}

// fdOf extracts the raw OS descriptor backing s, the one piece of
// unavoidable platform-specific plumbing needed to hand a Go-level
// net.Conn or *os.File to the epoll-based poller.
func fdOf(s Selectable) (int, error) {
	rc, err := s.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := rc.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}

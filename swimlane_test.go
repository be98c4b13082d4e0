package nio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSwimLane(t *testing.T) (*swimLane, *workerPool) {
	t.Helper()
	pool := newWorkerPool(t.Context(), 4, 64)
	t.Cleanup(pool.stop)
	return newSwimLane(pool), pool
}

func TestSwimLaneRunsTasksInSubmissionOrder(t *testing.T) {
	lane, _ := newTestSwimLane(t)

	const n = 200
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		if !lane.Submit(func() {
			mu.Lock()
			order = append(order, i)
			if len(order) == n {
				close(done)
			}
			mu.Unlock()
		}) {
			t.Fatalf("Submit(%d) rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lane never drained all submitted tasks")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("execution order[%d] = %d, want %d (lane must preserve FIFO order)", i, v, i)
		}
	}
}

func TestSwimLaneNeverRunsTwoTasksConcurrently(t *testing.T) {
	lane, _ := newTestSwimLane(t)

	const n = 500
	var running atomic.Bool
	var violations atomic.Int32
	var completed atomic.Int32
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		if !lane.Submit(func() {
			if !running.CompareAndSwap(false, true) {
				violations.Add(1)
			}
			time.Sleep(time.Microsecond)
			running.Store(false)
			if completed.Add(1) == n {
				close(done)
			}
		}) {
			t.Fatalf("Submit rejected at task %d", i)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lane never drained all submitted tasks")
	}

	if v := violations.Load(); v != 0 {
		t.Fatalf("detected %d instance(s) of concurrent execution within one lane", v)
	}
}

func TestSwimLaneDrainDiscardsPendingWithoutRunningThem(t *testing.T) {
	lane, _ := newTestSwimLane(t)

	var ran atomic.Bool
	block := make(chan struct{})
	lane.Submit(func() { <-block }) // occupies the drainer so the rest pile up
	for i := 0; i < 10; i++ {
		lane.Submit(func() { ran.Store(true) })
	}

	lane.Drain()
	close(block)
	time.Sleep(20 * time.Millisecond)

	if ran.Load() {
		t.Fatal("Drain must discard queued tasks rather than let them run")
	}
	if lane.Submit(func() {}) {
		t.Fatal("a drained lane must reject further submissions")
	}
}

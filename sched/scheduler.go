// Package sched implements the runtime's worker pool: N workers each
// owning a local FIFO run-queue, round-robin dispatch binding a task to
// a queue on first enqueue, and a periodic reaper that evicts the
// bindings of completed tasks under a stop-the-world exclusive lock.
//
// The queue and locking shape is adapted from the teacher's eventloop
// submission path (ChunkedIngress per loop, generalized here to N
// independent loops coordinated by one binding map) rather than copied
// wholesale, since the teacher itself runs a single loop per goroutine
// and has no cross-loop binding or reaper concept.
package sched

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/acpass/coroio/logging"
)

// Continuation is a queued resume action. Identical in shape to
// task.Continuation and timer.Continuation; kept distinct to avoid an
// import cycle (task imports nothing from sched, sched never imports
// task — callers adapt with a plain closure).
type Continuation func()

var log = logging.For(logging.CategoryScheduler)

// reapThreshold is the soft binding-map size that triggers an
// out-of-cycle reap, bounding memory between periodic sweeps per
// spec.md's known-limitation note on the binding map growing
// unboundedly.
const reapThreshold = 10000

// defaultReapInterval is the periodic reaper cadence.
const defaultReapInterval = 30 * time.Second

// Scheduler is a fixed pool of workers, each with its own run-queue,
// plus the shared binding map and stop-the-world lock the reaper uses.
type Scheduler struct {
	workers []*worker

	bindMu  sync.Mutex
	binding map[*binding]int // continuation identity -> worker index
	next    int              // round-robin cursor, guarded by bindMu

	// swLock is the stop-the-world lock: workers hold it in shared mode
	// while executing a continuation; the reaper holds it exclusively
	// while scanning and evicting. It is a plain sync.RWMutex, which is
	// not reader-preferring: once the reaper is waiting in Lock, a
	// worker's TryRLock fails until the reaper has finished.
	swLock sync.RWMutex

	reapInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// binding is the identity token associating a live continuation with
// its bound worker. Completed bindings are marked done by whichever
// party observes the continuation finishing (see MarkDone); the reaper
// evicts them later.
type binding struct {
	mu   sync.Mutex
	done bool
}

// Binding is the exported name for the opaque identity token Spawn
// returns; callers outside the package hold and pass it back by this
// name but cannot construct one directly.
type Binding = binding

// Done reports whether the bound task has finished.
func (b *binding) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// MarkDone flags the binding as eligible for reaping. Safe to call more
// than once or concurrently.
func (b *binding) MarkDone() {
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
}

// New returns a Scheduler with workerCount workers (at least 1),
// defaulting to runtime.NumCPU()-1 when workerCount <= 0, matching
// spec.md's N = hardware concurrency - 1 default.
func New(workerCount int) *Scheduler {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU() - 1
	}
	if workerCount < 1 {
		workerCount = 1
	}

	s := &Scheduler{
		binding:      make(map[*binding]int),
		reapInterval: defaultReapInterval,
		stopCh:       make(chan struct{}),
	}
	s.workers = make([]*worker, workerCount)
	for i := range s.workers {
		s.workers[i] = newWorker(s, i)
	}
	for _, w := range s.workers {
		go w.run()
	}
	return s
}

// WorkerCount returns the number of workers in the pool.
func (s *Scheduler) WorkerCount() int { return len(s.workers) }

// Spawn binds c to a worker queue (assigning one round-robin if c has
// no existing binding) and wakes one waiter on that queue.
//
// bind, when non-nil, is the existing binding to reuse so subsequent
// enqueues of the same task land on the same worker (spec.md's binding
// stability rule); pass nil to create a fresh binding for a brand-new
// task.
func (s *Scheduler) Spawn(bind *binding, c Continuation) *binding {
	s.bindMu.Lock()
	idx, ok := s.binding[bind]
	if bind == nil || !ok {
		bind = &binding{}
		idx = s.next
		s.next = (s.next + 1) % len(s.workers)
		s.binding[bind] = idx
	}
	bindingCount := len(s.binding)
	s.bindMu.Unlock()

	s.workers[idx].push(c)

	if bindingCount >= reapThreshold {
		go s.Reap()
	}
	return bind
}

// Yield re-enqueues the calling continuation onto its own bound queue
// and returns; callers use this from inside a running task to
// cooperatively yield to the scheduler.
func (s *Scheduler) Yield(bind *binding, resume Continuation) {
	s.Spawn(bind, resume)
}

// Enter runs the reaper loop on the calling goroutine until ctx is
// done. It periodically stops the world, scans the binding map for
// completed bindings, and evicts them.
func (s *Scheduler) Enter(ctx context.Context) {
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}

// Reap performs one stop-the-world sweep, evicting completed bindings.
// Safe to call concurrently; only one sweep proceeds at a time because
// it holds swLock exclusively.
func (s *Scheduler) Reap() {
	s.swLock.Lock()
	defer s.swLock.Unlock()

	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	evicted := 0
	for b := range s.binding {
		if b.Done() {
			delete(s.binding, b)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug().Str("component", "reaper").Log("evicted completed bindings")
	}
}

// Stop signals all workers and the reaper to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		for _, w := range s.workers {
			w.stop()
		}
	})
}

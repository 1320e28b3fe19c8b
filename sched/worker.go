package sched

import (
	"runtime"
	"sync"
)

// worker owns one run-queue and the mutex/condvar pair guarding it, per
// spec.md's locking discipline: an empty queue parks the worker on its
// condvar; on wakeup it re-checks emptiness and re-acquires the shared
// scheduling lock via TryRLock. If that fails (the reaper holds or is
// waiting for the lock) it does not execute the continuation: it pushes
// it back onto the tail of its queue and loops.
type worker struct {
	sched *Scheduler
	index int

	mu      sync.Mutex
	cond    *sync.Cond
	q       runQueue
	stopped bool
}

func newWorker(s *Scheduler, index int) *worker {
	w := &worker{sched: s, index: index}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worker) push(c Continuation) {
	w.mu.Lock()
	w.q.push(c)
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *worker) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *worker) run() {
	for {
		w.mu.Lock()
		for w.q.Len() == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped && w.q.Len() == 0 {
			w.mu.Unlock()
			return
		}
		c, ok := w.q.pop()
		w.mu.Unlock()
		if !ok {
			continue
		}

		// Re-acquire the shared scheduling lock; if the reaper holds it
		// exclusively, bail out without executing rather than block and
		// risk a deadlock between a signaling producer and the reaper.
		if !w.sched.swLock.TryRLock() {
			// Requeue so the continuation is not lost, then back off
			// briefly for the reaper to finish.
			w.push(c)
			runtime.Gosched()
			continue
		}
		runContinuation(c)
		w.sched.swLock.RUnlock()
	}
}

func runContinuation(c Continuation) {
	defer func() { _ = recover() }()
	c()
}

package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRunsContinuation(t *testing.T) {
	s := New(2)
	defer s.Stop()

	done := make(chan struct{})
	s.Spawn(nil, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("continuation never ran")
	}
}

func TestSpawnBindingStableAcrossEnqueues(t *testing.T) {
	s := New(4)
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(5)
	record := func() { wg.Done() }

	var first, bind *binding
	for i := 0; i < 5; i++ {
		bind = s.Spawn(bind, record)
		if first == nil {
			first = bind
		}
		assert.Same(t, first, bind)
	}
	wg.Wait()
	assert.NotNil(t, bind)
}

func TestYieldReturnsToSameQueue(t *testing.T) {
	s := New(2)
	defer s.Stop()

	var count atomic.Int32
	done := make(chan struct{})
	bound := make(chan struct{})

	var bind *binding
	var step Continuation
	step = func() {
		<-bound // bind is assigned before any step reads it
		if count.Add(1) >= 3 {
			close(done)
			return
		}
		s.Yield(bind, step)
	}
	bind = s.Spawn(nil, step)
	close(bound)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("yield chain never completed")
	}
	assert.GreaterOrEqual(t, count.Load(), int32(3))

	// every yield reused the original binding, so no second binding
	// (and no second queue) was ever assigned
	s.bindMu.Lock()
	_, ok := s.binding[bind]
	n := len(s.binding)
	s.bindMu.Unlock()
	assert.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestReapEvictsCompletedBindings(t *testing.T) {
	s := New(1)
	defer s.Stop()

	done := make(chan struct{})
	bind := s.Spawn(nil, func() {})
	bind.MarkDone()
	close(done)
	<-done

	s.Reap()

	s.bindMu.Lock()
	_, ok := s.binding[bind]
	s.bindMu.Unlock()
	assert.False(t, ok)
}

func TestEnterStopsOnContextCancel(t *testing.T) {
	s := New(1)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	s.reapInterval = time.Millisecond
	exited := make(chan struct{})
	go func() {
		s.Enter(ctx)
		close(exited)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-exited:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

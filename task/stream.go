package task

import (
	"context"
	"fmt"
	"sync"
)

// Stream is a generator-style task: a goroutine-backed producer that
// yields zero or more values of T before ending, rather than settling
// once with a single result.
type Stream[T any] struct {
	mu      sync.Mutex
	value   T
	err     error
	ended   bool
	ready   chan struct{} // signalled each time a new value/end is available
	consume chan struct{} // signalled by the consumer to request the next value
	once    sync.Once
}

// NewStream starts fn on a new goroutine. fn calls yield to deposit one
// value per resumption; yield blocks until the previous value has been
// consumed, so the producer never runs ahead of the reader.
func NewStream[T any](ctx context.Context, fn func(ctx context.Context, yield func(T) error) error) *Stream[T] {
	s := &Stream[T]{
		ready:   make(chan struct{}, 1),
		consume: make(chan struct{}, 1),
	}
	s.consume <- struct{}{} // first yield may proceed immediately

	go func() {
		defer s.finish()
		err := fn(ctx, func(v T) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.consume:
			}
			s.mu.Lock()
			s.value = v
			s.mu.Unlock()
			select {
			case s.ready <- struct{}{}:
			default:
			}
			return nil
		})
		// Hold the end back until the last yielded value has been
		// taken by Next, so ended never hides an unconsumed value.
		select {
		case <-s.consume:
		case <-ctx.Done():
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return s
}

func (s *Stream[T]) finish() {
	if r := recover(); r != nil {
		s.mu.Lock()
		s.err = fmt.Errorf("task: stream panic: %v", r)
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.once.Do(func() {
		select {
		case s.ready <- struct{}{}:
		default:
		}
	})
}

// Next blocks until the next value is produced, the stream ends, or ctx
// is cancelled. ended is true once fn has returned and no more values
// will arrive; in that case the returned error is fn's final error, if
// any.
func (s *Stream[T]) Next(ctx context.Context) (value T, ended bool, err error) {
	s.mu.Lock()
	alreadyEnded := s.ended
	s.mu.Unlock()
	if alreadyEnded {
		s.mu.Lock()
		defer s.mu.Unlock()
		var zero T
		return zero, true, s.err
	}

	select {
	case <-s.ready:
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}

	s.mu.Lock()
	v, ended, err := s.value, s.ended, s.err
	s.mu.Unlock()

	if !ended {
		select {
		case s.consume <- struct{}{}:
		default:
		}
	}
	return v, ended, err
}

// Package reactor implements the runtime's I/O reactor: an epoll
// readiness backend and an io_uring completion backend, both driving
// continuations registered by the netio package.
//
// The epoll backend is grounded on the teacher's FastPoller
// (poller_linux.go): direct fd-indexed registration table, inline
// dispatch, version-counter consistency check across the blocking
// syscall. The io_uring backend has no teacher equivalent (the teacher
// module never touches io_uring) and is instead grounded on the
// cloudwego-gopkg iouring package found in the retrieval pack: raw
// io_uring_setup/io_uring_enter via golang.org/x/sys/unix, mmap'd SQ/CQ
// rings walked by hand.
package reactor

import "context"

// Events is a bitmask of readiness conditions reported by the epoll
// backend. The io_uring backend does not use it: it reports raw
// completion results through CompletionFunc.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Callback is invoked with the observed events for an epoll
// registration, inline from the poll loop.
type Callback func(Events)

// Reactor is the backend-agnostic surface the scheduler's wait task (or
// completion-reaping task) drives, and netio registers against.
type Reactor interface {
	// Run drives the reactor until ctx is done, calling yield between
	// iterations. Within an iteration each backend blocks in its kernel
	// wait call (epoll: up to 10 ms; io_uring: until at least one
	// completion is available), and ctx is checked only between
	// iterations.
	Run(ctx context.Context, yield func())
	Close() error
}

//go:build linux

package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/acpass/coroio/errcode"
	"github.com/acpass/coroio/logging"
)

// maxFDs bounds the direct-indexed registration table, mirroring the
// teacher's FastPoller sizing.
const maxFDs = 65536

// waitCapacity is the maximum number of events drained per EpollWait
// call, per spec.md's "capacity <= 64 per wait".
const waitCapacity = 64

var epollLog = logging.For(logging.CategoryPoll)

var (
	ErrFDOutOfRange        = errors.New("reactor: fd out of range")
	ErrFDAlreadyRegistered = errors.New("reactor: fd already registered")
	ErrFDNotRegistered     = errors.New("reactor: fd not registered")
	ErrClosed              = errors.New("reactor: closed")
)

type fdInfo struct {
	callback Callback
	active   bool
}

// Epoll is the readiness-based reactor backend: one-shot registration
// (EPOLLONESHOT) so exactly one continuation resumes per readiness
// event, direct fd-indexed lookup, and a version counter used to detect
// registration changes that raced the blocking EpollWait call.
type Epoll struct {
	epfd     int
	version  atomic.Uint64
	fds      [maxFDs]fdInfo
	fdMu     sync.RWMutex
	closed   atomic.Bool
	eventBuf [waitCapacity]unix.EpollEvent
}

// NewEpoll creates and initializes an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errcode.FromErrno(int(err.(unix.Errno)), err)
	}
	return &Epoll{epfd: fd}, nil
}

// Register arms fd for the given events, one-shot. The callback stored
// by SetCallback is invoked inline from the poll loop with the observed
// events; the caller must call Rearm to receive further notifications.
func (e *Epoll) Register(fd int, events Events) error {
	return e.register(fd, events, unix.EPOLL_CTL_ADD)
}

// Rearm re-registers a fd for another one-shot readiness notification.
func (e *Epoll) Rearm(fd int, events Events) error {
	return e.register(fd, events, unix.EPOLL_CTL_MOD)
}

func (e *Epoll) register(fd int, events Events, op int) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}

	if op == unix.EPOLL_CTL_ADD {
		e.fdMu.Lock()
		if e.fds[fd].active {
			e.fdMu.Unlock()
			return ErrFDAlreadyRegistered
		}
		e.fds[fd].active = true
		e.fdMu.Unlock()
	}

	ev := &unix.EpollEvent{Events: eventsToEpoll(events) | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, op, fd, ev); err != nil {
		if op == unix.EPOLL_CTL_ADD {
			e.fdMu.Lock()
			e.fds[fd].active = false
			e.fdMu.Unlock()
		}
		return errcode.FromErrno(int(err.(unix.Errno)), err)
	}
	e.version.Add(1)
	return nil
}

// SetCallback stores the callback invoked when fd becomes ready. Must
// be called before Register (or immediately after, before the first
// wait that could observe fd) since dispatch reads this table inline.
func (e *Epoll) SetCallback(fd int, cb Callback) {
	e.fdMu.Lock()
	e.fds[fd].callback = cb
	e.fdMu.Unlock()
}

// Unregister removes fd from the epoll instance.
func (e *Epoll) Unregister(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	e.fdMu.Lock()
	if !e.fds[fd].active {
		e.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	e.fds[fd] = fdInfo{}
	e.fdMu.Unlock()
	e.version.Add(1)
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// poll blocks up to timeoutMs for readiness events and dispatches
// callbacks inline. Returns the number of events processed.
func (e *Epoll) poll(timeoutMs int) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	v := e.version.Load()

	n, err := unix.EpollWait(e.epfd, e.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	if e.version.Load() != v {
		// Registrations changed mid-wait; discard this batch rather than
		// risk dispatching to a callback that was just unregistered.
		return 0, nil
	}

	for i := 0; i < n; i++ {
		fd := int(e.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		e.fdMu.RLock()
		info := e.fds[fd]
		e.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(epollToEvents(e.eventBuf[i].Events))
		}
	}
	return n, nil
}

// Run drives the epoll wait loop: call epoll_wait with a 10 ms timeout,
// dispatch ready continuations, then call yield before the next wait.
// Each iteration blocks in epoll_wait for up to 10 ms; ctx is checked
// only between iterations.
func (e *Epoll) Run(ctx context.Context, yield func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := e.poll(10); err != nil {
			epollLog.Error().Str("op", "poll").Log("epoll wait failed")
			return
		}
		yield()
	}
}

// Close releases the epoll file descriptor.
func (e *Epoll) Close() error {
	e.closed.Store(true)
	return unix.Close(e.epfd)
}

func eventsToEpoll(events Events) uint32 {
	var out uint32
	if events&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEvents(raw uint32) Events {
	var out Events
	if raw&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if raw&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if raw&unix.EPOLLERR != 0 {
		out |= EventError
	}
	if raw&unix.EPOLLHUP != 0 {
		out |= EventHangup
	}
	return out
}

// Package netio implements the runtime's socket primitives: readiness
// sockets backed by the epoll reactor and async sockets backed by the
// io_uring reactor, per spec.md §4.6.
package netio

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/acpass/coroio/errcode"
	"github.com/acpass/coroio/reactor"
)

// ReadinessListener is a non-blocking TCP listener whose Accept suspends
// on epoll readiness rather than blocking an OS thread.
type ReadinessListener struct {
	fd    int
	epoll *reactor.Epoll

	mu      sync.Mutex
	waiting reactor.Callback
}

// ListenReadiness creates a non-blocking listening socket bound to
// addr:port and registers it with epoll.
func ListenReadiness(epoll *reactor.Epoll, addr [4]byte, port int) (*ReadinessListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return nil, err
	}

	l := &ReadinessListener{fd: fd, epoll: epoll}
	epoll.SetCallback(fd, l.onReadable)
	if err := epoll.Register(fd, reactor.EventRead); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return l, nil
}

func (l *ReadinessListener) onReadable(reactor.Events) {
	l.mu.Lock()
	cb := l.waiting
	l.waiting = nil
	l.mu.Unlock()
	if cb != nil {
		cb(reactor.EventRead)
	}
}

// Accept suspends until a connection is ready, then accepts it
// non-blockingly and returns a connected socket.
func (l *ReadinessListener) Accept(ctx context.Context) (*ReadinessConn, error) {
	for {
		fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
		if err == nil {
			return &ReadinessConn{fd: fd, epoll: l.epoll}, nil
		}
		if err != unix.EAGAIN {
			return nil, errcode.FromErrno(int(err.(unix.Errno)), err)
		}

		done := make(chan struct{})
		l.mu.Lock()
		l.waiting = func(reactor.Events) { close(done) }
		l.mu.Unlock()
		if err := l.epoll.Rearm(l.fd, reactor.EventRead); err != nil {
			return nil, err
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// AcceptAll accepts connections until EAGAIN, handing each one to
// handle, then calls yield and starts over — the accept_all helper
// coroutine named in spec.md §4.6. It returns only when ctx is done or
// accept fails with an error other than EAGAIN.
func (l *ReadinessListener) AcceptAll(ctx context.Context, yield func(), handle func(*ReadinessConn)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				yield()
				continue
			}
			return errcode.FromErrno(int(err.(unix.Errno)), err)
		}
		handle(&ReadinessConn{fd: fd, epoll: l.epoll})
	}
}

// Close stops accepting and releases the listening socket.
func (l *ReadinessListener) Close() error {
	_ = l.epoll.Unregister(l.fd)
	return unix.Close(l.fd)
}

// AsyncListener is a listening socket driven by the io_uring reactor's
// multishot accept, spawning one handler per accepted client.
type AsyncListener struct {
	fd   int
	ring *reactor.Ring
}

// ListenAsync creates a non-blocking listening socket for use with the
// io_uring backend.
func ListenAsync(ring *reactor.Ring, addr [4]byte, port int) (*AsyncListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &AsyncListener{fd: fd, ring: ring}, nil
}

// MultishotAccept submits a multishot accept; handle is invoked once
// per accepted connection. done closes when the kernel delivers a
// final completion with no further multishot completions pending
// (spec.md §4.4's "lacks the more flag" finalization).
func (l *AsyncListener) MultishotAccept(ctx context.Context, handle func(*AsyncConn)) error {
	done := make(chan struct{})
	err := l.ring.PrepMultishotAccept(l.fd, func(clientFD int32) {
		handle(NewAsyncConn(l.ring, int(clientFD)))
	}, func(int32) { close(done) })
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the listening socket.
func (l *AsyncListener) Close() error {
	return unix.Close(l.fd)
}

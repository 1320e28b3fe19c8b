package netio

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/acpass/coroio/errcode"
	"github.com/acpass/coroio/reactor"
)

// ReadinessConn is a connected, non-blocking socket driven by the
// epoll reactor: recv/send call the non-blocking syscall directly. On
// EAGAIN/EWOULDBLOCK they do not return a would-block error: they
// register interest with the reactor, suspend until it reports
// readiness, and retry.
type ReadinessConn struct {
	fd    int
	epoll *reactor.Epoll

	mu         sync.Mutex
	waiting    reactor.Callback
	registered bool
}

func (c *ReadinessConn) onReady(reactor.Events) {
	c.mu.Lock()
	cb := c.waiting
	c.waiting = nil
	c.mu.Unlock()
	if cb != nil {
		cb(reactor.EventRead | reactor.EventWrite)
	}
}

// Recv reads into buf. On EAGAIN it suspends (awaiting readiness) and
// retries once the reactor signals the fd readable again.
func (c *ReadinessConn) Recv(ctx context.Context, buf []byte) (int, error) {
	c.epoll.SetCallback(c.fd, c.onReady)
	for {
		n, err := unix.Read(c.fd, buf)
		if err == nil {
			if n == 0 {
				return 0, errcode.EOF
			}
			return n, nil
		}
		if err != unix.EAGAIN {
			return 0, errcode.FromErrno(int(err.(unix.Errno)), err)
		}
		if err := c.await(ctx, reactor.EventRead); err != nil {
			return 0, err
		}
	}
}

// Send writes buf. On EAGAIN it suspends until writable.
func (c *ReadinessConn) Send(ctx context.Context, buf []byte) (int, error) {
	c.epoll.SetCallback(c.fd, c.onReady)
	total := 0
	for total < len(buf) {
		n, err := unix.Write(c.fd, buf[total:])
		if err == nil {
			total += n
			continue
		}
		if err != unix.EAGAIN {
			return total, errcode.FromErrno(int(err.(unix.Errno)), err)
		}
		if err := c.await(ctx, reactor.EventWrite); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *ReadinessConn) await(ctx context.Context, ev reactor.Events) error {
	done := make(chan struct{})
	c.mu.Lock()
	c.waiting = func(reactor.Events) { close(done) }
	firstSuspend := !c.registered
	c.registered = true
	c.mu.Unlock()

	// The conn fd is never registered with epoll until its first
	// suspension (Accept hands back a bare fd); EPOLL_CTL_ADD here,
	// EPOLL_CTL_MOD (Rearm) on every subsequent suspend.
	if firstSuspend {
		if err := c.epoll.Register(c.fd, ev); err != nil {
			return err
		}
	} else if err := c.epoll.Rearm(c.fd, ev); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the connection's descriptor.
func (c *ReadinessConn) Close() error {
	_ = c.epoll.Unregister(c.fd)
	return unix.Close(c.fd)
}

// AsyncConn is a connected socket driven by the io_uring reactor.
// Recv/Send submit a single-shot SQE and suspend until the reactor's
// completion-reaping task resumes them.
type AsyncConn struct {
	fd   int
	ring *reactor.Ring
}

// NewAsyncConn wraps an already-connected fd for io_uring-driven I/O.
func NewAsyncConn(ring *reactor.Ring, fd int) *AsyncConn {
	return &AsyncConn{fd: fd, ring: ring}
}

// Recv submits a recv and suspends until completion, yielding bytes
// transferred or a typed error.
func (c *AsyncConn) Recv(ctx context.Context, buf []byte) (int, error) {
	done := make(chan struct{})
	var res int32
	if err := retrySQEBusy(ctx, func() error {
		return c.ring.PrepRecv(c.fd, buf, func(r int32) { res = r; close(done) })
	}); err != nil {
		return 0, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if res < 0 {
		return 0, errcode.FromErrno(int(-res), nil)
	}
	if res == 0 {
		return 0, errcode.EOF
	}
	return int(res), nil
}

// Send submits a send and suspends until completion.
func (c *AsyncConn) Send(ctx context.Context, buf []byte) (int, error) {
	done := make(chan struct{})
	var res int32
	if err := retrySQEBusy(ctx, func() error {
		return c.ring.PrepSend(c.fd, buf, func(r int32) { res = r; close(done) })
	}); err != nil {
		return 0, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if res < 0 {
		return 0, errcode.FromErrno(int(-res), nil)
	}
	return int(res), nil
}

// retrySQEBusy submits via submit, yielding to the scheduler (a plain
// Gosched here, since netio has no direct scheduler dependency) and
// retrying while the ring reports SQE-busy, per spec.md's
// yield-and-retry recovery for that error.
func retrySQEBusy(ctx context.Context, submit func() error) error {
	for {
		err := submit()
		if err == nil {
			return nil
		}
		if !errcode.Recoverable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		// yield-and-retry per spec.md §7's recovery for SQE_BUSY,
		// rather than spinning the OS thread hot while the ring drains.
		runtime.Gosched()
	}
}

// Close releases the connection's descriptor.
func (c *AsyncConn) Close() error {
	return unix.Close(c.fd)
}

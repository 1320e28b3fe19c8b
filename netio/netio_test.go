package netio

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/acpass/coroio/reactor"
)

func TestListenReadinessBindsEphemeralPort(t *testing.T) {
	epoll, err := reactor.NewEpoll()
	require.NoError(t, err)
	defer epoll.Close()

	ln, err := ListenReadiness(epoll, [4]byte{127, 0, 0, 1}, 0)
	require.NoError(t, err)
	defer ln.Close()
}

func TestAcceptTimesOutWithNoConnections(t *testing.T) {
	epoll, err := reactor.NewEpoll()
	require.NoError(t, err)
	defer epoll.Close()

	ln, err := ListenReadiness(epoll, [4]byte{127, 0, 0, 1}, 0)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = ln.Accept(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestReadinessConnRecvAcrossTwoEAGAINSuspensions drives a real TCP
// connection through two separate would-block suspensions on the same
// ReadinessConn: the first suspend must EPOLL_CTL_ADD the fd (it was
// never registered by Accept), the second must EPOLL_CTL_MOD it. A
// regression that tries to Rearm an unregistered fd fails the first
// suspend with ENOENT and tears the connection down, breaking
// keep-alive.
func TestReadinessConnRecvAcrossTwoEAGAINSuspensions(t *testing.T) {
	epoll, err := reactor.NewEpoll()
	require.NoError(t, err)
	defer epoll.Close()

	ln, err := ListenReadiness(epoll, [4]byte{127, 0, 0, 1}, 0)
	require.NoError(t, err)
	defer ln.Close()

	sa, err := unix.Getsockname(ln.fd)
	require.NoError(t, err)
	addr := sa.(*unix.SockaddrInet4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go epoll.Run(ctx, func() {})

	type acceptResult struct {
		conn *ReadinessConn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		accepted <- acceptResult{conn, err}
	}()

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(addr.Port)))
	require.NoError(t, err)
	defer client.Close()

	var server *ReadinessConn
	select {
	case res := <-accepted:
		require.NoError(t, res.err)
		server = res.conn
	case <-ctx.Done():
		t.Fatal("accept did not complete")
	}
	defer server.Close()

	buf := make([]byte, 16)
	for i := 0; i < 2; i++ {
		type recvResult struct {
			n   int
			err error
		}
		recvDone := make(chan recvResult, 1)
		go func() {
			n, err := server.Recv(ctx, buf)
			recvDone <- recvResult{n, err}
		}()

		// give Recv a chance to hit EAGAIN and suspend before the
		// client writes, so this actually exercises the await path
		// rather than a same-syscall read.
		time.Sleep(20 * time.Millisecond)
		_, err := client.Write([]byte("hi"))
		require.NoError(t, err)

		select {
		case res := <-recvDone:
			require.NoError(t, res.err)
			require.Equal(t, "hi", string(buf[:res.n]))
		case <-ctx.Done():
			t.Fatal("recv did not complete")
		}
	}
}

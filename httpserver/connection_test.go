package httpserver

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpass/coroio/errcode"
)

// fakeConn implements Conn over an in-memory input buffer, recording
// everything written to it. Recv returns errcode.EOF once the input is
// exhausted, matching a real socket's behavior on peer close.
type fakeConn struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newFakeConn(request string) *fakeConn {
	return &fakeConn{in: bytes.NewReader([]byte(request))}
}

func (c *fakeConn) Recv(_ context.Context, buf []byte) (int, error) {
	n, err := c.in.Read(buf)
	if err == io.EOF {
		return 0, errcode.EOF
	}
	return n, err
}

func (c *fakeConn) Send(_ context.Context, buf []byte) (int, error) {
	return c.out.Write(buf)
}

func TestServeKeepAliveGET(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0o644))
	builder, err := NewBuilder(root, 4)
	require.NoError(t, err)

	conn := newFakeConn("GET /hello.txt HTTP/1.1\r\nHost: x\r\nAccept: */*\r\n\r\n")
	Serve(context.Background(), conn, builder)

	out := conn.out.String()
	assert.Contains(t, out, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, out, "Content-Length: 2\r\n")
	assert.Contains(t, out, "\r\n\r\nhi")
}

func TestServeBadRequestClosesConnection(t *testing.T) {
	root := t.TempDir()
	builder, err := NewBuilder(root, 4)
	require.NoError(t, err)

	conn := newFakeConn("GIT / HTTP/1.1\r\n\r\n")
	Serve(context.Background(), conn, builder)

	assert.Contains(t, conn.out.String(), "HTTP/1.1 400 Bad Request\r\n")
	assert.Contains(t, conn.out.String(), "Content-Length: 0\r\n")
}

func TestServeConnectionCloseStopsAfterOneResponse(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	builder, err := NewBuilder(root, 4)
	require.NoError(t, err)

	conn := newFakeConn("GET /a.txt HTTP/1.1\r\nConnection: close\r\n\r\n" +
		"GET /a.txt HTTP/1.1\r\n\r\n")
	Serve(context.Background(), conn, builder)

	// only one response should have been written
	assert.Equal(t, 1, bytes.Count(conn.out.Bytes(), []byte("HTTP/1.1 200")))
}

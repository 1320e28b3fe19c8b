package httpserver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpass/coroio/errcode"
)

func TestParseRequestValid(t *testing.T) {
	req, err := ParseRequest([]byte("GET /hello.txt HTTP/1.1\r\nHost: x\r\nAccept: */*"))
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/hello.txt", req.URI)
	assert.Equal(t, "HTTP/1.1", req.Version)
	v, ok := req.Header("host")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestParseRequestRejectsUnknownMethod(t *testing.T) {
	_, err := ParseRequest([]byte("GIT / HTTP/1.1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.HTTPBadRequest))
}

func TestParseRequestRejectsUnsupportedVersion(t *testing.T) {
	_, err := ParseRequest([]byte("GET / HTTP/1.0"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.HTTPBadRequest))
}

func TestParseRequestRejectsMalformedHeader(t *testing.T) {
	_, err := ParseRequest([]byte("GET / HTTP/1.1\r\nNotAHeader"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.HTTPBadRequest))
}

func TestRequestKeepAliveDefaultsTrue(t *testing.T) {
	req := &Request{Headers: map[string]string{}}
	assert.True(t, req.KeepAlive())
}

func TestRequestKeepAliveHonorsCloseCaseInsensitive(t *testing.T) {
	req := &Request{Headers: map[string]string{"Connection": "Close"}}
	assert.False(t, req.KeepAlive())
}

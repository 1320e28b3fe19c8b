package httpserver

import (
	"bytes"
	"strings"

	"github.com/acpass/coroio/errcode"
)

// Request is a parsed HTTP/1.1 request line plus headers. Header keys
// preserve their original casing as received on the wire; lookups use
// Header, which compares case-insensitively as headers require.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers map[string]string
}

// Header returns the value for name, matched case-insensitively, and
// whether it was present.
func (r *Request) Header(name string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// KeepAlive reports whether the connection should remain open after
// this response, per spec.md §6: "Connection: close" (matched ASCII
// case-insensitively, per spec.md's Design Notes resolution of the
// source's case-sensitive bug) ends the session; anything else keeps
// it alive.
func (r *Request) KeepAlive() bool {
	v, ok := r.Header("Connection")
	if !ok {
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(v), "close")
}

// ParseRequest validates the request line and headers in header (the
// bytes up to but excluding the \r\n\r\n terminator) and returns the
// parsed Request, or a BAD_REQUEST error.
func ParseRequest(header []byte) (*Request, error) {
	lines := bytes.Split(header, []byte("\r\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return nil, errcode.HTTPBadRequest
	}

	requestLine := strings.Fields(string(lines[0]))
	if len(requestLine) != 3 {
		return nil, errcode.HTTPBadRequest
	}
	method, uri, version := requestLine[0], requestLine[1], requestLine[2]
	if method != "GET" && method != "HEAD" {
		return nil, errcode.HTTPBadRequest
	}
	if version != "HTTP/1.1" {
		return nil, errcode.HTTPBadRequest
	}
	if !strings.HasPrefix(uri, "/") {
		return nil, errcode.HTTPBadRequest
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx <= 0 {
			return nil, errcode.HTTPBadRequest
		}
		key := strings.TrimSpace(string(line[:idx]))
		val := strings.TrimSpace(string(line[idx+1:]))
		if key == "" {
			return nil, errcode.HTTPBadRequest
		}
		headers[key] = val
	}

	return &Request{Method: method, URI: uri, Version: version, Headers: headers}, nil
}

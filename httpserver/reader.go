// Package httpserver is a thin HTTP/1.1 static-file server consumer
// built on top of the runtime core: a request reader, parser, response
// builder, and bounded mmap-backed file cache.
package httpserver

import (
	"bytes"
	"context"

	"github.com/acpass/coroio/errcode"
)

// maxRequestSize is the hard cap on request bytes up to and including
// the header terminator; exceeding it raises BAD_REQUEST.
const maxRequestSize = 4096

var headerTerminator = []byte("\r\n\r\n")

// Reader accumulates bytes from a connection into a growing buffer
// until the header terminator appears.
type Reader struct {
	buf []byte
}

// Recv is satisfied by either socket flavor (netio.ReadinessConn or
// netio.AsyncConn); httpserver only needs the ability to read into a
// caller-provided slice.
type Recv interface {
	Recv(ctx context.Context, buf []byte) (int, error)
}

// ReadRequest reads from conn until the header terminator is seen,
// returning the raw header bytes (without the terminator) and any
// bytes read past it (the start of the body, if any). It never returns
// errcode.UncompletedRequest, since Recv already suspends on
// would-block; it returns errcode.HTTPBadRequest if the request
// exceeds the 4096-byte cap before its terminator ends.
func (r *Reader) ReadRequest(ctx context.Context, conn Recv) (header []byte, rest []byte, err error) {
	chunk := make([]byte, 512)
	for {
		if idx := bytes.Index(r.buf, headerTerminator); idx >= 0 {
			if idx+len(headerTerminator) > maxRequestSize {
				return nil, nil, errcode.HTTPBadRequest
			}
			header = r.buf[:idx]
			rest = r.buf[idx+len(headerTerminator):]
			r.buf = nil
			return header, rest, nil
		}
		if len(r.buf) >= maxRequestSize {
			return nil, nil, errcode.HTTPBadRequest
		}

		n, err := conn.Recv(ctx, chunk)
		if err != nil {
			return nil, nil, err
		}
		r.buf = append(r.buf, chunk[:n]...)
	}
}

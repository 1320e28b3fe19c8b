package httpserver

import (
	"context"
	"errors"

	"github.com/acpass/coroio/errcode"
	"github.com/acpass/coroio/logging"
)

var connLog = logging.For(logging.CategoryHTTP)

// Send is satisfied by either socket flavor; httpserver only needs the
// ability to write a caller-provided slice.
type Send interface {
	Send(ctx context.Context, buf []byte) (int, error)
}

// Conn is the minimal socket contract a connection handler needs.
type Conn interface {
	Recv
	Send
}

// Serve drives one accepted connection to completion: read a request,
// build and send a response, repeat while keep-alive holds, stopping
// on EOF, transport error, or "Connection: close".
func Serve(ctx context.Context, conn Conn, builder *Builder) {
	reader := &Reader{}
	for {
		header, _, err := reader.ReadRequest(ctx, conn)
		if err != nil {
			if !errors.Is(err, errcode.EOF) && ctx.Err() == nil {
				connLog.Debug().Str("error", err.Error()).Log("request read failed")
			}
			if errors.Is(err, errcode.HTTPBadRequest) {
				sendAndClose(ctx, conn, cannedResponse(errcode.HTTPBadRequest))
			}
			return
		}

		req, err := ParseRequest(header)
		if err != nil {
			sendAndClose(ctx, conn, cannedResponse(errcode.HTTPBadRequest))
			return
		}

		resp := builder.Build(req)
		if _, err := conn.Send(ctx, resp.Serialize()); err != nil {
			connLog.Debug().Str("error", err.Error()).Log("response write failed")
			return
		}

		if !req.KeepAlive() {
			return
		}
	}
}

func sendAndClose(ctx context.Context, conn Send, resp *Response) {
	_, _ = conn.Send(ctx, resp.Serialize())
}

// Command coroio-server is the HTTP collaborator named in spec.md §6:
// "server <port> <web-root>". It wires the runtime core (scheduler,
// epoll reactor, readiness sockets) to the httpserver package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/acpass/coroio/config"
	"github.com/acpass/coroio/httpserver"
	"github.com/acpass/coroio/logging"
	"github.com/acpass/coroio/netio"
	"github.com/acpass/coroio/reactor"
	"github.com/acpass/coroio/sched"
	"github.com/acpass/coroio/task"
)

var log = logging.For(logging.CategoryHTTP)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("coroio-server", flag.ContinueOnError)
	workers := fs.Int("workers", 0, "scheduler worker count (0 = NumCPU-1)")
	cacheCap := fs.Int("cache-capacity", 256, "file cache entry capacity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: coroio-server [flags] <port> <web-root>")
		return 2
	}

	port, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", fs.Arg(0), err)
		return 2
	}

	cfg, err := config.Resolve(
		config.WithWorkerCount(*workers),
		config.WithListenPort(port),
		config.WithWebRoot(fs.Arg(1)),
		config.WithCacheCapacity(*cacheCap),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	if err := serve(cfg); err != nil {
		log.Error().Str("error", err.Error()).Log("server exited with error")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func serve(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scheduler := sched.New(cfg.WorkerCount)
	defer scheduler.Stop()
	go scheduler.Enter(ctx)

	epoll, err := reactor.NewEpoll()
	if err != nil {
		return fmt.Errorf("reactor: %w", err)
	}
	defer epoll.Close()
	go epoll.Run(ctx, func() {})

	builder, err := httpserver.NewBuilder(cfg.WebRoot, cfg.CacheCapacity)
	if err != nil {
		return fmt.Errorf("httpserver: %w", err)
	}

	ln, err := netio.ListenReadiness(epoll, [4]byte{0, 0, 0, 0}, cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	log.Info().Str("web_root", cfg.WebRoot).Log("coroio-server listening")

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		bindCh := make(chan *sched.Binding, 1)
		bindCh <- scheduler.Spawn(nil, func() {
			t := task.Spawn(ctx, func(ctx context.Context) (struct{}, error) {
				httpserver.Serve(ctx, conn, builder)
				_ = conn.Close()
				return struct{}{}, nil
			})
			go func() {
				_, _ = t.Await(ctx)
				(<-bindCh).MarkDone()
			}()
		})
	}
}

// Package config defines the runtime's startup configuration,
// assembled via functional options in the manner of the teacher
// module's eventloop.LoopOption.
package config

import "time"

// Config holds the runtime's startup settings: worker count, reaper
// threshold and cadence, uring ring sizes, and the HTTP collaborator's
// web root, listen port and file-cache capacity. sched.New and
// reactor.NewRing do not take the reaper or ring fields; they use their
// own fixed values.
type Config struct {
	WorkerCount   int
	ReapThreshold int
	ReapInterval  time.Duration

	URingSQEntries  int
	URingCQEntries  int
	URingSQPollIdle time.Duration

	WebRoot       string
	ListenPort    int
	CacheCapacity int
}

// defaults mirrors the constants spec.md fixes for the core
// implementation: 1024 SQEs, 8192 CQEs, ~10s SQ poll idle, a 10,000
// binding reap threshold, and a 30s periodic reap.
func defaults() Config {
	return Config{
		WorkerCount:     0, // 0 means runtime.NumCPU()-1, resolved by the scheduler
		ReapThreshold:   10000,
		ReapInterval:    30 * time.Second,
		URingSQEntries:  1024,
		URingCQEntries:  8192,
		URingSQPollIdle: 10 * time.Second,
		ListenPort:      8080,
		CacheCapacity:   256,
	}
}

// Option configures a Config instance.
type Option interface {
	apply(*Config) error
}

type optionFunc func(*Config) error

func (f optionFunc) apply(c *Config) error { return f(c) }

// WithWorkerCount overrides the number of scheduler worker threads. 0
// selects runtime.NumCPU()-1.
func WithWorkerCount(n int) Option {
	return optionFunc(func(c *Config) error {
		c.WorkerCount = n
		return nil
	})
}

// WithReapThreshold sets ReapThreshold, the soft binding-count
// threshold for an out-of-cycle reap. The scheduler does not read it
// (see Config).
func WithReapThreshold(n int) Option {
	return optionFunc(func(c *Config) error {
		c.ReapThreshold = n
		return nil
	})
}

// WithReapInterval sets ReapInterval, the periodic reaper cadence. The
// scheduler does not read it (see Config).
func WithReapInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) error {
		c.ReapInterval = d
		return nil
	})
}

// WithURingSizes sets the io_uring SQ/CQ entry counts. reactor.NewRing
// does not read them (see Config).
func WithURingSizes(sq, cq int) Option {
	return optionFunc(func(c *Config) error {
		c.URingSQEntries = sq
		c.URingCQEntries = cq
		return nil
	})
}

// WithWebRoot sets the directory served by the HTTP collaborator.
func WithWebRoot(path string) Option {
	return optionFunc(func(c *Config) error {
		c.WebRoot = path
		return nil
	})
}

// WithListenPort sets the TCP port the HTTP collaborator listens on.
func WithListenPort(port int) Option {
	return optionFunc(func(c *Config) error {
		c.ListenPort = port
		return nil
	})
}

// WithCacheCapacity sets the file cache's entry capacity.
func WithCacheCapacity(n int) Option {
	return optionFunc(func(c *Config) error {
		c.CacheCapacity = n
		return nil
	})
}

// Resolve applies opts over the package defaults, in order.
func Resolve(opts ...Option) (Config, error) {
	cfg := defaults()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

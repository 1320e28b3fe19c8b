// Package logging provides the structured logging facade shared by every
// runtime-core component (scheduler, reactor, timer, HTTP).
//
// It wraps github.com/joeycumines/logiface, the same logging facade the
// teacher module ships as its own dependency, backed by the zerolog
// integration (github.com/joeycumines/logiface-zerolog) over
// github.com/rs/zerolog. Components log through category-scoped
// *Logger values rather than touching logiface directly, mirroring the
// category field the teacher's own (hand-rolled) event-loop logger used.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	izerolog "github.com/joeycumines/logiface-zerolog"
	"github.com/rs/zerolog"
)

// Category names a subsystem for log correlation, matching the set the
// teacher's eventloop logger tags entries with (task/scheduler/poll/timer),
// extended with "http" for the collaborator layer.
type Category string

const (
	CategoryTask      Category = "task"
	CategoryScheduler Category = "scheduler"
	CategoryPoll      Category = "poll"
	CategoryTimer     Category = "timer"
	CategoryHTTP      Category = "http"
)

// Logger is a category-scoped handle onto the shared root logger.
type Logger struct {
	root     *logiface.Logger[*izerolog.Event]
	category Category
}

var root *logiface.Logger[*izerolog.Event]

func init() {
	root = newRoot(os.Stderr, logiface.LevelInformational)
}

func newRoot(w io.Writer, level logiface.Level) *logiface.Logger[*izerolog.Event] {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return izerolog.L.New(
		izerolog.L.WithZerolog(zl),
		izerolog.L.WithLevel(level),
	)
}

// SetOutput replaces the package-wide root logger with one writing to w
// at the given level. Only Loggers obtained from For afterwards use the
// new root; Loggers already returned by For (including the
// package-level ones other packages create at init) keep writing to the
// previous root.
func SetOutput(w io.Writer, level logiface.Level) {
	root = newRoot(w, level)
}

// For returns a Logger scoped to category, reading the current root.
func For(category Category) *Logger {
	return &Logger{root: root, category: category}
}

// Debug starts a debug-level structured log entry.
func (l *Logger) Debug() *logiface.Builder[*izerolog.Event] {
	return l.root.Debug().Str("category", string(l.category))
}

// Info starts an info-level structured log entry.
func (l *Logger) Info() *logiface.Builder[*izerolog.Event] {
	return l.root.Info().Str("category", string(l.category))
}

// Warn starts a warn-level structured log entry.
func (l *Logger) Warn() *logiface.Builder[*izerolog.Event] {
	return l.root.Warning().Str("category", string(l.category))
}

// Error starts an error-level structured log entry.
func (l *Logger) Error() *logiface.Builder[*izerolog.Event] {
	return l.root.Err().Str("category", string(l.category))
}

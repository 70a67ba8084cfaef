// Package browser controls the browser that the extension under test runs in. The harness only
// talks to it through the Session interface, so that tests can substitute a fake.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrSessionGone means the browser session has already terminated. Any Session operation on a
// dead session returns an error for which IsSessionGone is true. This is an expected outcome
// at the end of a run, not a failure.
var ErrSessionGone = errors.New("browser session is no longer running")

// ErrContextNotFound means the requested window or tab no longer exists. The set of contexts
// changes while the browser runs, so callers should re-enumerate rather than give up.
var ErrContextNotFound = errors.New("browser context not found")

// ErrNoActiveContext is returned by queries made before SwitchTo has selected a context.
var ErrNoActiveContext = errors.New("no browser context has been selected")

// IsSessionGone returns true if err was caused by the session having already terminated.
func IsSessionGone(err error) bool {
	return errors.Is(err, ErrSessionGone)
}

// ContextHandle is an opaque identifier for a browser window or tab. It identifies the context
// itself, not the page it is currently showing.
type ContextHandle string

// LogEntry is one message from the browser console.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Session is a running browser plus its automation channel. Calls must not overlap: each one
// completes before the next is issued.
type Session interface {
	// Contexts returns the currently open windows and tabs. The result may be empty while the
	// browser is starting, and may differ from one call to the next.
	Contexts(ctx context.Context) ([]ContextHandle, error)

	// SwitchTo makes the given context the target of CurrentURL and Title.
	SwitchTo(ctx context.Context, handle ContextHandle) error

	// CurrentURL returns the address loaded in the active context.
	CurrentURL(ctx context.Context) (string, error)

	// ReadLogs returns the console entries logged since the previous call, in the order they
	// were emitted. Each entry is returned exactly once.
	ReadLogs(ctx context.Context) ([]LogEntry, error)

	// Title returns the title of the active context. It is a cheap query, so it doubles as a
	// check that the browser is still alive.
	Title(ctx context.Context) (string, error)

	// Close asks the browser to exit. Calling it on a session that has already terminated, or
	// calling it more than once, returns nil.
	Close() error
}

// Launcher starts a browser session with the extension artifact at artifactPath installed.
type Launcher interface {
	Launch(ctx context.Context, artifactPath string) (Session, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, artifactPath string) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context, artifactPath string) (Session, error) {
	return f(ctx, artifactPath)
}

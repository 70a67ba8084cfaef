package harness

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/extension-ci/chromium-test-harness/framework"
	"github.com/extension-ci/chromium-test-harness/framework/browser"
	"github.com/extension-ci/chromium-test-harness/framework/helpers"
	"github.com/extension-ci/chromium-test-harness/framework/opt"
)

// DefaultExtensionURLPrefix is the address scheme of pages that belong to a Chromium extension.
const DefaultExtensionURLPrefix = "chrome-extension://"

// ErrContextNotLocated is returned by LocateExtensionContext when a configured timeout or
// attempt limit is exceeded.
var ErrContextNotLocated = errors.New("extension context was not found")

type locateSettings struct {
	pollInterval time.Duration
	timeout      opt.Maybe[time.Duration]
	maxAttempts  opt.Maybe[int]
	logger       framework.Logger
}

// LocateOption is a configuration option for LocateExtensionContext.
type LocateOption helpers.ConfigOption[locateSettings]

type locatePollIntervalOption time.Duration

func (o locatePollIntervalOption) Configure(s *locateSettings) error {
	s.pollInterval = time.Duration(o)
	return nil
}

// LocatePollInterval sets how long to wait between attempts. The default is zero, which only
// yields to other goroutines.
func LocatePollInterval(interval time.Duration) LocateOption {
	return locatePollIntervalOption(interval)
}

type locateTimeoutOption opt.Maybe[time.Duration]

func (o locateTimeoutOption) Configure(s *locateSettings) error {
	s.timeout = opt.Maybe[time.Duration](o)
	return nil
}

// LocateTimeout bounds the total time spent looking. Without it, the search continues until the
// context is found, the session dies, or ctx is cancelled.
func LocateTimeout(timeout opt.Maybe[time.Duration]) LocateOption {
	return locateTimeoutOption(timeout)
}

type locateMaxAttemptsOption opt.Maybe[int]

func (o locateMaxAttemptsOption) Configure(s *locateSettings) error {
	attempts := opt.Maybe[int](o)
	if attempts.IsDefined() && attempts.Value() <= 0 {
		attempts = opt.None[int]()
	}
	s.maxAttempts = attempts
	return nil
}

// LocateMaxAttempts bounds the number of contexts inspected. Unbounded by default, and a count
// below 1 also means unbounded.
func LocateMaxAttempts(attempts opt.Maybe[int]) LocateOption {
	return locateMaxAttemptsOption(attempts)
}

type locateLoggerOption struct{ logger framework.Logger }

func (o locateLoggerOption) Configure(s *locateSettings) error {
	s.logger = o.logger
	return nil
}

// LocateLogger sets a debug logger for the search.
func LocateLogger(logger framework.Logger) LocateOption {
	return locateLoggerOption{logger}
}

// LocateExtensionContext cycles through the session's windows and tabs, switching to each one,
// until it finds one whose address starts with urlPrefix. That context is left active and
// returned.
//
// The set of contexts is re-read every time the previous listing has been exhausted, so windows
// that open late are picked up and ones that close are dropped. An empty listing just means the
// browser is not ready yet.
func LocateExtensionContext(
	ctx context.Context,
	session browser.Session,
	urlPrefix string,
	options ...LocateOption,
) (browser.ContextHandle, error) {
	s := locateSettings{logger: framework.NullLogger()}
	if err := helpers.ApplyOptions(&s, options...); err != nil {
		return "", err
	}
	if s.timeout.IsDefined() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout.Value())
		defer cancel()
	}

	var handles []browser.ContextHandle
	index, attempts := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && s.timeout.IsDefined() {
				return "", fmt.Errorf("%w within %s", ErrContextNotLocated, s.timeout.Value())
			}
			return "", err
		}

		if index >= len(handles) {
			index = 0
			var err error
			handles, err = session.Contexts(ctx)
			if err != nil {
				if browser.IsSessionGone(err) {
					return "", err
				}
				s.logger.Printf("Could not list browser contexts, will retry: %s", err)
				handles = nil
			}
			if len(handles) == 0 {
				_ = yield(ctx, s.pollInterval) // a cancelled ctx is reported at the top of the loop
				continue
			}
		}

		if s.maxAttempts.IsDefined() && attempts >= s.maxAttempts.Value() {
			return "", fmt.Errorf("%w after inspecting %d contexts", ErrContextNotLocated, attempts)
		}
		attempts++

		handle := handles[index]
		index++
		url, err := inspectContext(ctx, session, handle)
		switch {
		case err == nil && strings.HasPrefix(url, urlPrefix):
			s.logger.Printf("Found extension context %s at %s", handle, url)
			return handle, nil
		case err == nil:
			s.logger.Printf("Context %s is at %s, not the extension", handle, url)
		case browser.IsSessionGone(err):
			return "", err
		default:
			// the context probably closed since it was listed; start over from a fresh listing
			s.logger.Printf("Could not inspect context %s: %s", handle, err)
			index = len(handles)
		}

		_ = yield(ctx, s.pollInterval)
	}
}

func inspectContext(ctx context.Context, session browser.Session, handle browser.ContextHandle) (string, error) {
	if err := session.SwitchTo(ctx, handle); err != nil {
		return "", err
	}
	return session.CurrentURL(ctx)
}

// yield gives other goroutines a chance to run between attempts, waiting for interval if it is
// non-zero. It returns ctx.Err() if ctx ends first.
func yield(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package harness

import (
	"context"
	"sync"
	"time"

	"github.com/extension-ci/chromium-test-harness/framework"
	"github.com/extension-ci/chromium-test-harness/framework/browser"
)

// DefaultPollInterval is how often the browser console is read.
const DefaultPollInterval = time.Second

// EndReason says why a run ended.
type EndReason int

const (
	// EndNone means the run has not ended.
	EndNone EndReason = iota
	// EndCompleted means the end sentinel was seen in the console output.
	EndCompleted
	// EndSessionDead means the browser went away before the sentinel was seen.
	EndSessionDead
	// EndInterrupted means the harness received a termination signal or was cancelled.
	EndInterrupted
	// EndAborted means the harness itself failed during startup.
	EndAborted
)

func (r EndReason) String() string {
	switch r {
	case EndNone:
		return "running"
	case EndCompleted:
		return "completed"
	case EndSessionDead:
		return "browser exited"
	case EndInterrupted:
		return "interrupted"
	case EndAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MonitorHandlers receives what the LogMonitor finds. Both are called on the monitor's goroutine.
type MonitorHandlers struct {
	// OnLine is called with each decoded payload line, in the order the browser logged them.
	OnLine func(line string)

	// OnEnd is called once, with EndCompleted or EndSessionDead, after which polling stops.
	OnEnd func(reason EndReason)
}

// LogMonitor polls a browser session's console on a fixed interval. Each poll finishes before
// the next one starts, so lines are never reordered or delivered twice.
type LogMonitor struct {
	session  browser.Session
	wire     WireFormat
	handlers MonitorHandlers
	logger   framework.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	endOnce  sync.Once
}

// StartLogMonitor starts polling session every interval. The returned handle is the only way
// to stop it.
func StartLogMonitor(
	session browser.Session,
	interval time.Duration,
	wire WireFormat,
	handlers MonitorHandlers,
	logger framework.Logger,
) *LogMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = framework.NullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &LogMonitor{
		session:  session,
		wire:     wire,
		handlers: handlers,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.run(ctx, interval)
	return m
}

// Stop cancels polling. It does not wait for a poll in progress to finish, so it is safe to call
// from OnEnd or OnLine; use Done for that. Calling it more than once has no further effect.
func (m *LogMonitor) Stop() {
	m.cancel()
}

// Done is closed once the polling goroutine has exited.
func (m *LogMonitor) Done() <-chan struct{} {
	return m.done
}

func (m *LogMonitor) run(ctx context.Context, interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Printf("Log monitor stopped")
			return
		case <-ticker.C:
			if !m.poll(ctx) {
				return
			}
		}
	}
}

// poll does one round of work and returns false when the monitor should stop.
func (m *LogMonitor) poll(ctx context.Context) bool {
	if _, err := m.session.Title(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.logger.Printf("Browser is no longer responding: %s", err)
		m.end(EndSessionDead)
		return false
	}

	entries, err := m.session.ReadLogs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if browser.IsSessionGone(err) {
			m.logger.Printf("Browser exited while reading logs")
			m.end(EndSessionDead)
			return false
		}
		m.logger.Printf("Could not read browser logs, will retry: %s", err)
		return true
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return false
		}
		payload, kind := m.wire.DecodeLine(e.Message)
		switch kind {
		case LineEnd:
			m.logger.Printf("Saw end of test output")
			m.end(EndCompleted)
			return false
		case LinePayload:
			if m.handlers.OnLine != nil {
				m.handlers.OnLine(payload)
			}
		}
	}
	return true
}

func (m *LogMonitor) end(reason EndReason) {
	m.endOnce.Do(func() {
		if m.handlers.OnEnd != nil {
			m.handlers.OnEnd(reason)
		}
	})
}

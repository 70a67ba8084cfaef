package harness

import (
	"sync"

	"github.com/extension-ci/chromium-test-harness/framework"
	"github.com/extension-ci/chromium-test-harness/framework/browser"
)

// Teardown releases everything a run holds. However many times and from however many
// goroutines Trigger is called, the cleanup happens once.
//
// Resources are attached as they are created. If teardown has already happened by the time
// something is attached, that thing is released right away, so a signal that arrives while
// the browser is still starting does not leave the browser behind.
type Teardown struct {
	monitor   *LogMonitor
	service   Service
	session   browser.Session
	reason    EndReason
	triggered bool
	done      chan struct{}
	logger    framework.Logger
	lock      sync.Mutex
}

// NewTeardown creates a Teardown with nothing attached.
func NewTeardown(logger framework.Logger) *Teardown {
	if logger == nil {
		logger = framework.NullLogger()
	}
	return &Teardown{done: make(chan struct{}), logger: logger}
}

// AttachMonitor registers the log monitor, whose polling is stopped first.
func (t *Teardown) AttachMonitor(m *LogMonitor) {
	if t.attach(func() { t.monitor = m }) {
		t.stopMonitor(m)
	}
}

// AttachService registers the mock service process.
func (t *Teardown) AttachService(s Service) {
	if t.attach(func() { t.service = s }) {
		t.killService(s)
	}
}

// AttachSession registers the browser session.
func (t *Teardown) AttachSession(s browser.Session) {
	if t.attach(func() { t.session = s }) {
		t.closeSession(s)
	}
}

// attach stores a resource unless teardown already ran, in which case it returns true and the
// caller must release the resource itself.
func (t *Teardown) attach(store func()) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.triggered {
		return true
	}
	store()
	return false
}

// Trigger runs the teardown if it has not run yet, recording reason as the reason the run
// ended. It returns after the cleanup steps have been performed, or immediately if another
// call got there first.
func (t *Teardown) Trigger(reason EndReason) {
	t.lock.Lock()
	if t.triggered {
		t.lock.Unlock()
		return
	}
	t.triggered = true
	t.reason = reason
	monitor, service, session := t.monitor, t.service, t.session
	t.lock.Unlock()

	t.logger.Printf("Tearing down (%s)", reason)
	if monitor != nil {
		t.stopMonitor(monitor)
	}
	if service != nil {
		t.killService(service)
	}
	if session != nil {
		t.closeSession(session)
	}
	close(t.done)
}

// Done is closed when the first Trigger call has finished cleaning up.
func (t *Teardown) Done() <-chan struct{} {
	return t.done
}

// Reason returns the reason given to the first Trigger call, or EndNone.
func (t *Teardown) Reason() EndReason {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.reason
}

func (t *Teardown) stopMonitor(m *LogMonitor) {
	t.step("stop log monitor", func() error {
		m.Stop()
		return nil
	})
}

func (t *Teardown) killService(s Service) {
	t.step("stop mock service", s.Kill)
}

func (t *Teardown) closeSession(s browser.Session) {
	t.step("close browser", func() error {
		if err := s.Close(); err != nil && !browser.IsSessionGone(err) {
			return err
		}
		return nil
	})
}

// step runs one cleanup action. Errors and panics are logged and go no further, so that the
// remaining steps still run.
func (t *Teardown) step(name string, action func() error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("Teardown step %q panicked: %v", name, r)
		}
	}()
	if err := action(); err != nil {
		t.logger.Printf("Teardown step %q failed: %s", name, err)
	}
}

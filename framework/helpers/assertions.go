package helpers

import (
	"time"
)

// poll calls cond every interval until it returns true or timeout elapses, on the calling
// goroutine, so cond may read unsynchronized test state.
func poll(cond func() bool, timeout, interval time.Duration) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-deadline.C:
			return false
		case <-ticker.C:
			if cond() {
				return true
			}
		}
	}
}

// RequireEventually stops the test unless cond returns true within timeout.
func RequireEventually(
	t TestContext,
	cond func() bool,
	timeout time.Duration,
	interval time.Duration,
	msgFormat string,
	msgArgs ...interface{},
) {
	t.Helper()
	if !poll(cond, timeout, interval) {
		t.Errorf(msgFormat, msgArgs...)
		t.FailNow()
	}
}

// AssertNever fails the test if cond returns true at any check before timeout elapses.
func AssertNever(
	t TestContext,
	cond func() bool,
	timeout time.Duration,
	interval time.Duration,
	msgFormat string,
	msgArgs ...interface{},
) bool {
	t.Helper()
	if poll(cond, timeout, interval) {
		t.Errorf(msgFormat, msgArgs...)
		return false
	}
	return true
}

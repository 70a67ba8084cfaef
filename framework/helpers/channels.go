package helpers

import (
	"time"

	"github.com/extension-ci/chromium-test-harness/framework/opt"
)

// TryReceive waits up to timeout for a value from ch. The result is empty if nothing arrived.
func TryReceive[V any](ch <-chan V, timeout time.Duration) opt.Maybe[V] {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value := <-ch:
		return opt.Some(value)
	case <-timer.C:
		return opt.None[V]()
	}
}

// RequireValue returns the next value from ch, or stops the test if none arrives within timeout.
func RequireValue[V any](t TestContext, ch <-chan V, timeout time.Duration) V {
	t.Helper()
	value := TryReceive(ch, timeout)
	if !value.IsDefined() {
		var empty V
		t.Errorf("nothing received on %T channel within %s", empty, timeout)
		t.FailNow()
	}
	return value.Value()
}

// RequireNoMoreValues stops the test if ch delivers anything within timeout.
func RequireNoMoreValues[V any](t TestContext, ch <-chan V, timeout time.Duration) {
	t.Helper()
	if value := TryReceive(ch, timeout); value.IsDefined() {
		t.Errorf("unexpected value received: %v", value.Value())
		t.FailNow()
	}
}

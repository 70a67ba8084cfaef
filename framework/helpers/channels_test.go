package helpers

import (
	"testing"
	"time"

	"github.com/extension-ci/chromium-test-harness/framework/opt"
	"github.com/stretchr/testify/assert"
)

func TestTryReceive(t *testing.T) {
	ch := make(chan string, 1)
	assert.Equal(t, opt.None[string](), TryReceive(ch, time.Millisecond))

	ch <- "a"
	assert.Equal(t, opt.Some("a"), TryReceive(ch, time.Millisecond))

	go func() {
		time.Sleep(time.Millisecond * 50)
		ch <- "b"
	}()
	assert.Equal(t, opt.Some("b"), TryReceive(ch, time.Second))
}

func TestRequireValue(t *testing.T) {
	ch := make(chan string, 1)

	t.Run("times out", func(t *testing.T) {
		tr := TestRecorder{PanicOnTerminate: true}
		assert.PanicsWithValue(t, &tr, func() { _ = RequireValue(&tr, ch, time.Millisecond) })
		if assert.Error(t, tr.Err()) {
			assert.Contains(t, tr.Err().Error(), "nothing received on string channel")
		}
	})

	t.Run("receives", func(t *testing.T) {
		tr := TestRecorder{PanicOnTerminate: true}
		ch <- "a"
		assert.Equal(t, "a", RequireValue(&tr, ch, time.Millisecond))
		assert.NoError(t, tr.Err())
	})
}

func TestRequireNoMoreValues(t *testing.T) {
	ch := make(chan string, 1)

	var quiet TestRecorder
	RequireNoMoreValues(&quiet, ch, time.Millisecond)
	assert.NoError(t, quiet.Err())

	noisy := TestRecorder{PanicOnTerminate: true}
	ch <- "a"
	assert.Panics(t, func() { RequireNoMoreValues(&noisy, ch, time.Millisecond) })
	assert.Equal(t, []string{"unexpected value received: a"}, noisy.Errors)
}

package main

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/extension-ci/chromium-test-harness/framework/harness"
	"github.com/extension-ci/chromium-test-harness/framework/opt"
	"github.com/extension-ci/chromium-test-harness/framework/tap"
)

func TestExitCode(t *testing.T) {
	passed := tap.Results{Tests: []tap.TestResult{{Status: tap.StatusPassed}}}
	failure := tap.TestResult{Status: tap.StatusFailed}
	failed := tap.Results{Tests: []tap.TestResult{failure}, Failures: []tap.TestResult{failure}}
	incomplete := tap.Results{Tests: passed.Tests, Planned: opt.Some(2)}
	planned := tap.Results{Tests: passed.Tests, Planned: opt.Some(1)}

	completed := harness.Outcome{Reason: harness.EndCompleted}
	dead := harness.Outcome{Reason: harness.EndSessionDead}
	interrupted := harness.Outcome{Reason: harness.EndInterrupted, Signal: syscall.SIGTERM}

	assert.Equal(t, 0, exitCode(completed, passed))
	assert.Equal(t, 0, exitCode(completed, planned))
	assert.Equal(t, 0, exitCode(dead, planned))
	assert.Equal(t, 1, exitCode(dead, passed))
	assert.Equal(t, 1, exitCode(dead, tap.Results{}))
	assert.Equal(t, 1, exitCode(completed, failed))
	assert.Equal(t, 1, exitCode(dead, incomplete))
	assert.Equal(t, 128+int(syscall.SIGTERM), exitCode(interrupted, passed))
	assert.Equal(t, 128+int(syscall.SIGTERM), exitCode(interrupted, failed))
}

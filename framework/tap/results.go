package tap

import (
	"strings"

	"github.com/extension-ci/chromium-test-harness/framework/opt"
)

type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	StatusSkipped
	StatusTodo
	// StatusSuppressed is a failure that was expected, per the known-failure patterns.
	StatusSuppressed
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusTodo:
		return "todo"
	case StatusSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

type Results struct {
	Tests      []TestResult
	Failures   []TestResult
	Suppressed []TestResult
	Planned    opt.Maybe[int]
	BailOut    opt.Maybe[string]
}

type TestResult struct {
	TestID      TestID
	Number      int
	Status      Status
	Reason      string
	Diagnostics []string
}

// OK is true if nothing failed, the tests did not bail out, and at least as many tests ran as
// were planned.
func (r Results) OK() bool {
	return len(r.Failures) == 0 && !r.BailOut.IsDefined() && r.Missing() == 0
}

// Missing returns how many planned tests never reported a result.
func (r Results) Missing() int {
	if !r.Planned.IsDefined() || len(r.Tests) >= r.Planned.Value() {
		return 0
	}
	return r.Planned.Value() - len(r.Tests)
}

// TestID is the group name, if the test ran under one, followed by the test's description.
type TestID []string

func (t TestID) String() string {
	return strings.Join(t, "/")
}

func (t TestID) Plus(name string) TestID {
	return append(append(TestID(nil), t...), name)
}

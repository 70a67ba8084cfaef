package tap

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/extension-ci/chromium-test-harness/framework/opt"
)

var (
	resultLineRegex = regexp.MustCompile(`^(not )?ok\b(?:\s+(\d+))?(?:\s*-)?\s*(.*)$`)
	directiveRegex  = regexp.MustCompile(`(?i)^(.*?)\s*#\s*(skip|todo)\b\S*\s*(.*)$`)
	planRegex       = regexp.MustCompile(`^1\.\.(\d+)(?:\s*#\s*(.*))?$`)
	bailOutRegex    = regexp.MustCompile(`^Bail out!\s*(.*)$`)
	commentRegex    = regexp.MustCompile(`^#\s*(.*)$`)
	// tape ends its output with counts that look like group names
	summaryRegex = regexp.MustCompile(`^(?:(?:tests|pass|fail|todo|skip)\s+\d+|ok)$`)
)

// Recorder builds Results from TAP output as it arrives, one line at a time. Comment lines
// that are not part of a summary name the group that the following tests belong to.
//
// A result is passed to the TestLogger once the lines that follow it show that it has no
// more diagnostics, or when Finish is called.
type Recorder struct {
	filters  RegexFilters
	logger   TestLogger
	group    string
	pending  *TestResult
	results  Results
	finished bool
	lock     sync.Mutex
}

func NewRecorder(filters RegexFilters, logger TestLogger) *Recorder {
	if logger == nil {
		logger = nullTestLogger{}
	}
	return &Recorder{filters: filters, logger: logger}
}

// Observe interprets one line of TAP output. Lines that are not TAP are ignored.
func (r *Recorder) Observe(line string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.finished || r.results.BailOut.IsDefined() {
		return
	}

	if r.pending != nil && line != strings.TrimLeft(line, " \t") {
		if d := strings.TrimSpace(line); d != "---" && d != "..." && d != "" {
			r.pending.Diagnostics = append(r.pending.Diagnostics, d)
		}
		return
	}
	r.flush()

	line = strings.TrimSpace(line)
	if m := resultLineRegex.FindStringSubmatch(line); m != nil {
		r.pending = r.parseResult(m[1] == "", m[2], m[3])
		return
	}
	if m := planRegex.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			r.results.Planned = opt.Some(n)
		}
		return
	}
	if m := bailOutRegex.FindStringSubmatch(line); m != nil {
		r.results.BailOut = opt.Some(m[1])
		return
	}
	if m := commentRegex.FindStringSubmatch(line); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" && !summaryRegex.MatchString(name) {
			r.group = name
		}
	}
}

// Finish reports any result still waiting for diagnostics and returns the final Results.
// Lines observed afterward are ignored.
func (r *Recorder) Finish() Results {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.flush()
	r.finished = true
	return r.copyResults()
}

// Results returns what has been recorded so far.
func (r *Recorder) Results() Results {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.copyResults()
}

func (r *Recorder) parseResult(passed bool, number, description string) *TestResult {
	result := &TestResult{Status: StatusPassed}
	if !passed {
		result.Status = StatusFailed
	}
	if n, err := strconv.Atoi(number); err == nil {
		result.Number = n
	} else {
		result.Number = len(r.results.Tests) + 1
	}
	if m := directiveRegex.FindStringSubmatch(description); m != nil {
		description = m[1]
		result.Reason = m[3]
		if strings.EqualFold(m[2], "skip") {
			result.Status = StatusSkipped
		} else {
			result.Status = StatusTodo
		}
	}
	if r.group != "" {
		result.TestID = TestID{r.group}
	}
	result.TestID = result.TestID.Plus(strings.TrimSpace(description))
	if result.Status == StatusFailed && r.filters.Suppressed(result.TestID) {
		result.Status = StatusSuppressed
	}
	return result
}

func (r *Recorder) flush() {
	if r.pending == nil {
		return
	}
	result := *r.pending
	r.pending = nil
	r.results.Tests = append(r.results.Tests, result)
	switch result.Status {
	case StatusFailed:
		r.results.Failures = append(r.results.Failures, result)
	case StatusSuppressed:
		r.results.Suppressed = append(r.results.Suppressed, result)
	}
	r.logger.TestFinished(result)
}

func (r *Recorder) copyResults() Results {
	ret := r.results
	ret.Tests = slices.Clone(r.results.Tests)
	ret.Failures = slices.Clone(r.results.Failures)
	ret.Suppressed = slices.Clone(r.results.Suppressed)
	return ret
}

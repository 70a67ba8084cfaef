package tap

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var consoleTestErrorColor = color.New(color.FgYellow)              //nolint:gochecknoglobals
var consoleTestFailedColor = color.New(color.FgRed)                //nolint:gochecknoglobals
var consoleTestSkippedColor = color.New(color.Faint, color.FgBlue) //nolint:gochecknoglobals
var consoleTestIgnoredColor = color.New(color.Faint)               //nolint:gochecknoglobals
var allTestsPassedColor = color.New(color.FgGreen)                 //nolint:gochecknoglobals

type TestLogger interface {
	TestFinished(result TestResult)
	EndLog(results Results) error
}

type nullTestLogger struct{}

func (n nullTestLogger) TestFinished(TestResult) {}
func (n nullTestLogger) EndLog(Results) error    { return nil }

// ConsoleTestLogger reports anything other than a passing test as it happens, and a summary at
// the end. Passing tests are not mentioned, since their TAP lines are already being printed.
type ConsoleTestLogger struct {
	Output io.Writer
}

func (c ConsoleTestLogger) TestFinished(result TestResult) {
	switch result.Status {
	case StatusFailed:
		_, _ = consoleTestFailedColor.Fprintf(c.Output, "  FAILED: %s\n", result.TestID)
		for _, line := range result.Diagnostics {
			_, _ = consoleTestErrorColor.Fprintf(c.Output, "    %s\n", line)
		}
	case StatusSuppressed:
		_, _ = consoleTestIgnoredColor.Fprintf(c.Output, "  FAILED (known failure, ignored): %s\n", result.TestID)
	case StatusSkipped, StatusTodo:
		label := strings.ToUpper(result.Status.String())
		if result.Reason == "" {
			_, _ = consoleTestSkippedColor.Fprintf(c.Output, "  %s: %s\n", label, result.TestID)
		} else {
			_, _ = consoleTestSkippedColor.Fprintf(c.Output, "  %s: %s (%s)\n", label, result.TestID, result.Reason)
		}
	}
}

func (c ConsoleTestLogger) EndLog(results Results) error {
	PrintResults(c.Output, results)
	return nil
}

func PrintResults(w io.Writer, results Results) {
	if results.OK() {
		_, _ = allTestsPassedColor.Fprintf(w, "All tests passed (%d)\n", len(results.Tests))
		if len(results.Suppressed) != 0 {
			_, _ = consoleTestIgnoredColor.Fprintf(w, "%d known failures were ignored\n", len(results.Suppressed))
		}
		return
	}
	if results.BailOut.IsDefined() {
		_, _ = consoleTestFailedColor.Fprintf(w, "TESTS BAILED OUT: %s\n", results.BailOut.Value())
	}
	if missing := results.Missing(); missing != 0 {
		_, _ = consoleTestFailedColor.Fprintf(w, "%d of %d PLANNED TESTS DID NOT RUN\n",
			missing, results.Planned.Value())
	}
	if len(results.Failures) != 0 {
		_, _ = consoleTestFailedColor.Fprintf(w, "FAILED TESTS (%d):\n", len(results.Failures))
		for _, f := range results.Failures {
			_, _ = consoleTestFailedColor.Fprintf(w, "  * %s\n", f.TestID)
		}
	}
}

// MultiTestLogger passes everything on to each of its Loggers.
type MultiTestLogger struct {
	Loggers []TestLogger
}

func (m *MultiTestLogger) TestFinished(result TestResult) {
	for _, l := range m.Loggers {
		l.TestFinished(result)
	}
}

func (m *MultiTestLogger) EndLog(results Results) error {
	var errs []error
	for _, l := range m.Loggers {
		if err := l.EndLog(results); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("error writing test results: %w", err)
	}
	return nil
}

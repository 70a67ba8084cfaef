package main

import (
	"context"
	_ "embed" // this is required in order for go:embed to work
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/extension-ci/chromium-test-harness/framework"
	"github.com/extension-ci/chromium-test-harness/framework/browser"
	"github.com/extension-ci/chromium-test-harness/framework/harness"
	"github.com/extension-ci/chromium-test-harness/framework/tap"
)

//go:embed VERSION
var versionString string // comes from the VERSION file which we update for each release

func main() {
	fmt.Fprintf(os.Stderr, "chromium-test-harness v%s\n", strings.TrimSpace(versionString))

	var params commandParams
	if !params.Read(os.Args) {
		os.Exit(1)
	}

	code, err := run(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(params commandParams) (int, error) {
	fs := afero.NewOsFs()
	if params.skipFile != "" {
		if err := tap.LoadSuppressions(fs, params.skipFile, &params.filters); err != nil {
			return 1, err
		}
	}
	tap.PrintFilterDescription(os.Stderr, params.filters)

	logger := framework.NewLogger(os.Stderr, params.config.Debug)

	var testLogger tap.TestLogger = tap.ConsoleTestLogger{Output: os.Stderr}
	if params.config.JUnitFile != "" {
		testLogger = &tap.MultiTestLogger{Loggers: []tap.TestLogger{
			testLogger,
			tap.NewJUnitTestLogger(fs, params.config.JUnitFile, params.filters),
		}}
	}
	recorder := tap.NewRecorder(params.filters, testLogger)

	exclude, err := params.serviceOutputExclude()
	if err != nil {
		return 1, err
	}
	command := params.serviceCommand()
	service, err := harness.NewServiceProcess(command[0], command[1:],
		harness.ServiceOutput(os.Stderr, exclude...),
		harness.ServiceLogger(framework.LoggerWithPrefix(logger, "[service] ")),
	)
	if err != nil {
		return 1, err
	}

	launcher := browser.NewChromiumLauncher(params.chromiumConfig(), framework.LoggerWithPrefix(logger, "[browser] "))
	h, err := harness.NewHarness(params.harnessConfig(), launcher, service,
		harness.WithFilesystem(fs),
		harness.WithLineObserver(recorder.Observe),
		harness.WithLogger(logger),
	)
	if err != nil {
		return 1, err
	}

	outcome, err := h.Run(context.Background())
	if err != nil {
		return 1, err
	}
	fmt.Fprintf(os.Stderr, "\nTest run ended: %s\n", outcome.Reason)

	results := recorder.Finish()
	if params.config.JUnitFile != "" {
		fmt.Fprintf(os.Stderr, "Writing JUnit data to %s\n", params.config.JUnitFile)
	}
	if err := testLogger.EndLog(results); err != nil {
		return 1, fmt.Errorf("error writing log: %w", err)
	}
	return exitCode(outcome, results), nil
}

// exitCode is 128 plus the signal number if the run was interrupted, otherwise 0 only if the
// tests passed. A browser that went away without ever announcing a plan counts as a failure.
func exitCode(outcome harness.Outcome, results tap.Results) int {
	unplanned := outcome.Reason == harness.EndSessionDead && !results.Planned.IsDefined()
	if outcome.Reason == harness.EndInterrupted || unplanned || !results.OK() {
		return max(outcome.ExitCode(), 1)
	}
	return outcome.ExitCode()
}

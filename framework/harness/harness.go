package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/extension-ci/chromium-test-harness/framework"
	"github.com/extension-ci/chromium-test-harness/framework/archive"
	"github.com/extension-ci/chromium-test-harness/framework/browser"
	"github.com/extension-ci/chromium-test-harness/framework/helpers"
	"github.com/extension-ci/chromium-test-harness/framework/opt"
)

// DefaultServiceReadyTimeout is how long to wait for the mock service when a status URL is set.
const DefaultServiceReadyTimeout = time.Second * 10

// Config holds the parameters of a test run.
type Config struct {
	// BuildDir is the extension build output to package.
	BuildDir string

	// ArtifactPath is where the packaged extension is written.
	ArtifactPath string

	// Exclude lists glob patterns of build files to leave out of the artifact.
	Exclude []string

	// ExtensionURLPrefix identifies the extension's own pages.
	ExtensionURLPrefix string

	// PollInterval is how often the browser console is read.
	PollInterval time.Duration

	// LocatePollInterval is the pause between attempts to find the extension's page.
	LocatePollInterval time.Duration

	// LocateTimeout and LocateMaxAttempts optionally bound the search for the extension's page.
	LocateTimeout     opt.Maybe[time.Duration]
	LocateMaxAttempts opt.Maybe[int]

	// ServiceURL, if set, is polled after launch until the mock service answers.
	ServiceURL          string
	ServiceReadyTimeout time.Duration

	Wire WireFormat
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BuildDir:            "build",
		ArtifactPath:        "ext.zip",
		ExtensionURLPrefix:  DefaultExtensionURLPrefix,
		PollInterval:        DefaultPollInterval,
		ServiceReadyTimeout: DefaultServiceReadyTimeout,
		Wire:                DefaultWireFormat(),
	}
}

// Outcome describes how a run ended.
type Outcome struct {
	Reason EndReason

	// Signal is the signal that interrupted the run, if that is what ended it.
	Signal os.Signal
}

// Harness runs the extension's browser tests. It owns the mock service and the browser session
// for the duration of Run; nothing else may stop them.
type Harness struct {
	config       Config
	launcher     browser.Launcher
	service      Service
	fs           afero.Fs
	output       io.Writer
	statusOutput io.Writer
	lineObserver func(string)
	signals      <-chan os.Signal
	logger       framework.Logger
}

// HarnessOption is a configuration option for NewHarness.
type HarnessOption helpers.ConfigOption[Harness]

type harnessOptionFunc func(*Harness)

func (f harnessOptionFunc) Configure(h *Harness) error {
	f(h)
	return nil
}

// WithFilesystem sets the filesystem that the build directory is read from and the artifact
// written to. The default is the OS filesystem.
func WithFilesystem(fs afero.Fs) HarnessOption {
	return harnessOptionFunc(func(h *Harness) { h.fs = fs })
}

// WithOutput sets where decoded test output lines are written. The default is os.Stdout.
func WithOutput(w io.Writer) HarnessOption {
	return harnessOptionFunc(func(h *Harness) { h.output = w })
}

// WithStatusOutput sets where progress messages are written. The default is os.Stderr.
func WithStatusOutput(w io.Writer) HarnessOption {
	return harnessOptionFunc(func(h *Harness) { h.statusOutput = w })
}

// WithLineObserver registers a function that sees every decoded line after it is written.
func WithLineObserver(fn func(line string)) HarnessOption {
	return harnessOptionFunc(func(h *Harness) { h.lineObserver = fn })
}

// WithSignals makes Run treat values received on ch as termination signals, instead of
// subscribing to SIGINT and SIGTERM itself.
func WithSignals(ch <-chan os.Signal) HarnessOption {
	return harnessOptionFunc(func(h *Harness) { h.signals = ch })
}

// WithLogger sets the debug logger.
func WithLogger(logger framework.Logger) HarnessOption {
	return harnessOptionFunc(func(h *Harness) { h.logger = logger })
}

// NewHarness creates a Harness that will launch browsers with launcher and run service
// alongside them.
func NewHarness(
	config Config,
	launcher browser.Launcher,
	service Service,
	options ...HarnessOption,
) (*Harness, error) {
	h := &Harness{
		config:       config,
		launcher:     launcher,
		service:      service,
		fs:           afero.NewOsFs(),
		output:       os.Stdout,
		statusOutput: os.Stderr,
		logger:       framework.NullLogger(),
	}
	if err := helpers.ApplyOptions(h, options...); err != nil {
		return nil, err
	}
	if h.config.Wire.Prefix == "" {
		h.config.Wire = DefaultWireFormat()
	}
	if h.config.ExtensionURLPrefix == "" {
		h.config.ExtensionURLPrefix = DefaultExtensionURLPrefix
	}
	return h, nil
}

// Run performs one test run: package the extension, start the mock service and the browser,
// find the extension's page and relay its test output until the end sentinel, the browser
// exits, or the harness is told to stop. Everything that was started is cleaned up before Run
// returns.
//
// Run returns an error only if the run could not get going. How a run that did get going
// ended is reported in the Outcome.
func (h *Harness) Run(ctx context.Context) (Outcome, error) {
	teardown := NewTeardown(framework.LoggerWithPrefix(h.logger, "[teardown] "))
	runCtx, cancel := context.WithCancel(ctx)

	signals := h.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	var received os.Signal
	var receivedLock sync.Mutex
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case sig := <-signals:
			h.logger.Printf("Received %s", sig)
			receivedLock.Lock()
			received = sig
			receivedLock.Unlock()
			teardown.Trigger(EndInterrupted)
			cancel()
		case <-runCtx.Done():
			teardown.Trigger(EndInterrupted)
		case <-teardown.Done():
		}
	}()
	defer func() {
		cancel()
		<-watcherDone
	}()

	finish := func(reason EndReason, err error) (Outcome, error) {
		if reason == EndAborted && runCtx.Err() != nil {
			reason = EndInterrupted
		}
		teardown.Trigger(reason)
		<-teardown.Done()
		outcome := Outcome{Reason: teardown.Reason()}
		receivedLock.Lock()
		if outcome.Reason == EndInterrupted {
			outcome.Signal = received
		}
		receivedLock.Unlock()
		if outcome.Reason == EndInterrupted {
			// whatever failed did so because we were stopping
			err = nil
		}
		return outcome, err
	}

	if err := h.service.Start(); err != nil {
		return finish(EndAborted, fmt.Errorf("failed to start mock service: %w", err))
	}
	teardown.AttachService(h.service)

	fmt.Fprintf(h.statusOutput, "Packaging %s into %s\n", h.config.BuildDir, h.config.ArtifactPath)
	err := archive.Directory(h.fs, h.config.BuildDir, h.config.ArtifactPath, archive.Exclude(h.config.Exclude...))
	if err != nil {
		return finish(EndAborted, fmt.Errorf("failed to package extension: %w", err))
	}
	if runCtx.Err() != nil {
		return finish(EndInterrupted, nil)
	}

	fmt.Fprintln(h.statusOutput, "Launching browser")
	session, err := h.launcher.Launch(runCtx, h.config.ArtifactPath)
	if err != nil {
		return finish(EndAborted, fmt.Errorf("failed to launch browser: %w", err))
	}
	teardown.AttachSession(session)

	if h.config.ServiceURL != "" {
		timeout := h.config.ServiceReadyTimeout
		if timeout <= 0 {
			timeout = DefaultServiceReadyTimeout
		}
		if err := AwaitServiceReady(runCtx, h.config.ServiceURL, timeout, h.statusOutput); err != nil {
			return finish(EndAborted, fmt.Errorf("mock service did not become ready: %w", err))
		}
	}

	handle, err := LocateExtensionContext(runCtx, session, h.config.ExtensionURLPrefix,
		LocatePollInterval(h.config.LocatePollInterval),
		LocateTimeout(h.config.LocateTimeout),
		LocateMaxAttempts(h.config.LocateMaxAttempts),
		LocateLogger(framework.LoggerWithPrefix(h.logger, "[locator] ")),
	)
	if err != nil {
		if browser.IsSessionGone(err) {
			return finish(EndSessionDead, nil)
		}
		return finish(EndAborted, fmt.Errorf("could not find the extension's page: %w", err))
	}
	fmt.Fprintf(h.statusOutput, "Running tests in %s\n", handle)

	monitor := StartLogMonitor(session, h.config.PollInterval, h.config.Wire, MonitorHandlers{
		OnLine: h.emit,
		OnEnd:  teardown.Trigger,
	}, framework.LoggerWithPrefix(h.logger, "[monitor] "))
	teardown.AttachMonitor(monitor)

	<-teardown.Done()
	<-monitor.Done()
	return finish(EndNone, nil)
}

func (h *Harness) emit(line string) {
	if _, err := fmt.Fprintln(h.output, line); err != nil {
		h.logger.Printf("Could not write test output: %s", err)
	}
	if h.lineObserver != nil {
		h.lineObserver(line)
	}
}

// ExitCode returns the conventional process exit status for a run that ended this way:
// 128 plus the signal number for an interrupted run, 1 for an aborted one, otherwise 0.
func (o Outcome) ExitCode() int {
	switch o.Reason {
	case EndInterrupted:
		if sig, ok := o.Signal.(syscall.Signal); ok {
			return 128 + int(sig)
		}
		return 128 + int(syscall.SIGINT)
	case EndAborted:
		return 1
	default:
		return 0
	}
}

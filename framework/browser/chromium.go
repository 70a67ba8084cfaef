package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"

	"github.com/extension-ci/chromium-test-harness/framework"
	"github.com/extension-ci/chromium-test-harness/framework/archive"
)

// ChromiumConfig describes how to start Chromium.
type ChromiumConfig struct {
	// ExecutablePath is the browser binary to run. If empty, the Chromium build that
	// playwright manages is used.
	ExecutablePath string

	// Headless runs the browser without a visible window.
	Headless bool

	// InstallDriver downloads the playwright driver and browsers before launching.
	InstallDriver bool

	// ExtraArgs are appended to the browser command line.
	ExtraArgs []string
}

// ChromiumLauncher is a Launcher that runs Chromium through playwright, with the extension
// artifact loaded as an unpacked extension.
type ChromiumLauncher struct {
	config ChromiumConfig
	logger framework.Logger
}

// NewChromiumLauncher creates a ChromiumLauncher.
func NewChromiumLauncher(config ChromiumConfig, logger framework.Logger) *ChromiumLauncher {
	if logger == nil {
		logger = framework.NullLogger()
	}
	return &ChromiumLauncher{config: config, logger: logger}
}

// Launch unpacks the artifact into a scratch directory and starts Chromium with a fresh profile
// that loads it. Chromium only loads unpacked extensions from the command line.
func (l *ChromiumLauncher) Launch(ctx context.Context, artifactPath string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "chromium-test-harness-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("cannot create browser work directory: %w", err)
	}
	extensionDir := filepath.Join(workDir, "extension")
	profileDir := filepath.Join(workDir, "profile")

	if err := archive.Extract(afero.NewOsFs(), artifactPath, extensionDir); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}

	runOptions := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if l.config.InstallDriver {
		l.logger.Printf("Installing playwright driver")
		if err := playwright.Install(runOptions); err != nil {
			_ = os.RemoveAll(workDir)
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOptions)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	l.logger.Printf("Launching Chromium with extension from %s", extensionDir)
	browserContext, err := pw.Chromium.LaunchPersistentContext(profileDir, l.config.launchOptions(extensionDir))
	if err != nil {
		_ = pw.Stop()
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return newChromiumSession(pw, browserContext, workDir, l.logger), nil
}

func (c ChromiumConfig) launchOptions(extensionDir string) playwright.BrowserTypeLaunchPersistentContextOptions {
	args := []string{
		"--no-sandbox",
		"--disable-extensions-except=" + extensionDir,
		"--load-extension=" + extensionDir,
	}
	// playwright passes --disable-extensions by default, which would keep ours from loading
	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Args:              append(args, c.ExtraArgs...),
		ChromiumSandbox:   playwright.Bool(false),
		Headless:          playwright.Bool(c.Headless),
		IgnoreDefaultArgs: []string{"--disable-extensions"},
	}
	if c.ExecutablePath != "" {
		opts.ExecutablePath = playwright.String(c.ExecutablePath)
	}
	return opts
}

type trackedPage struct {
	handle ContextHandle
	page   playwright.Page
}

// chromiumSession implements Session over a playwright persistent context. Pages and background
// pages are the execution contexts. Console output from all of them is collected in one buffer,
// the way the browser-wide log works in WebDriver.
//
// Playwright dispatches events on its own goroutine while our calls wait on it for replies, so
// the lock is never held across a playwright call.
type chromiumSession struct {
	pw           *playwright.Playwright
	context      playwright.BrowserContext
	workDir      string
	logger       framework.Logger
	logs         logBuffer
	pages        []trackedPage
	activeHandle ContextHandle
	gone         bool
	lock         sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func newChromiumSession(
	pw *playwright.Playwright,
	browserContext playwright.BrowserContext,
	workDir string,
	logger framework.Logger,
) *chromiumSession {
	s := &chromiumSession{
		pw:      pw,
		context: browserContext,
		workDir: workDir,
		logger:  logger,
	}
	browserContext.OnConsole(func(m playwright.ConsoleMessage) {
		s.logs.append(LogEntry{Time: time.Now(), Level: m.Type(), Message: m.Text()})
	})
	browserContext.OnPage(s.track)
	browserContext.OnBackgroundPage(s.track)
	browserContext.OnClose(func(playwright.BrowserContext) {
		s.lock.Lock()
		s.gone = true
		s.lock.Unlock()
		logger.Printf("Browser context closed")
	})
	for _, p := range browserContext.BackgroundPages() {
		s.track(p)
	}
	for _, p := range browserContext.Pages() {
		s.track(p)
	}
	return s
}

func (s *chromiumSession) track(page playwright.Page) {
	s.lock.Lock()
	if slices.IndexFunc(s.pages, func(t trackedPage) bool { return t.page == page }) >= 0 {
		s.lock.Unlock()
		return
	}
	handle := ContextHandle(uuid.NewString())
	s.pages = append(s.pages, trackedPage{handle: handle, page: page})
	s.lock.Unlock()

	s.logger.Printf("New browser context %s", handle)
	page.OnClose(func(p playwright.Page) {
		s.lock.Lock()
		s.pages = slices.DeleteFunc(s.pages, func(t trackedPage) bool { return t.page == p })
		s.lock.Unlock()
		s.logger.Printf("Browser context %s closed", handle)
	})
}

func (s *chromiumSession) Contexts(ctx context.Context) ([]ContextHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.gone {
		return nil, ErrSessionGone
	}
	ret := make([]ContextHandle, 0, len(s.pages))
	for _, t := range s.pages {
		ret = append(ret, t.handle)
	}
	return ret, nil
}

func (s *chromiumSession) SwitchTo(ctx context.Context, handle ContextHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.gone {
		return ErrSessionGone
	}
	if slices.IndexFunc(s.pages, func(t trackedPage) bool { return t.handle == handle }) < 0 {
		return fmt.Errorf("%w: %s", ErrContextNotFound, handle)
	}
	s.activeHandle = handle
	return nil
}

func (s *chromiumSession) activePage() (playwright.Page, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.gone {
		return nil, ErrSessionGone
	}
	if s.activeHandle == "" {
		return nil, ErrNoActiveContext
	}
	i := slices.IndexFunc(s.pages, func(t trackedPage) bool { return t.handle == s.activeHandle })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, s.activeHandle)
	}
	return s.pages[i].page, nil
}

func (s *chromiumSession) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	page, err := s.activePage()
	if err != nil {
		return "", err
	}
	return page.URL(), nil
}

func (s *chromiumSession) ReadLogs(ctx context.Context) ([]LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := s.logs.drain()
	if len(entries) == 0 {
		s.lock.Lock()
		gone := s.gone
		s.lock.Unlock()
		if gone {
			return nil, ErrSessionGone
		}
	}
	return entries, nil
}

// Title queries the active context. Once the harness has settled on the extension's page, that
// page going away ends the run just like the whole browser exiting, so a closed active context
// is reported as ErrSessionGone.
func (s *chromiumSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	page, err := s.activePage()
	if errors.Is(err, ErrContextNotFound) {
		return "", fmt.Errorf("%w: active context was closed", ErrSessionGone)
	}
	if err != nil {
		return "", err
	}
	title, err := page.Title()
	if err != nil {
		if errors.Is(err, playwright.ErrTargetClosed) {
			return "", fmt.Errorf("%w: %s", ErrSessionGone, err)
		}
		return "", err
	}
	return title, nil
}

func (s *chromiumSession) Close() error {
	s.closeOnce.Do(func() {
		s.lock.Lock()
		wasGone := s.gone
		s.gone = true
		s.lock.Unlock()

		var errs []error
		if !wasGone {
			if err := s.context.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
				errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
			}
		}
		if err := s.pw.Stop(); err != nil {
			if wasGone {
				s.logger.Printf("Ignoring error from stopping playwright after browser exit: %s", err)
			} else {
				errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
			}
		}
		if err := os.RemoveAll(s.workDir); err != nil {
			s.logger.Printf("Could not remove %s: %s", s.workDir, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// logBuffer holds console entries between drains.
type logBuffer struct {
	entries []LogEntry
	lock    sync.Mutex
}

func (b *logBuffer) append(e LogEntry) {
	b.lock.Lock()
	b.entries = append(b.entries, e)
	b.lock.Unlock()
}

func (b *logBuffer) drain() []LogEntry {
	b.lock.Lock()
	defer b.lock.Unlock()
	ret := b.entries
	b.entries = nil
	return ret
}

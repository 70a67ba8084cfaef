package harness

import (
	"context"
	"errors"
	"sync"

	"github.com/extension-ci/chromium-test-harness/framework/browser"
)

// fakeSession is a scripted browser.Session.
type fakeSession struct {
	// listings are returned by successive Contexts calls; the last one repeats.
	listings [][]browser.ContextHandle
	urls     map[browser.ContextHandle]string
	// drains are returned by successive ReadLogs calls; after they run out ReadLogs returns
	// nothing, or reports the session gone if dieWhenDrained is set.
	drains         [][]browser.LogEntry
	dieWhenDrained bool
	readErrs       []error
	titleErr       error

	active     browser.ContextHandle
	switches   []browser.ContextHandle
	gone       bool
	closeCount int
	titleCount int
	lock       sync.Mutex
}

func newFakeSession() *fakeSession {
	return &fakeSession{urls: make(map[browser.ContextHandle]string)}
}

func (s *fakeSession) withContext(handle browser.ContextHandle, url string) *fakeSession {
	s.urls[handle] = url
	var listing []browser.ContextHandle
	if len(s.listings) > 0 {
		listing = append(listing, s.listings[len(s.listings)-1]...)
	}
	s.listings = append(s.listings, append(listing, handle))
	return s
}

func (s *fakeSession) withLogs(messages ...string) *fakeSession {
	var drain []browser.LogEntry
	for _, m := range messages {
		drain = append(drain, browser.LogEntry{Level: "log", Message: m})
	}
	s.drains = append(s.drains, drain)
	return s
}

func (s *fakeSession) kill() {
	s.lock.Lock()
	s.gone = true
	s.lock.Unlock()
}

func (s *fakeSession) closes() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closeCount
}

func (s *fakeSession) probes() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.titleCount
}

func (s *fakeSession) Contexts(ctx context.Context) ([]browser.ContextHandle, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.gone {
		return nil, browser.ErrSessionGone
	}
	if len(s.listings) == 0 {
		return nil, nil
	}
	listing := s.listings[0]
	if len(s.listings) > 1 {
		s.listings = s.listings[1:]
	}
	return append([]browser.ContextHandle(nil), listing...), nil
}

func (s *fakeSession) SwitchTo(ctx context.Context, handle browser.ContextHandle) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.gone {
		return browser.ErrSessionGone
	}
	s.switches = append(s.switches, handle)
	if _, ok := s.urls[handle]; !ok {
		return browser.ErrContextNotFound
	}
	s.active = handle
	return nil
}

func (s *fakeSession) CurrentURL(ctx context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.gone {
		return "", browser.ErrSessionGone
	}
	if s.active == "" {
		return "", browser.ErrNoActiveContext
	}
	return s.urls[s.active], nil
}

func (s *fakeSession) ReadLogs(ctx context.Context) ([]browser.LogEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.readErrs) > 0 {
		err := s.readErrs[0]
		s.readErrs = s.readErrs[1:]
		return nil, err
	}
	if len(s.drains) > 0 {
		drain := s.drains[0]
		s.drains = s.drains[1:]
		return drain, nil
	}
	if s.dieWhenDrained {
		s.gone = true
	}
	if s.gone {
		return nil, browser.ErrSessionGone
	}
	return nil, nil
}

func (s *fakeSession) Title(ctx context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.titleCount++
	if s.gone {
		return "", browser.ErrSessionGone
	}
	if s.titleErr != nil {
		return "", s.titleErr
	}
	return "tests", nil
}

func (s *fakeSession) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closeCount++
	s.gone = true
	return nil
}

type fakeService struct {
	startErr   error
	killErr    error
	killPanic  bool
	startCount int
	killCount  int
	lock       sync.Mutex
}

func (s *fakeService) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.startCount++
	return s.startErr
}

func (s *fakeService) Kill() error {
	s.lock.Lock()
	s.killCount++
	s.lock.Unlock()
	if s.killPanic {
		panic("kill exploded")
	}
	return s.killErr
}

func (s *fakeService) kills() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.killCount
}

var errFake = errors.New("sorry")

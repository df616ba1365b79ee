package keepalive

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"atrust-autologin/auth"
	"atrust-autologin/pacing"
	"atrust-autologin/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *fakeSession) EnsureLoggedIn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *fakeSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakePortal struct {
	mu        sync.Mutex
	navErr    error
	navigated int
	quits     int
}

func (p *fakePortal) Navigate(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navErr != nil {
		return p.navErr
	}
	p.navigated++
	return nil
}

func (p *fakePortal) Quit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quits++
	return nil
}

func (p *fakePortal) navCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigated
}

func (p *fakePortal) quitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quits
}

func newTestLoop(session Session, client Portal, journal *storage.Journal, interval time.Duration) *Loop {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(Config{
		Session:       session,
		Client:        client,
		Pacer:         pacing.New(0, 0),
		Journal:       journal,
		Log:           log,
		Interval:      interval,
		PortalAddress: "https://portal.example/",
	})
}

func waitStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestRunOneShot(t *testing.T) {
	session := &fakeSession{}
	client := &fakePortal{}
	loop := newTestLoop(session, client, nil, 0)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 1, session.callCount())
	assert.Equal(t, 1, client.quitCount())
	assert.Zero(t, client.navCount())
}

func TestRunRetriesAfterErrors(t *testing.T) {
	journal, err := storage.OpenJournal(filepath.Join(t.TempDir(), "journal.db"), logrus.New())
	require.NoError(t, err)
	defer journal.Close()

	session := &fakeSession{errs: []error{errors.New("first"), errors.New("second")}}
	client := &fakePortal{}
	loop := newTestLoop(session, client, journal, 0)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 3, session.callCount())
	assert.Equal(t, 1, client.quitCount())

	events, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, storage.EventCycleError, events[0].Event)
	assert.Equal(t, "second", events[0].Detail)
	assert.Equal(t, storage.EventCycleError, events[1].Event)
	assert.Equal(t, "first", events[1].Detail)
}

func TestRunOneShotStopsOnConclusiveFailure(t *testing.T) {
	journal, err := storage.OpenJournal(filepath.Join(t.TempDir(), "journal.db"), logrus.New())
	require.NoError(t, err)
	defer journal.Close()

	session := &fakeSession{errs: []error{auth.ErrLoginFailed, auth.ErrLoginFailed}}
	client := &fakePortal{}
	loop := newTestLoop(session, client, journal, 0)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 1, session.callCount())
	assert.Equal(t, 1, client.quitCount())

	events, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.EventCycleError, events[0].Event)
}

func TestRunOneShotStopsWhenInteractionRequired(t *testing.T) {
	session := &fakeSession{errs: []error{auth.ErrInteractionRequired}}
	client := &fakePortal{}
	loop := newTestLoop(session, client, nil, 0)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 1, session.callCount())
	assert.Equal(t, 1, client.quitCount())
}

func TestRunKeepaliveRetriesConclusiveFailures(t *testing.T) {
	session := &fakeSession{errs: []error{auth.ErrLoginFailed, auth.ErrLoginFailed, auth.ErrLoginFailed}}
	client := &fakePortal{}
	loop := newTestLoop(session, client, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return session.callCount() >= 4 }, 5*time.Second, time.Millisecond)
	cancel()
	waitStop(t, done)
}

func TestRunRefreshesBetweenCycles(t *testing.T) {
	session := &fakeSession{}
	client := &fakePortal{}
	loop := newTestLoop(session, client, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return client.navCount() >= 2 }, 5*time.Second, time.Millisecond)
	cancel()
	waitStop(t, done)

	assert.Equal(t, 1, client.quitCount())
	assert.GreaterOrEqual(t, session.callCount(), 2)
}

func TestRunStopsDuringSleep(t *testing.T) {
	session := &fakeSession{}
	client := &fakePortal{}
	loop := newTestLoop(session, client, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return session.callCount() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	waitStop(t, done)

	assert.Equal(t, 1, client.quitCount())
}

func TestRunRetriesFailedRefresh(t *testing.T) {
	session := &fakeSession{}
	client := &fakePortal{navErr: errors.New("connection reset")}
	loop := newTestLoop(session, client, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return session.callCount() >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	waitStop(t, done)
}

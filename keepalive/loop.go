// Package keepalive runs the session refresh cycle that keeps the VPN
// portal login alive for as long as the process runs.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"atrust-autologin/auth"
	"atrust-autologin/pacing"
	"atrust-autologin/storage"
)

// Session is the part of the session manager the loop drives
type Session interface {
	EnsureLoggedIn(ctx context.Context) error
}

// Portal is the slice of the browser client the loop needs for refreshes
// and shutdown
type Portal interface {
	Navigate(url string) error
	Quit() error
}

// Config wires a Loop's collaborators together
type Config struct {
	Session       Session
	Client        Portal
	Pacer         *pacing.Pacer
	Journal       *storage.Journal
	Log           *logrus.Logger
	Interval      time.Duration
	PortalAddress string
}

// Loop keeps the session alive until the context is cancelled. Cycle errors
// are logged and retried. A non-positive interval selects one-shot mode:
// the loop stops after the first cycle that ends in a definite outcome.
type Loop struct {
	session       Session
	client        Portal
	pacer         *pacing.Pacer
	journal       *storage.Journal
	log           *logrus.Logger
	interval      time.Duration
	portalAddress string
}

// New creates a keepalive loop
func New(cfg Config) *Loop {
	return &Loop{
		session:       cfg.Session,
		client:        cfg.Client,
		pacer:         cfg.Pacer,
		journal:       cfg.Journal,
		log:           cfg.Log,
		interval:      cfg.Interval,
		portalAddress: cfg.PortalAddress,
	}
}

// Run drives refresh cycles until ctx is cancelled. Cancellation is the
// normal way to stop and returns nil after the browser is shut down.
func (l *Loop) Run(ctx context.Context) error {
	for {
		done, err := l.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.journal.Record(storage.EventCycleError, err.Error())

			if l.interval <= 0 && conclusive(err) {
				l.log.WithError(err).Error("One-shot login did not succeed")
				return l.client.Quit()
			}

			l.log.WithError(err).Error("Keepalive cycle failed, retrying")
			if err := l.pacer.Settle(ctx); err != nil {
				break
			}
			continue
		}
		if done {
			l.log.Info("One-shot login complete")
			return l.client.Quit()
		}
	}

	l.log.Info("Keepalive loop stopping")
	if err := l.client.Quit(); err != nil {
		l.log.WithError(err).Warn("Failed to close browser")
	}
	return nil
}

// cycle performs one ensure-sleep-refresh round. It reports done for
// one-shot runs where no further cycles are wanted.
func (l *Loop) cycle(ctx context.Context) (bool, error) {
	if err := l.session.EnsureLoggedIn(ctx); err != nil {
		return false, err
	}
	if l.interval <= 0 {
		return true, nil
	}
	if err := l.pacer.Sleep(ctx, l.interval); err != nil {
		return false, err
	}

	// Reload the portal so its own frontend keepalive runs against a
	// fresh page.
	if err := l.client.Navigate(l.portalAddress); err != nil {
		return false, fmt.Errorf("failed to refresh portal: %w", err)
	}
	if err := l.pacer.Settle(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// conclusive reports whether the login attempt ran to a definite end.
// Retrying cannot change these outcomes without operator action, transient
// timeouts and navigation errors can clear on their own.
func conclusive(err error) bool {
	return errors.Is(err, auth.ErrLoginFailed) ||
		errors.Is(err, auth.ErrInteractionRequired) ||
		errors.Is(err, auth.ErrNoCredentials)
}

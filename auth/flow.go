package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"atrust-autologin/config"
	"atrust-autologin/pacing"
	"atrust-autologin/portal"
)

// ErrNoCredentials reports a login attempt without configured credentials.
// Restoring a persisted session needs none, submitting the form does.
var ErrNoCredentials = errors.New("auth: credentials not configured")

// Credentials live in memory only and are never written to disk
type Credentials struct {
	Username string
	Password string
}

// Flow drives the portal's login form at a human pace. It makes no claim
// about the outcome, detection decides afterwards whether the portal
// accepted the credentials.
type Flow struct {
	client    portal.Client
	pacer     *pacing.Pacer
	selectors config.SelectorsConfig
	wait      time.Duration
	log       *logrus.Logger
}

// NewFlow creates a login flow over the given client
func NewFlow(client portal.Client, pacer *pacing.Pacer, selectors config.SelectorsConfig, elementWait time.Duration, log *logrus.Logger) *Flow {
	return &Flow{
		client:    client,
		pacer:     pacer,
		selectors: selectors,
		wait:      elementWait,
		log:       log,
	}
}

// Submit fills the credential form and clicks the login button
func (f *Flow) Submit(ctx context.Context, creds Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return ErrNoCredentials
	}

	// The portal may offer several auth methods on a tab bar; switch to
	// local password login when that tab is present.
	if f.selectors.LocalLoginTab != "" {
		tab := portal.ParseLocator(f.selectors.LocalLoginTab)
		if portal.TryFindAndClick(f.client, tab, f.log) {
			f.log.Debug("Switched to local password login")
			if err := f.pacer.Pause(ctx); err != nil {
				return err
			}
		}
	}

	userField, err := f.client.WaitClickable(portal.ParseLocator(f.selectors.UsernameField), f.wait)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	passField, err := f.client.WaitClickable(portal.ParseLocator(f.selectors.PasswordField), f.wait)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}

	if err := f.fill(ctx, userField, creds.Username); err != nil {
		return fmt.Errorf("failed to fill username: %w", err)
	}
	if err := f.fill(ctx, passField, creds.Password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	f.log.Debug("Filled username and password")

	if err := f.pacer.Pause(ctx); err != nil {
		return err
	}

	button, err := f.client.WaitClickable(portal.ParseLocator(f.selectors.LoginButton), f.wait)
	if err != nil {
		return fmt.Errorf("login button: %w", err)
	}
	if err := button.ScrollClick(); err != nil {
		return fmt.Errorf("failed to click login button: %w", err)
	}

	f.log.Info("Submitted login form")
	return nil
}

// fill focuses a field, clears it and types the text with human pacing
func (f *Flow) fill(ctx context.Context, el portal.Element, text string) error {
	if err := el.ScrollClick(); err != nil {
		return err
	}
	if err := f.pacer.Pause(ctx); err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return err
	}
	return f.typeText(ctx, el, text)
}

// typeText types character by character with randomized delays and the
// occasional thinking pause
func (f *Flow) typeText(ctx context.Context, el portal.Element, text string) error {
	for i, char := range text {
		if err := el.Input(string(char)); err != nil {
			return err
		}
		if err := f.pacer.Sleep(ctx, f.pacer.KeyInterval()); err != nil {
			return err
		}
		if i > 0 && i%5 == 0 {
			if pause, ok := f.pacer.Hesitation(); ok {
				if err := f.pacer.Sleep(ctx, pause); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

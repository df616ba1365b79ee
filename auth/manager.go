package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"atrust-autologin/detect"
	"atrust-autologin/pacing"
	"atrust-autologin/portal"
	"atrust-autologin/storage"
)

// ErrLoginFailed reports that a full login attempt, including any manual
// interaction, still did not reach the workspace.
var ErrLoginFailed = errors.New("auth: login failed")

// ManagerConfig wires a Manager's collaborators together
type ManagerConfig struct {
	Client        portal.Client
	Flow          *Flow
	Detector      *detect.Detector
	Codec         *storage.Codec
	Journal       *storage.Journal
	Policy        InteractionPolicy
	Pacer         *pacing.Pacer
	Log           *logrus.Logger
	PortalAddress string
	ArtifactsPath string
	ElementWait   time.Duration
	Credentials   Credentials
}

// Manager owns the portal session lifecycle. It restores persisted
// artifacts on first use, decides when a login is needed and saves fresh
// artifacts after each successful one.
type Manager struct {
	client        portal.Client
	flow          *Flow
	detector      *detect.Detector
	codec         *storage.Codec
	journal       *storage.Journal
	policy        InteractionPolicy
	pacer         *pacing.Pacer
	log           *logrus.Logger
	portalAddress string
	artifactsPath string
	elementWait   time.Duration
	creds         Credentials

	initialized bool
}

// NewManager creates a session manager
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		client:        cfg.Client,
		flow:          cfg.Flow,
		detector:      cfg.Detector,
		codec:         cfg.Codec,
		journal:       cfg.Journal,
		policy:        cfg.Policy,
		pacer:         cfg.Pacer,
		log:           cfg.Log,
		portalAddress: cfg.PortalAddress,
		artifactsPath: cfg.ArtifactsPath,
		elementWait:   cfg.ElementWait,
		creds:         cfg.Credentials,
	}
}

// EnsureInitialized opens the portal once and restores any persisted
// session artifacts into the live browser. Later calls are no-ops.
func (m *Manager) EnsureInitialized(ctx context.Context) error {
	if m.initialized {
		return nil
	}

	if err := m.client.Navigate(m.portalAddress); err != nil {
		return fmt.Errorf("failed to open portal: %w", err)
	}
	if err := m.client.WaitReady(m.elementWait); err != nil {
		return fmt.Errorf("portal did not finish loading: %w", err)
	}
	if err := m.pacer.Settle(ctx); err != nil {
		return err
	}

	// Cookies and local storage are origin scoped, so restoring has to
	// happen after the portal page is open.
	m.restoreArtifacts()

	m.initialized = true
	return nil
}

// restoreArtifacts loads persisted cookies and local storage into the
// browser. A missing or unreadable artifacts file only means a fresh
// start, the login flow covers for it.
func (m *Manager) restoreArtifacts() {
	arts, err := m.codec.Load(m.artifactsPath)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNoArtifacts):
			m.log.Info("No stored session artifacts, starting fresh")
		case errors.Is(err, storage.ErrCorruptArtifacts):
			m.log.WithError(err).Warn("Stored session artifacts are corrupt, starting fresh")
		default:
			m.log.WithError(err).Warn("Failed to load session artifacts, starting fresh")
		}
		return
	}

	for _, cookie := range arts.Cookies {
		if err := m.client.SetCookie(cookie); err != nil {
			m.log.WithError(err).WithField("cookie", cookie.Name).Warn("Failed to restore cookie")
		}
	}
	for key, value := range arts.LocalStorage {
		if _, err := m.client.Eval(`(k, v) => localStorage.setItem(k, v)`, key, value); err != nil {
			m.log.WithError(err).WithField("key", key).Warn("Failed to restore local storage entry")
		}
	}

	m.journal.Record(storage.EventArtifactsRestored,
		fmt.Sprintf("%d cookies, %d local storage entries", len(arts.Cookies), len(arts.LocalStorage)))
	m.log.WithFields(logrus.Fields{
		"cookies":       len(arts.Cookies),
		"local_storage": len(arts.LocalStorage),
	}).Info("Restored session artifacts")
}

// Detect classifies the current page. Read failures degrade to an
// indeterminate answer instead of erroring, callers treat that as
// "not known to be logged in".
func (m *Manager) Detect() detect.State {
	currentURL, err := m.client.CurrentURL()
	if err != nil {
		m.log.WithError(err).Warn("Failed to read current URL")
		return detect.StateIndeterminate
	}
	content, err := m.client.PageContent()
	if err != nil {
		m.log.WithError(err).Debug("Failed to read page content")
		content = ""
	}
	return m.detector.Classify(currentURL, content)
}

// Login performs one full login attempt against the already opened
// portal. It returns nil when the session is established, whether by the
// credential flow, by manual interaction or because it was never lost.
func (m *Manager) Login(ctx context.Context) error {
	if err := m.EnsureInitialized(ctx); err != nil {
		return err
	}

	if m.Detect() == detect.StateLoggedIn {
		m.log.Info("Already logged in")
		return nil
	}

	m.journal.Record(storage.EventLoginAttempt, "")
	if err := m.flow.Submit(ctx, m.creds); err != nil {
		m.journal.Record(storage.EventLoginFailure, err.Error())
		return err
	}
	if err := m.pacer.Settle(ctx); err != nil {
		return err
	}

	if m.Detect() == detect.StateLoggedIn {
		return m.finishLogin()
	}

	// Captcha, SMS codes and expired passwords all land here. Hand the
	// browser to the operator and check again afterwards.
	const reason = "login did not reach the workspace"
	m.journal.Record(storage.EventManualInteraction, reason)
	if err := m.policy.AwaitManual(reason); err != nil {
		m.journal.Record(storage.EventLoginFailure, err.Error())
		return err
	}
	if m.Detect() == detect.StateLoggedIn {
		return m.finishLogin()
	}

	m.journal.Record(storage.EventLoginFailure, "still not logged in after manual interaction")
	return ErrLoginFailed
}

// finishLogin records the success and persists fresh artifacts. A persist
// failure is returned to the caller but the live session stays valid.
func (m *Manager) finishLogin() error {
	m.journal.Record(storage.EventLoginSuccess, "")
	m.log.Info("Login success")

	arts, err := m.captureArtifacts()
	if err != nil {
		m.log.WithError(err).Error("Failed to capture session artifacts")
		return err
	}
	if err := m.codec.Save(arts, m.artifactsPath); err != nil {
		m.log.WithError(err).Error("Failed to persist session artifacts")
		return err
	}
	m.journal.Record(storage.EventArtifactsSaved,
		fmt.Sprintf("%d cookies, %d local storage entries", len(arts.Cookies), len(arts.LocalStorage)))
	return nil
}

func (m *Manager) captureArtifacts() (storage.Artifacts, error) {
	cookies, err := m.client.Cookies()
	if err != nil {
		return storage.Artifacts{}, fmt.Errorf("failed to read cookies: %w", err)
	}
	local, err := m.snapshotLocalStorage()
	if err != nil {
		return storage.Artifacts{}, fmt.Errorf("failed to read local storage: %w", err)
	}
	return storage.Artifacts{
		Cookies:      cookies,
		LocalStorage: local,
		SavedAt:      time.Now().UTC(),
	}, nil
}

func (m *Manager) snapshotLocalStorage() (map[string]string, error) {
	res, err := m.client.Eval(`() => {
		const out = {};
		for (let i = 0; i < localStorage.length; i++) {
			const key = localStorage.key(i);
			out[key] = localStorage.getItem(key);
		}
		return out;
	}`)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]string)
	for key, value := range res.Map() {
		entries[key] = value.Str()
	}
	return entries, nil
}

// EnsureLoggedIn is the keepalive entry point. It checks the current
// session and runs a full login round trip when the session is lost.
func (m *Manager) EnsureLoggedIn(ctx context.Context) error {
	if err := m.EnsureInitialized(ctx); err != nil {
		return err
	}

	state := m.Detect()
	if state == detect.StateLoggedIn {
		m.log.Debug("Session still active")
		return nil
	}

	m.log.WithField("state", state).Info("Session lost, trying to login again")
	if err := m.client.Navigate(m.portalAddress); err != nil {
		return fmt.Errorf("failed to open portal: %w", err)
	}
	if err := m.pacer.Settle(ctx); err != nil {
		return err
	}
	if err := m.Login(ctx); err != nil {
		return err
	}

	// Give the workspace time to finish loading before the next check
	if err := m.pacer.Settle(ctx); err != nil {
		return err
	}
	return m.pacer.Settle(ctx)
}

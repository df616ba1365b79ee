package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"atrust-autologin/portal"
)

var (
	// ErrNoArtifacts reports that no artifacts file exists yet
	ErrNoArtifacts = errors.New("storage: no session artifacts")

	// ErrCorruptArtifacts reports an artifacts file that cannot be decoded
	ErrCorruptArtifacts = errors.New("storage: corrupt session artifacts")
)

// Artifacts is the browser session state that survives restarts: the portal
// keeps its SSO ticket in cookies and its device binding in localStorage.
type Artifacts struct {
	Cookies      []portal.Cookie   `json:"cookies"`
	LocalStorage map[string]string `json:"local_storage"`
	SavedAt      time.Time         `json:"saved_at"`
}

// Empty reports whether there is nothing worth restoring
func (a Artifacts) Empty() bool {
	return len(a.Cookies) == 0 && len(a.LocalStorage) == 0
}

// Codec reads and writes the artifacts file
type Codec struct {
	log *logrus.Logger
}

// NewCodec creates an artifacts codec
func NewCodec(log *logrus.Logger) *Codec {
	return &Codec{log: log}
}

// Save writes the artifacts as one atomic replacement of the previous file.
// Partial writes must never be observable, a truncated file would poison the
// next startup.
func (c *Codec) Save(a Artifacts, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write artifacts: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace artifacts: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"path":    path,
		"cookies": len(a.Cookies),
		"storage": len(a.LocalStorage),
	}).Info("Session artifacts saved")
	return nil
}

// Load reads the artifacts file. A missing file yields ErrNoArtifacts and an
// undecodable one ErrCorruptArtifacts, so callers can treat both as a fresh
// start without losing the distinction in logs.
func (c *Codec) Load(path string) (Artifacts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Artifacts{}, fmt.Errorf("%w at %s", ErrNoArtifacts, path)
		}
		return Artifacts{}, fmt.Errorf("failed to read artifacts: %w", err)
	}

	var a Artifacts
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifacts{}, fmt.Errorf("%w at %s: %v", ErrCorruptArtifacts, path, err)
	}
	return a, nil
}

package detect

import (
	"net/url"
	"strings"

	"atrust-autologin/config"
)

// State is the outcome of a login state classification. The page being
// mid-redirect or not yet navigated is a real state of its own, collapsing
// it into logged-out would trigger pointless login attempts.
type State int

const (
	StateIndeterminate State = iota
	StateLoggedOut
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateLoggedIn:
		return "logged_in"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "indeterminate"
	}
}

// Detector classifies the portal's login state from URL and page content.
// The portal is a fragment-routed single page app, so the URL fragment names
// the active view and is the strongest signal available.
type Detector struct {
	loggedKeywords    []string
	notLoggedKeywords []string
	workspaceMarker   string
	localLoginMarker  string
}

// New builds a detector from the configured classification rules
func New(cfg config.DetectConfig) *Detector {
	return &Detector{
		loggedKeywords:    dropEmpty(cfg.LoggedKeywords),
		notLoggedKeywords: dropEmpty(cfg.NotLoggedKeywords),
		workspaceMarker:   cfg.WorkspaceMarker,
		localLoginMarker:  cfg.LocalLoginMarker,
	}
}

// Classify maps the current URL and page content to a login state.
//
// Placeholder pages are indeterminate. Otherwise the URL fragment decides:
// a logged-in keyword wins over a logged-out keyword, and only when neither
// matches does the page content get a say. The content rule mirrors the
// portal's workspace page, which shows the workspace header without the
// local-password login widget.
func (d *Detector) Classify(currentURL, pageContent string) State {
	if currentURL == "" || strings.HasPrefix(currentURL, "about:") {
		return StateIndeterminate
	}

	if u, err := url.Parse(currentURL); err == nil {
		for _, kw := range d.loggedKeywords {
			if strings.Contains(u.Fragment, kw) {
				return StateLoggedIn
			}
		}
		for _, kw := range d.notLoggedKeywords {
			if strings.Contains(u.Fragment, kw) {
				return StateLoggedOut
			}
		}
	}

	if d.workspaceMarker != "" && strings.Contains(pageContent, d.workspaceMarker) {
		if d.localLoginMarker == "" || !strings.Contains(pageContent, d.localLoginMarker) {
			return StateLoggedIn
		}
	}
	return StateLoggedOut
}

func dropEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

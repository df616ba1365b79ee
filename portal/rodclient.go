package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
	"github.com/ysmood/gson"

	"atrust-autologin/config"
)

// rodClient drives a single page through the rod CDP binding
type rodClient struct {
	browser *rod.Browser
	page    *rod.Page
	l       *launcher.Launcher
	log     *logrus.Logger

	mu     sync.Mutex
	closed bool
}

// Connect launches a browser, or attaches to a running one when a control
// URL is configured, and opens the working page.
func Connect(cfg config.BrowserConfig, log *logrus.Logger) (Client, error) {
	var (
		l          *launcher.Launcher
		controlURL string
	)

	if cfg.ControlURL != "" {
		controlURL = cfg.ControlURL
		log.WithField("control_url", controlURL).Info("Attaching to running browser")
	} else {
		bin, err := resolveBin(cfg, log)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"bin":      bin,
			"headless": cfg.Headless,
		}).Info("Launching browser")

		// Leakless trips antivirus quarantine on some hosts
		l = launcher.New().
			Bin(bin).
			Leakless(false).
			Headless(cfg.Headless).
			Set("ignore-certificate-errors").
			Set("ignore-ssl-errors").
			Set("no-sandbox").
			Set("disable-gpu").
			Set("disable-extensions").
			Set("lang", cfg.Lang).
			Set("window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)).
			Set("profile-directory", cfg.ProfileDir)
		if cfg.UserDataDir != "" {
			l = l.Set("user-data-dir", cfg.UserDataDir)
		}

		controlURL, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	var (
		page *rod.Page
		err  error
	)
	if cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		browser.Close()
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	log.Info("Browser ready")
	return &rodClient{browser: browser, page: page, l: l, log: log}, nil
}

func (r *rodClient) Navigate(url string) error {
	if err := r.page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (r *rodClient) WaitReady(timeout time.Duration) error {
	if err := r.page.Timeout(timeout).WaitLoad(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: page load after %v", ErrWaitTimeout, timeout)
		}
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (r *rodClient) CurrentURL() (string, error) {
	info, err := r.page.Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.URL, nil
}

func (r *rodClient) PageContent() (string, error) {
	html, err := r.page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (r *rodClient) Cookies() ([]Cookie, error) {
	raw, err := r.page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

func (r *rodClient) SetCookie(c Cookie) error {
	// Drop any same-named cookie first, a stale variant under another path
	// would shadow the restored value
	err := proto.NetworkDeleteCookies{
		Name:   c.Name,
		Domain: c.Domain,
		Path:   c.Path,
	}.Call(r.page)
	if err != nil {
		return fmt.Errorf("failed to delete cookie %s: %w", c.Name, err)
	}

	param := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: proto.NetworkCookieSameSite(c.SameSite),
	}
	if c.Expires > 0 {
		param.Expires = proto.TimeSinceEpoch(c.Expires)
	}
	if err := r.page.SetCookies([]*proto.NetworkCookieParam{param}); err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
	}
	return nil
}

func (r *rodClient) Eval(js string, args ...interface{}) (gson.JSON, error) {
	res, err := r.page.Eval(js, args...)
	if err != nil {
		return gson.New(nil), fmt.Errorf("failed to eval script: %w", err)
	}
	return res.Value, nil
}

func (r *rodClient) WaitClickable(loc Locator, timeout time.Duration) (Element, error) {
	timed := r.page.Timeout(timeout)

	var (
		el  *rod.Element
		err error
	)
	switch loc.Kind {
	case ByXPath:
		el, err = timed.ElementX(loc.Query)
	default:
		el, err = timed.Element(loc.Query)
	}
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %v", ErrWaitTimeout, loc, timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrElementNotFound, loc, err)
	}

	return &rodElement{el: el.CancelTimeout()}, nil
}

func (r *rodClient) FindVisible(loc Locator) (Element, bool, error) {
	var (
		has bool
		el  *rod.Element
		err error
	)
	switch loc.Kind {
	case ByXPath:
		has, el, err = r.page.HasX(loc.Query)
	default:
		has, el, err = r.page.Has(loc.Query)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to probe %s: %w", loc, err)
	}
	if !has {
		return nil, false, nil
	}

	visible, err := el.Visible()
	if err != nil || !visible {
		return nil, false, nil
	}
	return &rodElement{el: el}, true, nil
}

func (r *rodClient) Quit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var closeErr error
	if r.browser != nil {
		closeErr = r.browser.Close()
	}
	if r.l != nil {
		r.l.Kill()
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close browser: %w", closeErr)
	}
	r.log.Info("Browser closed")
	return nil
}

// rodElement adapts a rod element to the Element interface
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) ScrollClick() error {
	if err := e.el.ScrollIntoView(); err != nil {
		return fmt.Errorf("failed to scroll into view: %w", err)
	}
	if err := e.el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click: %w", err)
	}
	return nil
}

func (e *rodElement) Clear() error {
	if err := e.el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to select text: %w", err)
	}
	if err := e.el.Type(input.Backspace); err != nil {
		return fmt.Errorf("failed to clear field: %w", err)
	}
	return nil
}

func (e *rodElement) Input(text string) error {
	if err := e.el.Input(text); err != nil {
		return fmt.Errorf("failed to input text: %w", err)
	}
	return nil
}

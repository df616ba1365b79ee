package portal

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ysmood/gson"
)

var (
	// ErrWaitTimeout reports a bounded wait that expired before the page
	// produced the element or the load event
	ErrWaitTimeout = errors.New("portal: wait timed out")

	// ErrElementNotFound reports a required element missing from the page
	ErrElementNotFound = errors.New("portal: element not found")
)

// LocatorKind selects the query language of a Locator
type LocatorKind int

const (
	ByCSS LocatorKind = iota
	ByXPath
)

// Locator identifies an element on the page
type Locator struct {
	Kind  LocatorKind
	Query string
}

// CSS builds a CSS selector locator
func CSS(query string) Locator {
	return Locator{Kind: ByCSS, Query: query}
}

// XPath builds an XPath locator
func XPath(query string) Locator {
	return Locator{Kind: ByXPath, Query: query}
}

// ParseLocator interprets a configured selector string. Queries starting with
// a slash or parenthesized axis are treated as XPath, everything else as CSS.
func ParseLocator(query string) Locator {
	if strings.HasPrefix(query, "/") || strings.HasPrefix(query, "(/") {
		return XPath(query)
	}
	return CSS(query)
}

func (l Locator) String() string {
	if l.Kind == ByXPath {
		return "xpath:" + l.Query
	}
	return "css:" + l.Query
}

// Cookie is a browser cookie in a form that round-trips through the
// artifacts file. Expires is seconds since the epoch; zero or negative
// marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Element is a handle to a located page element
type Element interface {
	// ScrollClick scrolls the element into view and clicks it
	ScrollClick() error
	// Clear empties the element's current text
	Clear() error
	// Input types text into the element
	Input(text string) error
}

// Client is the browser capability surface the login flow runs against.
// Implementations own one page for the lifetime of the process.
type Client interface {
	// Navigate opens the given address in the page
	Navigate(url string) error
	// WaitReady blocks until the page load event, bounded by timeout
	WaitReady(timeout time.Duration) error
	// CurrentURL returns the page's current address
	CurrentURL() (string, error)
	// PageContent returns the rendered HTML of the page
	PageContent() (string, error)
	// Cookies returns the cookies visible to the current page
	Cookies() ([]Cookie, error)
	// SetCookie removes any same-named cookie and installs the given one
	SetCookie(c Cookie) error
	// Eval runs a JS function expression in the page and returns its value
	Eval(js string, args ...interface{}) (gson.JSON, error)
	// WaitClickable waits until the element exists and is visible
	WaitClickable(loc Locator, timeout time.Duration) (Element, error)
	// FindVisible reports an element that is present and visible right now.
	// Absence is not an error.
	FindVisible(loc Locator) (Element, bool, error)
	// Quit shuts the browser down. Safe to call more than once.
	Quit() error
}

// TryFindAndClick clicks an element that may or may not be on the page, such
// as the tab that switches the portal to password login. A missing element is
// a normal outcome and reports false.
func TryFindAndClick(c Client, loc Locator, log *logrus.Logger) bool {
	el, ok, err := c.FindVisible(loc)
	if err != nil {
		log.WithError(err).WithField("locator", loc.String()).Debug("Optional element lookup failed")
		return false
	}
	if !ok {
		log.WithField("locator", loc.String()).Debug("Optional element not present")
		return false
	}
	if err := el.ScrollClick(); err != nil {
		log.WithError(err).WithField("locator", loc.String()).Debug("Optional element click failed")
		return false
	}
	return true
}

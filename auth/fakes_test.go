package auth

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ysmood/gson"

	"atrust-autologin/config"
	"atrust-autologin/portal"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testSelectors() config.SelectorsConfig {
	return config.SelectorsConfig{
		UsernameField: "#userName",
		PasswordField: "#password",
		LoginButton:   "#loginBtn",
		LocalLoginTab: "//div[contains(@class, 'server-name') and contains(text(), '本地密码')]",
	}
}

func testDetect() config.DetectConfig {
	return config.DetectConfig{
		LoggedKeywords:    []string{"app_center", "user_info"},
		NotLoggedKeywords: []string{"login", "captcha"},
		WorkspaceMarker:   "工作台",
		LocalLoginMarker:  "本地密码",
	}
}

type fakeElement struct {
	clicks   int
	cleared  int
	typed    strings.Builder
	clickErr error
	inputErr error
}

func (e *fakeElement) ScrollClick() error {
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	return nil
}

func (e *fakeElement) Clear() error {
	e.cleared++
	e.typed.Reset()
	return nil
}

func (e *fakeElement) Input(text string) error {
	if e.inputErr != nil {
		return e.inputErr
	}
	e.typed.WriteString(text)
	return nil
}

// pageState is one URL plus rendered content snapshot
type pageState struct {
	url     string
	content string
}

// fakeClient scripts the page states a session moves through. Each
// CurrentURL call consumes one queued state, the last state is sticky.
type fakeClient struct {
	states  []pageState
	current pageState

	navigated []string
	navErr    error
	readyErr  error
	urlErr    error
	contErr   error

	elements   map[string]*fakeElement
	tabPresent bool
	probeErr   error

	cookies    []portal.Cookie
	cookiesErr error
	setCookies []portal.Cookie
	setErr     error

	local    map[string]interface{}
	evalJS   []string
	evalArgs [][]interface{}
	evalErr  error

	quits int
}

func newFakeClient(states ...pageState) *fakeClient {
	return &fakeClient{
		states:   states,
		elements: make(map[string]*fakeElement),
		local:    make(map[string]interface{}),
	}
}

// withLoginForm installs the three form elements and returns them
func (c *fakeClient) withLoginForm() (user, pass, button *fakeElement) {
	user = &fakeElement{}
	pass = &fakeElement{}
	button = &fakeElement{}
	c.elements["css:#userName"] = user
	c.elements["css:#password"] = pass
	c.elements["css:#loginBtn"] = button
	return user, pass, button
}

func (c *fakeClient) Navigate(url string) error {
	if c.navErr != nil {
		return c.navErr
	}
	c.navigated = append(c.navigated, url)
	return nil
}

func (c *fakeClient) WaitReady(timeout time.Duration) error {
	return c.readyErr
}

func (c *fakeClient) CurrentURL() (string, error) {
	if c.urlErr != nil {
		return "", c.urlErr
	}
	if len(c.states) > 0 {
		c.current = c.states[0]
		if len(c.states) > 1 {
			c.states = c.states[1:]
		}
	}
	return c.current.url, nil
}

func (c *fakeClient) PageContent() (string, error) {
	if c.contErr != nil {
		return "", c.contErr
	}
	return c.current.content, nil
}

func (c *fakeClient) Cookies() ([]portal.Cookie, error) {
	if c.cookiesErr != nil {
		return nil, c.cookiesErr
	}
	return c.cookies, nil
}

func (c *fakeClient) SetCookie(ck portal.Cookie) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.setCookies = append(c.setCookies, ck)
	return nil
}

func (c *fakeClient) Eval(js string, args ...interface{}) (gson.JSON, error) {
	c.evalJS = append(c.evalJS, js)
	c.evalArgs = append(c.evalArgs, args)
	if c.evalErr != nil {
		return gson.New(nil), c.evalErr
	}
	if strings.Contains(js, "localStorage.length") {
		return gson.New(c.local), nil
	}
	return gson.New(nil), nil
}

func (c *fakeClient) WaitClickable(loc portal.Locator, timeout time.Duration) (portal.Element, error) {
	el, ok := c.elements[loc.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", portal.ErrElementNotFound, loc)
	}
	return el, nil
}

func (c *fakeClient) FindVisible(loc portal.Locator) (portal.Element, bool, error) {
	if c.probeErr != nil {
		return nil, false, c.probeErr
	}
	if !c.tabPresent {
		return nil, false, nil
	}
	el, ok := c.elements[loc.String()]
	if !ok {
		return nil, false, nil
	}
	return el, true, nil
}

func (c *fakeClient) Quit() error {
	c.quits++
	return nil
}

package portal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/sirupsen/logrus"

	"atrust-autologin/config"
)

// resolveBin picks the browser executable for the configured engine
func resolveBin(cfg config.BrowserConfig, log *logrus.Logger) (string, error) {
	if cfg.Bin != "" {
		if _, err := os.Stat(cfg.Bin); err != nil {
			return "", fmt.Errorf("browser binary %s: %w", cfg.Bin, err)
		}
		return cfg.Bin, nil
	}

	engine := cfg.Engine
	if engine == "" || engine == "auto" {
		// The VPN client mostly runs on Windows boxes where Edge is always
		// installed; elsewhere Chrome is the safer guess
		if runtime.GOOS == "windows" {
			engine = "edge"
		} else {
			engine = "chrome"
		}
	}

	var candidates []string
	switch engine {
	case "edge":
		candidates = edgePaths()
	default:
		candidates = chromePaths()
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// Fall back to whatever browser rod can find on this host
	if path, ok := launcher.LookPath(); ok {
		log.WithFields(logrus.Fields{
			"engine": engine,
			"path":   path,
		}).Warn("Engine not found at known paths, using discovered browser")
		return path, nil
	}

	return "", fmt.Errorf("no %s executable found, set browser.bin", engine)
}

func chromePaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("LOCALAPPDATA"), `Google\Chrome\Application\chrome.exe`),
			filepath.Join(os.Getenv("PROGRAMFILES"), `Google\Chrome\Application\chrome.exe`),
			filepath.Join(os.Getenv("PROGRAMFILES(X86)"), `Google\Chrome\Application\chrome.exe`),
		}
	case "darwin":
		return []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
		}
	}
}

func edgePaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("PROGRAMFILES(X86)"), `Microsoft\Edge\Application\msedge.exe`),
			filepath.Join(os.Getenv("PROGRAMFILES"), `Microsoft\Edge\Application\msedge.exe`),
			filepath.Join(os.Getenv("LOCALAPPDATA"), `Microsoft\Edge\Application\msedge.exe`),
		}
	case "darwin":
		return []string{"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"}
	default:
		return []string{
			"/usr/bin/microsoft-edge",
			"/usr/bin/microsoft-edge-stable",
		}
	}
}

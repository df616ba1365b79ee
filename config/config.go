package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultPortalAddress is the SSO entry point the VPN client redirects through.
const DefaultPortalAddress = "https://passport.escience.cn/oauth2/authorize?theme=arp_2018&client_id=59145&redirect_uri=https%3A%2F%2F159.226.243.221%3A443%2Fpassport%2Fv1%2Fauth%2FhttpsOauth2%3FsfDomain%3DOAuth&response_type=code"

// Config represents the application configuration
type Config struct {
	Portal    PortalConfig    `mapstructure:"portal" yaml:"portal"`
	Detect    DetectConfig    `mapstructure:"detect" yaml:"detect"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Timing    TimingConfig    `mapstructure:"timing" yaml:"timing"`
	Keepalive KeepaliveConfig `mapstructure:"keepalive" yaml:"keepalive"`
	Precheck  PrecheckConfig  `mapstructure:"precheck" yaml:"precheck"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// PortalConfig contains the login portal settings
type PortalConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// DetectConfig contains the login state classification rules
type DetectConfig struct {
	LoggedKeywords    []string `mapstructure:"logged_keywords" yaml:"logged_keywords"`
	NotLoggedKeywords []string `mapstructure:"not_logged_keywords" yaml:"not_logged_keywords"`
	WorkspaceMarker   string   `mapstructure:"workspace_marker" yaml:"workspace_marker"`
	LocalLoginMarker  string   `mapstructure:"local_login_marker" yaml:"local_login_marker"`
}

// SelectorsConfig contains the login form locators
type SelectorsConfig struct {
	UsernameField string `mapstructure:"username_field" yaml:"username_field"`
	PasswordField string `mapstructure:"password_field" yaml:"password_field"`
	LoginButton   string `mapstructure:"login_button" yaml:"login_button"`
	LocalLoginTab string `mapstructure:"local_login_tab" yaml:"local_login_tab"`
}

// BrowserConfig contains browser automation settings
type BrowserConfig struct {
	Engine       string `mapstructure:"engine" yaml:"engine"`
	Bin          string `mapstructure:"bin" yaml:"bin"`
	ControlURL   string `mapstructure:"control_url" yaml:"control_url"`
	Headless     bool   `mapstructure:"headless" yaml:"headless"`
	WindowWidth  int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int    `mapstructure:"window_height" yaml:"window_height"`
	Lang         string `mapstructure:"lang" yaml:"lang"`
	ProfileDir   string `mapstructure:"profile_dir" yaml:"profile_dir"`
	UserDataDir  string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Stealth      bool   `mapstructure:"stealth" yaml:"stealth"`
}

// TimingConfig contains the human-pacing delays
type TimingConfig struct {
	InputDelay  time.Duration `mapstructure:"input_delay" yaml:"input_delay"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ElementWait time.Duration `mapstructure:"element_wait" yaml:"element_wait"`
}

// KeepaliveConfig contains the session refresh settings
type KeepaliveConfig struct {
	// Interval between refresh cycles. Zero or negative means run once and exit.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// PrecheckConfig gates startup on the VPN client's local port
type PrecheckConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// StorageConfig contains session persistence settings
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// SessionConfig contains session behavior settings
type SessionConfig struct {
	// Interactive makes the tool pause for manual completion (captcha, SMS code)
	// instead of failing the attempt.
	Interactive bool `mapstructure:"interactive" yaml:"interactive"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// ArtifactsPath returns the session artifacts file location
func (s StorageConfig) ArtifactsPath() string {
	return filepath.Join(s.DataDir, "session.json")
}

// JournalPath returns the session event journal location
func (s StorageConfig) JournalPath() string {
	return filepath.Join(s.DataDir, "journal.db")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Set default values
	setDefaults()

	// Read config file
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Enable environment variable support
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ATRUST")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create default config
			if err := createDefaultConfig(configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else if os.IsNotExist(err) {
			// viper reports a plain fs error when SetConfigFile points at a
			// missing path, not ConfigFileNotFoundError
			if err := createDefaultConfig(configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("portal.address", DefaultPortalAddress)

	viper.SetDefault("detect.logged_keywords", []string{"app_center", "user_info", "app_apply", "device_manage"})
	viper.SetDefault("detect.not_logged_keywords", []string{"login", "captcha"})
	viper.SetDefault("detect.workspace_marker", "工作台")
	viper.SetDefault("detect.local_login_marker", "本地密码")

	viper.SetDefault("selectors.username_field", "#userName")
	viper.SetDefault("selectors.password_field", "#password")
	viper.SetDefault("selectors.login_button", "#loginBtn")
	viper.SetDefault("selectors.local_login_tab", "//div[contains(@class, 'server-name') and contains(text(), '本地密码')]")

	viper.SetDefault("browser.engine", "auto")
	viper.SetDefault("browser.headless", false)
	viper.SetDefault("browser.window_width", 896)
	viper.SetDefault("browser.window_height", 672)
	viper.SetDefault("browser.lang", "zh-CN")
	viper.SetDefault("browser.profile_dir", "ATrustLogin")
	viper.SetDefault("browser.stealth", false)

	viper.SetDefault("timing.input_delay", "500ms")
	viper.SetDefault("timing.settle_delay", "5s")
	viper.SetDefault("timing.element_wait", "10s")

	viper.SetDefault("keepalive.interval", "200s")

	viper.SetDefault("precheck.enabled", true)
	viper.SetDefault("precheck.host", "localhost")
	viper.SetDefault("precheck.port", 54631)
	viper.SetDefault("precheck.poll_interval", "5s")

	viper.SetDefault("storage.data_dir", "./data")

	viper.SetDefault("session.interactive", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
}

// createDefaultConfig creates a default configuration file
func createDefaultConfig(configPath string) error {
	config := Config{
		Portal: PortalConfig{
			Address: DefaultPortalAddress,
		},
		Detect: DetectConfig{
			LoggedKeywords:    []string{"app_center", "user_info", "app_apply", "device_manage"},
			NotLoggedKeywords: []string{"login", "captcha"},
			WorkspaceMarker:   "工作台",
			LocalLoginMarker:  "本地密码",
		},
		Selectors: SelectorsConfig{
			UsernameField: "#userName",
			PasswordField: "#password",
			LoginButton:   "#loginBtn",
			LocalLoginTab: "//div[contains(@class, 'server-name') and contains(text(), '本地密码')]",
		},
		Browser: BrowserConfig{
			Engine:       "auto",
			WindowWidth:  896,
			WindowHeight: 672,
			Lang:         "zh-CN",
			ProfileDir:   "ATrustLogin",
		},
		Timing: TimingConfig{
			InputDelay:  500 * time.Millisecond,
			SettleDelay: 5 * time.Second,
			ElementWait: 10 * time.Second,
		},
		Keepalive: KeepaliveConfig{
			Interval: 200 * time.Second,
		},
		Precheck: PrecheckConfig{
			Enabled:      true,
			Host:         "localhost",
			Port:         54631,
			PollInterval: 5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}

	data, err := yaml.Marshal(&config)
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if username := os.Getenv("ATRUST_USERNAME"); username != "" {
		viper.Set("portal.username", username)
	}
	if password := os.Getenv("ATRUST_PASSWORD"); password != "" {
		viper.Set("portal.password", password)
	}
	if address := os.Getenv("ATRUST_PORTAL_ADDRESS"); address != "" {
		viper.Set("portal.address", address)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Portal.Address == "" {
		return fmt.Errorf("portal address is required")
	}
	switch config.Browser.Engine {
	case "auto", "chrome", "edge":
	default:
		return fmt.Errorf("browser engine must be auto, chrome or edge, got %q", config.Browser.Engine)
	}
	if config.Browser.WindowWidth <= 0 || config.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window size must be positive")
	}
	if config.Timing.ElementWait <= 0 {
		return fmt.Errorf("element wait must be positive")
	}
	if config.Timing.InputDelay < 0 || config.Timing.SettleDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if config.Precheck.Enabled {
		if config.Precheck.Port <= 0 || config.Precheck.Port > 65535 {
			return fmt.Errorf("precheck port must be in 1-65535, got %d", config.Precheck.Port)
		}
		if config.Precheck.Host == "" {
			return fmt.Errorf("precheck host is required when precheck is enabled")
		}
	}
	if len(config.Detect.LoggedKeywords) == 0 && config.Detect.WorkspaceMarker == "" {
		return fmt.Errorf("at least one logged-in signal is required")
	}
	if config.Storage.DataDir == "" {
		return fmt.Errorf("storage data dir is required")
	}
	return nil
}

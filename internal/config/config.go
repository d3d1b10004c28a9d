// Package config loads postcatch settings from a TOML file, a .env file and
// POSTCATCH_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cwygoda/postcatch/internal/domain"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "postcatch.toml"

// Config holds application configuration.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Browser BrowserConfig `toml:"browser"`
	Capture CaptureConfig `toml:"capture"`
	Ingest  IngestConfig  `toml:"ingest"`
	Retry   RetryConfig   `toml:"retry"`
	Batch   BatchConfig   `toml:"batch"`
	Ledger  LedgerConfig  `toml:"ledger"`
	HTTP    HTTPConfig    `toml:"http"`
	Log     LogConfig     `toml:"log"`

	// Credentials only come from the environment.
	Credentials domain.Credentials `toml:"-"`
}

type StoreConfig struct {
	Driver      string        `toml:"driver"`
	DSN         string        `toml:"dsn"`
	PingTimeout time.Duration `toml:"ping_timeout"`
}

type BrowserConfig struct {
	Headless          bool          `toml:"headless"`
	UserAgent         string        `toml:"user_agent"`
	ExecPath          string        `toml:"exec_path"`
	NavigationTimeout time.Duration `toml:"navigation_timeout"`
	WaitTimeout       time.Duration `toml:"wait_timeout"`
	MinInterval       time.Duration `toml:"min_interval"`
	StateDir          string        `toml:"state_dir"`
}

type CaptureConfig struct {
	Dir string `toml:"dir"`
	// Timeout bounds one capture attempt. Zero disables the bound.
	Timeout time.Duration `toml:"timeout"`
}

type IngestConfig struct {
	Command string        `toml:"command"`
	Args    []string      `toml:"args"`
	Dir     string        `toml:"dir"`
	Timeout time.Duration `toml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	BaseDelay   time.Duration `toml:"base_delay"`
	MaxDelay    time.Duration `toml:"max_delay"`
}

type BatchConfig struct {
	Limit        int           `toml:"limit"`
	Platform     string        `toml:"platform"`
	PollInterval time.Duration `toml:"poll_interval"`
	WindowDays   int           `toml:"window_days"`
}

// Window is the pending lookback as a duration.
func (b BatchConfig) Window() time.Duration {
	return time.Duration(b.WindowDays) * 24 * time.Hour
}

type LedgerConfig struct {
	// Type is "bbolt" or "none".
	Type      string        `toml:"type"`
	Path      string        `toml:"path"`
	Retention time.Duration `toml:"retention"`
}

type HTTPConfig struct {
	Addr   string `toml:"addr"`
	Secret string `toml:"secret"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DataDir returns the default data directory using XDG_CACHE_HOME.
func DataDir() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "postcatch")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "links.db")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:      "sqlite",
			DSN:         DefaultDBPath(),
			PingTimeout: 5 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 60 * time.Second,
			WaitTimeout:       30 * time.Second,
			MinInterval:       2 * time.Second,
			StateDir:          filepath.Join(DataDir(), "state"),
		},
		Capture: CaptureConfig{Dir: "captures"},
		Ingest:  IngestConfig{Timeout: 5 * time.Minute},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   4 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		Batch: BatchConfig{
			Limit:        10,
			PollInterval: time.Minute,
			WindowDays:   15,
		},
		Ledger: LedgerConfig{
			Type:      "bbolt",
			Path:      filepath.Join(DataDir(), "ledger.db"),
			Retention: 30 * 24 * time.Hour,
		},
		HTTP:        HTTPConfig{Addr: ":8080"},
		Log:         LogConfig{Level: "info", Format: "json"},
		Credentials: domain.Credentials{},
	}
}

// Load builds the configuration. An empty path reads DefaultFile if it
// exists; an explicit path must exist. envFile is loaded into the process
// environment first, without overriding variables already set. The result
// is not validated.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults. Environment is not consulted.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays POSTCATCH_* variables on the decoded file, keyed by the
// TOML path: store.dsn is POSTCATCH_STORE_DSN.
func (c *Config) applyEnv() error {
	v := viper.New()
	v.SetEnvPrefix("POSTCATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", c.Store.Driver)
	v.SetDefault("store.dsn", c.Store.DSN)
	v.SetDefault("store.ping_timeout", c.Store.PingTimeout)
	v.SetDefault("browser.headless", c.Browser.Headless)
	v.SetDefault("browser.user_agent", c.Browser.UserAgent)
	v.SetDefault("browser.exec_path", c.Browser.ExecPath)
	v.SetDefault("browser.navigation_timeout", c.Browser.NavigationTimeout)
	v.SetDefault("browser.wait_timeout", c.Browser.WaitTimeout)
	v.SetDefault("browser.min_interval", c.Browser.MinInterval)
	v.SetDefault("browser.state_dir", c.Browser.StateDir)
	v.SetDefault("capture.dir", c.Capture.Dir)
	v.SetDefault("capture.timeout", c.Capture.Timeout)
	v.SetDefault("ingest.command", c.Ingest.Command)
	v.SetDefault("ingest.dir", c.Ingest.Dir)
	v.SetDefault("ingest.timeout", c.Ingest.Timeout)
	v.SetDefault("retry.max_attempts", c.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", c.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", c.Retry.MaxDelay)
	v.SetDefault("batch.limit", c.Batch.Limit)
	v.SetDefault("batch.platform", c.Batch.Platform)
	v.SetDefault("batch.poll_interval", c.Batch.PollInterval)
	v.SetDefault("batch.window_days", c.Batch.WindowDays)
	v.SetDefault("ledger.type", c.Ledger.Type)
	v.SetDefault("ledger.path", c.Ledger.Path)
	v.SetDefault("ledger.retention", c.Ledger.Retention)
	v.SetDefault("http.addr", c.HTTP.Addr)
	v.SetDefault("http.secret", c.HTTP.Secret)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)

	tagName := func(dc *mapstructure.DecoderConfig) { dc.TagName = "toml" }
	if err := v.Unmarshal(c, tagName); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	if c.Credentials == nil {
		c.Credentials = domain.Credentials{}
	}
	for _, p := range domain.Platforms() {
		prefix := strings.ToUpper(p.String())
		_ = v.BindEnv("credentials."+p.String()+".user", prefix+"_USER")
		_ = v.BindEnv("credentials."+p.String()+".pass", prefix+"_PASS")
		user := v.GetString("credentials." + p.String() + ".user")
		pass := v.GetString("credentials." + p.String() + ".pass")
		if user != "" || pass != "" {
			c.Credentials[p] = domain.Credential{User: user, Password: pass}
		}
	}
	return nil
}

// Validate checks values no component can work around.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	positive("browser.navigation_timeout", c.Browser.NavigationTimeout)
	positive("browser.wait_timeout", c.Browser.WaitTimeout)
	if c.Browser.MinInterval < 0 {
		errs = append(errs, errors.New("browser.min_interval must not be negative"))
	}
	if c.Capture.Timeout < 0 {
		errs = append(errs, errors.New("capture.timeout must not be negative"))
	}
	if strings.TrimSpace(c.Ingest.Command) == "" {
		errs = append(errs, errors.New("ingest.command is required"))
	}
	positive("ingest.timeout", c.Ingest.Timeout)
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	positive("retry.base_delay", c.Retry.BaseDelay)
	positive("retry.max_delay", c.Retry.MaxDelay)
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry.max_delay must not be below retry.base_delay"))
	}
	if c.Batch.Limit < 1 {
		errs = append(errs, errors.New("batch.limit must be at least 1"))
	}
	positive("batch.poll_interval", c.Batch.PollInterval)
	if c.Batch.WindowDays < 1 {
		errs = append(errs, errors.New("batch.window_days must be at least 1"))
	}
	return errors.Join(errs...)
}

// ValidateStore checks only what commands that never capture need.
func (c *Config) ValidateStore() error {
	if strings.TrimSpace(c.Store.DSN) == "" {
		return errors.New("store.dsn is required")
	}
	return nil
}

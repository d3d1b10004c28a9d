package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwygoda/postcatch/internal/domain"
)

func TestDefaultDBPath(t *testing.T) {
	t.Run("with XDG_CACHE_HOME", func(t *testing.T) {
		t.Setenv("XDG_CACHE_HOME", "/custom/cache")

		path := DefaultDBPath()
		expected := "/custom/cache/postcatch/links.db"
		if path != expected {
			t.Errorf("DefaultDBPath() = %q, want %q", path, expected)
		}
	})

	t.Run("without XDG_CACHE_HOME", func(t *testing.T) {
		t.Setenv("XDG_CACHE_HOME", "")

		path := DefaultDBPath()
		if !strings.HasSuffix(path, filepath.Join(".cache", "postcatch", "links.db")) {
			t.Errorf("DefaultDBPath() = %q, want suffix .cache/postcatch/links.db", path)
		}
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != 4*time.Second || cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("Retry = %+v, want 3/4s/10s", cfg.Retry)
	}
	if cfg.Batch.Limit != 10 {
		t.Errorf("Batch.Limit = %d, want 10", cfg.Batch.Limit)
	}
	if cfg.Batch.Window() != domain.PendingWindow {
		t.Errorf("Batch.Window() = %v, want %v", cfg.Batch.Window(), domain.PendingWindow)
	}
	if cfg.Capture.Dir != "captures" {
		t.Errorf("Capture.Dir = %q, want captures", cfg.Capture.Dir)
	}
	if !cfg.Browser.Headless {
		t.Error("Browser.Headless = false, want true")
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse(`
[store]
driver = "postgres"
dsn = "postgres://localhost/links"

[browser]
headless = false
min_interval = "500ms"

[ingest]
command = "ingest.sh"
args = ["--dry"]
timeout = "90s"

[retry]
base_delay = "1s"

[batch]
limit = 25
platform = "twitter"
`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/links" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Browser.Headless {
		t.Error("Browser.Headless = true, want false")
	}
	if cfg.Browser.MinInterval != 500*time.Millisecond {
		t.Errorf("Browser.MinInterval = %v, want 500ms", cfg.Browser.MinInterval)
	}
	if cfg.Ingest.Timeout != 90*time.Second || len(cfg.Ingest.Args) != 1 {
		t.Errorf("Ingest = %+v", cfg.Ingest)
	}
	if cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry = %+v, want 1s base with default attempts", cfg.Retry)
	}
	if cfg.Batch.Limit != 25 || cfg.Batch.Platform != "twitter" {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse(`[retry]
base_delay = "soon"`); err == nil {
		t.Error("Parse() error = nil, want error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"POSTCATCH_STORE_DSN":        "/tmp/links.db",
		"POSTCATCH_BROWSER_HEADLESS": "false",
		"POSTCATCH_BATCH_LIMIT":      "3",
		"POSTCATCH_INGEST_TIMEOUT":   "2m",
		"POSTCATCH_HTTP_SECRET":      "s3cret",
		"INSTAGRAM_USER":             "insta",
		"INSTAGRAM_PASS":             "pw",
		"TWITTER_USER":               "only-user",
		"TWITTER_PASS":               "",
		"FACEBOOK_USER":              "",
		"FACEBOOK_PASS":              "",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg := Default()
	cfg.Ingest.Command = "from-file"
	if err := cfg.applyEnv(); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}

	if cfg.Store.DSN != "/tmp/links.db" {
		t.Errorf("Store.DSN = %q", cfg.Store.DSN)
	}
	if cfg.Browser.Headless {
		t.Error("Browser.Headless = true, want false")
	}
	if cfg.Batch.Limit != 3 {
		t.Errorf("Batch.Limit = %d, want 3", cfg.Batch.Limit)
	}
	if cfg.Ingest.Timeout != 2*time.Minute {
		t.Errorf("Ingest.Timeout = %v, want 2m", cfg.Ingest.Timeout)
	}
	if cfg.HTTP.Secret != "s3cret" {
		t.Errorf("HTTP.Secret = %q", cfg.HTTP.Secret)
	}
	if cfg.Ingest.Command != "from-file" {
		t.Errorf("Ingest.Command = %q, want value kept from file", cfg.Ingest.Command)
	}
	if cfg.Retry.BaseDelay != 4*time.Second || cfg.Batch.WindowDays != 15 {
		t.Errorf("unset keys changed: Retry = %+v, Batch = %+v", cfg.Retry, cfg.Batch)
	}
	if cred, ok := cfg.Credentials.For(domain.PlatformInstagram); !ok || cred.User != "insta" || cred.Password != "pw" {
		t.Errorf("instagram credentials = %+v, %v", cred, ok)
	}
	if _, ok := cfg.Credentials.For(domain.PlatformTwitter); ok {
		t.Error("twitter credentials without password should not be usable")
	}
	if _, ok := cfg.Credentials.For(domain.PlatformFacebook); ok {
		t.Error("facebook credentials should be absent")
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"POSTCATCH_BATCH_LIMIT", "ten"},
		{"POSTCATCH_INGEST_TIMEOUT", "forever"},
		{"POSTCATCH_BROWSER_HEADLESS", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			if err := Default().applyEnv(); err == nil {
				t.Errorf("applyEnv() with %s=%q error = nil, want error", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Ingest.Command = "ingest.sh"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing ingest command", func(c *Config) { c.Ingest.Command = "" }, "ingest.command"},
		{"zero navigation timeout", func(c *Config) { c.Browser.NavigationTimeout = 0 }, "browser.navigation_timeout"},
		{"negative base delay", func(c *Config) { c.Retry.BaseDelay = -time.Second }, "retry.base_delay"},
		{"cap below base", func(c *Config) { c.Retry.MaxDelay = time.Second }, "retry.max_delay"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"zero limit", func(c *Config) { c.Batch.Limit = 0 }, "batch.limit"},
		{"zero window", func(c *Config) { c.Batch.WindowDays = 0 }, "batch.window_days"},
		{"empty dsn", func(c *Config) { c.Store.DSN = " " }, "store.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_FileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "postcatch.toml")
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(cfgPath, []byte("[ingest]\ncommand = \"from-file\"\n[batch]\nlimit = 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envPath, []byte("FACEBOOK_USER=fb\nFACEBOOK_PASS=secret\nPOSTCATCH_BATCH_LIMIT=6\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set.
	t.Setenv("FACEBOOK_USER", "")
	t.Setenv("FACEBOOK_PASS", "")
	t.Setenv("POSTCATCH_BATCH_LIMIT", "")
	os.Unsetenv("FACEBOOK_USER")
	os.Unsetenv("FACEBOOK_PASS")
	os.Unsetenv("POSTCATCH_BATCH_LIMIT")

	cfg, err := Load(cfgPath, envPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ingest.Command != "from-file" {
		t.Errorf("Ingest.Command = %q, want from-file", cfg.Ingest.Command)
	}
	if cfg.Batch.Limit != 6 {
		t.Errorf("Batch.Limit = %d, want env override 6", cfg.Batch.Limit)
	}
	if cred, ok := cfg.Credentials.For(domain.PlatformFacebook); !ok || cred.User != "fb" {
		t.Errorf("facebook credentials = %+v, %v", cred, ok)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml"), ""); err == nil {
		t.Error("Load() error = nil, want error")
	}
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}

// Package config loads process configuration from built-in defaults, an
// optional YAML file, a .env file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/old-man-footy/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// MinStartupDelay is the shortest wait before the startup interval gate runs.
const MinStartupDelay = 2 * time.Second

// Config is the full process configuration.
type Config struct {
	Environment string           `koanf:"environment"`
	Server      ServerConfig     `koanf:"server"`
	Logging     LoggingConfig    `koanf:"logging"`
	MySideline  MySidelineConfig `koanf:"mysideline"`
	Logos       LogoConfig       `koanf:"logos"`
	Retention   RetentionConfig  `koanf:"retention"`
}

// ServerConfig holds HTTP and filesystem settings.
type ServerConfig struct {
	Addr       string `koanf:"addr" validate:"required"`
	DataDir    string `koanf:"data_dir" validate:"required"`
	UploadsDir string `koanf:"uploads_dir" validate:"required"`

	// CORSOrigins are the browser origins allowed to call the API. Empty disables CORS.
	CORSOrigins []string `koanf:"cors_origins"`

	// SyncTriggerLimit is the number of manual sync triggers accepted per client per minute.
	SyncTriggerLimit int `koanf:"sync_trigger_limit" validate:"min=1"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MySidelineConfig configures the scraper, the orchestrator and its schedule.
//
// SyncEnabled and ScrapingEnabled are kept as the raw strings read from the
// environment: only the literal "true" enables the sync and only the literal
// "false" disables scraping.
type MySidelineConfig struct {
	SyncEnabled       string        `koanf:"sync_enabled"`
	ScrapingEnabled   string        `koanf:"enable_scraping"`
	SearchURL         string        `koanf:"url" validate:"required,url"`
	EventURLPrefix    string        `koanf:"event_url" validate:"required"`
	APIURLMatch       string        `koanf:"api_url" validate:"required"`
	ImageSelector     string        `koanf:"image_selector" validate:"required"`
	RequestTimeoutMs  int           `koanf:"request_timeout" validate:"min=1000"`
	BrowserPath       string        `koanf:"browser_path"`
	SyncCron          string        `koanf:"sync_cron" validate:"required"`
	SyncIntervalHours int           `koanf:"sync_interval_hours" validate:"min=1"`
	StartupDelay      time.Duration `koanf:"startup_delay"`
}

// LogoConfig tunes the logo fetcher.
type LogoConfig struct {
	MaxRetries       int           `koanf:"max_retries" validate:"min=1"`
	Timeout          time.Duration `koanf:"timeout" validate:"min=1ms"`
	MaxFileSizeBytes int64         `koanf:"max_file_size" validate:"min=1"`
	RequestSpacing   time.Duration `koanf:"request_spacing"`
}

// RetentionConfig tunes the contact reply retention job.
type RetentionConfig struct {
	ContactReplyDays int    `koanf:"contact_reply_days" validate:"min=1"`
	ContactReplyCron string `koanf:"contact_reply_cron" validate:"required"`
}

// SyncEnabledFlag reports whether the orchestrator may run.
func (c MySidelineConfig) SyncEnabledFlag() bool {
	return c.SyncEnabled == "true"
}

// ScrapingEnabledFlag reports whether the scraper may launch a browser.
func (c MySidelineConfig) ScrapingEnabledFlag() bool {
	return c.ScrapingEnabled != "false"
}

// RequestTimeout returns the browser timeout.
func (c MySidelineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Headless reports whether the scraper browser runs without a window.
func (c *Config) Headless() bool {
	return !c.IsDevelopment()
}

// DatabasePath returns the SQLite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Server.DataDir, "old-man-footy.db")
}

func defaultConfig() *Config {
	return &Config{
		Environment: "production",
		Server: ServerConfig{
			Addr:             ":8099",
			DataDir:          "/data",
			UploadsDir:       "/data/uploads",
			SyncTriggerLimit: 6,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		MySideline: MySidelineConfig{
			SyncEnabled:       "false",
			ScrapingEnabled:   "true",
			SearchURL:         "https://profile.mysideline.com.au/register/clubsearch/?criteria=Masters&type=&activity=&gender=&agemin=&agemax=&comptype=&source=rugby-league",
			EventURLPrefix:    "https://profile.mysideline.com.au/register/clubsearch/?criteria=",
			APIURLMatch:       "/nrl/search",
			ImageSelector:     ".image-wrapper img",
			RequestTimeoutMs:  60000,
			SyncCron:          "0 3 * * *",
			SyncIntervalHours: 24,
			StartupDelay:      5 * time.Second,
		},
		Logos: LogoConfig{
			MaxRetries:       3,
			Timeout:          10 * time.Second,
			MaxFileSizeBytes: 5 * 1024 * 1024,
			RequestSpacing:   500 * time.Millisecond,
		},
		Retention: RetentionConfig{
			ContactReplyDays: 90,
			ContactReplyCron: "0 4 * * *",
		},
	}
}

// Load reads configuration with precedence ENV > file > defaults. A .env file
// in the working directory is applied to the environment first; variables
// already set are not overridden.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(findConfigFile())
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and clamps the startup delay.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.MySideline.StartupDelay < MinStartupDelay {
		c.MySideline.StartupDelay = MinStartupDelay
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"node_env":  "environment",
	"http_addr": "server.addr",
	"data_dir":  "server.data_dir",

	"uploads_dir":        "server.uploads_dir",
	"http_cors_origins":  "server.cors_origins",
	"sync_trigger_limit": "server.sync_trigger_limit",
	"log_level":          "logging.level",
	"log_format":         "logging.format",

	"mysideline_sync_enabled":             "mysideline.sync_enabled",
	"mysideline_enable_scraping":          "mysideline.enable_scraping",
	"mysideline_url":                      "mysideline.url",
	"mysideline_event_url":                "mysideline.event_url",
	"mysideline_api_url":                  "mysideline.api_url",
	"mysideline_image_selector":           "mysideline.image_selector",
	"mysideline_request_timeout":          "mysideline.request_timeout",
	"playwright_chromium_executable_path": "mysideline.browser_path",
	"mysideline_sync_cron":                "mysideline.sync_cron",
	"mysideline_sync_interval_hours":      "mysideline.sync_interval_hours",
	"mysideline_startup_delay":            "mysideline.startup_delay",

	"logo_max_retries":     "logos.max_retries",
	"logo_timeout":         "logos.timeout",
	"logo_max_file_size":   "logos.max_file_size",
	"logo_request_spacing": "logos.request_spacing",

	"contact_reply_retention_days": "retention.contact_reply_days",
	"contact_reply_retention_cron": "retention.contact_reply_cron",
}

// envTransformFunc maps recognised environment variables to config paths.
// Unknown variables map to "" and are skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

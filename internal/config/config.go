// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "crmsync"
	DefaultPGSSLMode         = "disable"
	DefaultSyncWorkers       = 4
	DefaultSchedulerPattern  = "@every 1m"
	DefaultStaleRunAfter     = "2h"
	DefaultIntervalMinutes   = 60
	DefaultGoogleBaseURL     = "https://people.googleapis.com"
	DefaultGoogleRPS         = 5.0
	DefaultGoogleBurst       = 10
	DefaultGoogleTimeoutSecs = 30
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Sync     SyncConfig     `toml:"sync"`
	Google   GoogleConfig   `toml:"google"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// SyncConfig tunes the reconciliation engine and the auto-sync scheduler.
type SyncConfig struct {
	Workers                int    `toml:"workers"`
	SchedulerPattern       string `toml:"scheduler_pattern"`
	StaleRunAfter          string `toml:"stale_run_after"`
	DefaultIntervalMinutes int    `toml:"default_interval_minutes"`
}

// StaleRunDuration parses StaleRunAfter, falling back to the default on bad input.
func (c SyncConfig) StaleRunDuration() time.Duration {
	d, err := time.ParseDuration(c.StaleRunAfter)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultStaleRunAfter)
	}
	return d
}

// GoogleConfig holds OAuth client settings and request limits for the Google People provider.
type GoogleConfig struct {
	ClientID          string  `toml:"client_id"`
	ClientSecret      string  `toml:"client_secret"`
	RedirectURL       string  `toml:"redirect_url"`
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Enabled reports whether OAuth client credentials are configured.
func (c GoogleConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Sync: SyncConfig{
			Workers:                DefaultSyncWorkers,
			SchedulerPattern:       DefaultSchedulerPattern,
			StaleRunAfter:          DefaultStaleRunAfter,
			DefaultIntervalMinutes: DefaultIntervalMinutes,
		},
		Google: GoogleConfig{
			BaseURL:           DefaultGoogleBaseURL,
			RequestsPerSecond: DefaultGoogleRPS,
			Burst:             DefaultGoogleBurst,
			TimeoutSeconds:    DefaultGoogleTimeoutSecs,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

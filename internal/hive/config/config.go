// Package config loads Hive's configuration from a TOML file, overlaid by
// HIVE_* environment variables and finally by CLI flags (§6). Configuration
// sources in priority order: CLI flags > env vars > config file > defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all Hive server configuration.
type Config struct {
	ListenAddr string `toml:"listen_addr"`

	// DatabaseURL is the Postgres connection string. Required, no default.
	DatabaseURL string `toml:"database_url"`

	// SecretKey is a 64-byte hex-encoded key used to seal session cookies.
	// Required, no default.
	SecretKey string `toml:"secret_key"`

	OIDC OIDCConfig `toml:"oidc"`

	LogLevel string `toml:"log_level"`

	// OTLP trace exporter endpoint. Empty disables tracing.
	TraceEndpoint string `toml:"trace_endpoint"`

	// GoogleSync configures the optional Google Workspace integration sync.
	GoogleSync GoogleSyncConfig `toml:"google_sync"`

	// ResolverEndpoint is the optional identity-resolution service used to
	// enrich tagged-user listings with display names. Empty disables it.
	ResolverEndpoint string `toml:"resolver_endpoint"`
}

// OIDCConfig holds the issuer/client/secret triple required for login.
// All three fields are required, with no defaults.
type OIDCConfig struct {
	IssuerURL    string `toml:"issuer_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
}

// GoogleSyncConfig configures the service-account JWT flow used to sync
// group membership from Google Workspace.
type GoogleSyncConfig struct {
	Enabled           bool   `toml:"enabled"`
	ServiceAccountKey string `toml:"service_account_key_path"`
	ImpersonatedUser  string `toml:"impersonated_user"`
	CronSchedule      string `toml:"cron_schedule"`
}

// Default returns configuration with sensible non-secret defaults. The
// fields with no sane default (DatabaseURL, SecretKey, OIDC) are left zero
// and must come from the file, environment, or flags — Validate rejects a
// Config that still has them empty.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		GoogleSync: GoogleSyncConfig{
			CronSchedule: "@every 15m",
		},
	}
}

// Load reads configuration from a TOML file (if path is non-empty), then
// overlays HIVE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HIVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("HIVE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("HIVE_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("HIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HIVE_TRACE_ENDPOINT"); v != "" {
		cfg.TraceEndpoint = v
	}
	if v := os.Getenv("HIVE_RESOLVER_ENDPOINT"); v != "" {
		cfg.ResolverEndpoint = v
	}
	if v := os.Getenv("HIVE_OIDC_ISSUER_URL"); v != "" {
		cfg.OIDC.IssuerURL = v
	}
	if v := os.Getenv("HIVE_OIDC_CLIENT_ID"); v != "" {
		cfg.OIDC.ClientID = v
	}
	if v := os.Getenv("HIVE_OIDC_CLIENT_SECRET"); v != "" {
		cfg.OIDC.ClientSecret = v
	}
	if v := os.Getenv("HIVE_OIDC_REDIRECT_URL"); v != "" {
		cfg.OIDC.RedirectURL = v
	}
	if v, ok := envBool("HIVE_GOOGLE_SYNC_ENABLED"); ok {
		cfg.GoogleSync.Enabled = v
	}
	if v := os.Getenv("HIVE_GOOGLE_SYNC_KEY_PATH"); v != "" {
		cfg.GoogleSync.ServiceAccountKey = v
	}
	if v := os.Getenv("HIVE_GOOGLE_SYNC_IMPERSONATED_USER"); v != "" {
		cfg.GoogleSync.ImpersonatedUser = v
	}
	if v := os.Getenv("HIVE_GOOGLE_SYNC_CRON"); v != "" {
		cfg.GoogleSync.CronSchedule = v
	}
}

func envBool(name string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// BindFlags registers CLI flags on fs that, when parsed, overlay cfg. Call
// after Load so flags take highest priority. Unset flags leave cfg
// untouched (flag.Parse populates them with cfg's own current value as the
// default, so an absent flag is a no-op).
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address to listen on")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection string")
	fs.StringVar(&cfg.SecretKey, "secret-key", cfg.SecretKey, "64-byte hex secret key for cookie sealing")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.TraceEndpoint, "trace-endpoint", cfg.TraceEndpoint, "OTLP gRPC trace exporter endpoint")
	fs.StringVar(&cfg.ResolverEndpoint, "resolver-endpoint", cfg.ResolverEndpoint, "optional identity-resolution service URL")
	fs.StringVar(&cfg.OIDC.IssuerURL, "oidc-issuer-url", cfg.OIDC.IssuerURL, "OIDC issuer URL")
	fs.StringVar(&cfg.OIDC.ClientID, "oidc-client-id", cfg.OIDC.ClientID, "OIDC client ID")
	fs.StringVar(&cfg.OIDC.ClientSecret, "oidc-client-secret", cfg.OIDC.ClientSecret, "OIDC client secret")
	fs.StringVar(&cfg.OIDC.RedirectURL, "oidc-redirect-url", cfg.OIDC.RedirectURL, "OIDC redirect URL")
}

// Validate checks that every field with no sane default has been set by
// the file, environment, or flags.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "database_url (HIVE_DATABASE_URL)")
	}
	if c.SecretKey == "" {
		missing = append(missing, "secret_key (HIVE_SECRET_KEY)")
	} else if len(c.SecretKey) != 128 {
		// 64 bytes hex-encoded is 128 characters.
		return fmt.Errorf("config: secret_key must be 64 bytes hex-encoded (128 hex chars), got %d chars", len(c.SecretKey))
	}
	if c.OIDC.IssuerURL == "" {
		missing = append(missing, "oidc.issuer_url (HIVE_OIDC_ISSUER_URL)")
	}
	if c.OIDC.ClientID == "" {
		missing = append(missing, "oidc.client_id (HIVE_OIDC_CLIENT_ID)")
	}
	if c.OIDC.ClientSecret == "" {
		missing = append(missing, "oidc.client_secret (HIVE_OIDC_CLIENT_SECRET)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Save writes c to path as TOML.
func (c Config) Save(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

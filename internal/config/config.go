// Package config provides question bot configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	// ErrMissingBotToken is returned by Validate when SLACK_BOT_TOKEN is unset.
	ErrMissingBotToken = errors.New("SLACK_BOT_TOKEN is required")
	// ErrMissingSigningSecret is returned by Validate when signature
	// verification is enabled without a signing secret.
	ErrMissingSigningSecret = errors.New("SLACK_SIGNING_SECRET is required when SLACK_VERIFY_SIGNATURES=true")
	// ErrWeakDashboardToken is returned by Validate when DASHBOARD_TOKEN is
	// set but shorter than MinDashboardTokenLen.
	ErrWeakDashboardToken = fmt.Errorf("DASHBOARD_TOKEN must be at least %d characters", MinDashboardTokenLen)
)

// MinDashboardTokenLen is the shortest accepted DASHBOARD_TOKEN.
const MinDashboardTokenLen = 16

// Config holds question bot configuration. Values come from env vars or defaults.
type Config struct {
	// --- Slack ---

	// BotToken is the xoxb bot token (env: SLACK_BOT_TOKEN).
	BotToken string

	// AppToken is the xapp app-level token (env: SLACK_APP_TOKEN).
	// When set, the bot also receives events over Socket Mode.
	AppToken string

	// SigningSecret verifies inbound webhooks (env: SLACK_SIGNING_SECRET).
	SigningSecret string

	// VerifySignatures gates webhook signature checks (env: SLACK_VERIFY_SIGNATURES).
	// Default: true. Only disable for local development.
	VerifySignatures bool

	// AdminChannel receives a copy of every submission (env: ADMIN_CHANNEL_ID).
	// Empty disables the copy.
	AdminChannel string

	// --- Routing ---

	// CallTimeout bounds each outbound Slack API call (env: SLACK_CALL_TIMEOUT). Default: 5s.
	CallTimeout time.Duration

	// ProcessingBudget bounds the asynchronous work for one submission,
	// including retries (env: PROCESSING_BUDGET). Default: 45s.
	ProcessingBudget time.Duration

	// DirectoryMaxPages caps conversations.list pagination (env: DIRECTORY_MAX_PAGES). Default: 50.
	DirectoryMaxPages int

	// DirectoryPageSize is the conversations.list page size (env: DIRECTORY_PAGE_SIZE). Default: 1000.
	DirectoryPageSize int

	// DirectoryRate paces page fetches in pages per second (env: DIRECTORY_RATE).
	// Default: 1. Zero disables pacing.
	DirectoryRate float64

	// --- Sessions ---

	// SessionTTL is how long modal drafts are kept (env: SESSION_TTL). Default: 30m.
	SessionTTL time.Duration

	// SessionMaxEntries caps stored drafts (env: SESSION_MAX_ENTRIES). Default: 1000.
	SessionMaxEntries int

	// --- Service ---

	// ListenAddr is the HTTP listen address (env: LISTEN_ADDR). Default: :3000.
	ListenAddr string

	// DatabasePath is the SQLite file (env: DATABASE_PATH). Default: questions.db.
	DatabasePath string

	// DashboardToken gates /dashboard and /api/* (env: DASHBOARD_TOKEN).
	// Empty leaves the dashboard unmounted.
	DashboardToken string

	// LogLevel controls log verbosity: debug, info, warn, error (env: LOG_LEVEL).
	LogLevel string

	// Debug enables Socket Mode protocol logging (env: DEBUG).
	Debug bool

	// parseErrs holds values that were set but could not be parsed.
	parseErrs []error
}

// Load reads a .env file if present, then parses the environment. Variables
// already set in the environment take precedence over the file.
func Load(files ...string) *Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return Parse()
}

// Parse reads configuration from environment variables. Unparseable values
// fall back to their defaults and are reported by Validate.
func Parse() *Config {
	var env envParser
	cfg := &Config{
		// Slack
		BotToken:         os.Getenv("SLACK_BOT_TOKEN"),
		AppToken:         os.Getenv("SLACK_APP_TOKEN"),
		SigningSecret:    os.Getenv("SLACK_SIGNING_SECRET"),
		VerifySignatures: env.boolOr("SLACK_VERIFY_SIGNATURES", true),
		AdminChannel:     os.Getenv("ADMIN_CHANNEL_ID"),

		// Routing
		CallTimeout:       env.durationOr("SLACK_CALL_TIMEOUT", 5*time.Second),
		ProcessingBudget:  env.durationOr("PROCESSING_BUDGET", 45*time.Second),
		DirectoryMaxPages: env.intOr("DIRECTORY_MAX_PAGES", 50),
		DirectoryPageSize: env.intOr("DIRECTORY_PAGE_SIZE", 1000),
		DirectoryRate:     env.floatOr("DIRECTORY_RATE", 1),

		// Sessions
		SessionTTL:        env.durationOr("SESSION_TTL", 30*time.Minute),
		SessionMaxEntries: env.intOr("SESSION_MAX_ENTRIES", 1000),

		// Service
		ListenAddr:     envOr("LISTEN_ADDR", ":3000"),
		DatabasePath:   envOr("DATABASE_PATH", "questions.db"),
		DashboardToken: os.Getenv("DASHBOARD_TOKEN"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		Debug:          env.boolOr("DEBUG", false),
	}
	cfg.parseErrs = env.errs
	return cfg
}

// Validate checks settings the service cannot start without. Disabled
// signature verification is allowed but logged loudly.
func (c *Config) Validate(logger *slog.Logger) error {
	errs := append([]error(nil), c.parseErrs...)
	if c.BotToken == "" {
		errs = append(errs, ErrMissingBotToken)
	}
	if c.VerifySignatures && c.SigningSecret == "" {
		errs = append(errs, ErrMissingSigningSecret)
	}
	if c.DirectoryMaxPages <= 0 {
		errs = append(errs, fmt.Errorf("DIRECTORY_MAX_PAGES must be positive, got %d", c.DirectoryMaxPages))
	}
	if c.CallTimeout <= 0 || c.ProcessingBudget <= 0 {
		errs = append(errs, errors.New("SLACK_CALL_TIMEOUT and PROCESSING_BUDGET must be positive"))
	}
	if c.DashboardToken != "" && len(c.DashboardToken) < MinDashboardTokenLen {
		errs = append(errs, ErrWeakDashboardToken)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if !c.VerifySignatures && logger != nil {
		logger.Warn("Slack signature verification is DISABLED; inbound webhooks are not authenticated",
			"env", "SLACK_VERIFY_SIGNATURES=false")
	}
	if c.DashboardToken == "" && logger != nil {
		logger.Warn("DASHBOARD_TOKEN not set; dashboard and JSON API are not served")
	}
	return nil
}

// Masked returns a copy of the secret-bearing variables with values hidden,
// for diagnostics output.
func (c *Config) Masked() map[string]string {
	return map[string]string{
		"SLACK_BOT_TOKEN":         Mask(c.BotToken),
		"SLACK_APP_TOKEN":         Mask(c.AppToken),
		"SLACK_SIGNING_SECRET":    Mask(c.SigningSecret),
		"SLACK_VERIFY_SIGNATURES": strconv.FormatBool(c.VerifySignatures),
		"ADMIN_CHANNEL_ID":        c.AdminChannel,
		"LISTEN_ADDR":             c.ListenAddr,
		"DATABASE_PATH":           c.DatabasePath,
		"DASHBOARD_TOKEN":         Mask(c.DashboardToken),
		"LOG_LEVEL":               c.LogLevel,
	}
}

// Mask hides all but a short prefix of a secret.
func Mask(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return "****"
	default:
		return s[:5] + "****" + fmt.Sprintf(" (%d chars)", len(s))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser reads typed variables and collects values that fail to parse.
type envParser struct {
	errs []error
}

func (p *envParser) invalid(key, value, kind string) {
	p.errs = append(p.errs, fmt.Errorf("%s: invalid %s %q", key, kind, value))
}

func (p *envParser) intOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.invalid(key, v, "integer")
		return fallback
	}
	return n
}

func (p *envParser) floatOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.invalid(key, v, "number")
		return fallback
	}
	return f
}

func (p *envParser) boolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.invalid(key, v, "boolean")
		return fallback
	}
	return b
}

func (p *envParser) durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.invalid(key, v, "duration")
		return fallback
	}
	return d
}

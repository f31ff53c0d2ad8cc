// Package config reads the proxy's settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when a variable is unset.
const (
	DefaultPort             = 3000
	DefaultPublicDir        = "public"
	DefaultTimeoutSeconds   = 15
	DefaultMaxRedirects     = 10
	DefaultBodyLimit        = 10 * 1024 * 1024
	DefaultMaxResponseBytes = 50 * 1024 * 1024
	DefaultRateLimitBurst   = 10
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Config is the complete runtime configuration.
type Config struct {
	Host      string
	Port      int
	PublicDir string

	Ruleset      string
	WatchRuleset bool

	Timeout          time.Duration
	MaxRedirects     int
	BodyLimit        int
	MaxResponseBytes int64
	UserAgent        string

	AllowedDomains      []string
	AllowRulesetDomains bool
	ExposeRuleset       bool

	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
	NoLogs   bool
	LogURLs  bool
	Metrics  bool
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return FromEnv(os.LookupEnv)
}

// FromEnv reads the configuration through lookup and validates it.
func FromEnv(lookup LookupFunc) (*Config, error) {
	e := env{lookup: lookup}

	timeoutSeconds := e.integer("HTTP_TIMEOUT", DefaultTimeoutSeconds)
	cfg := &Config{
		Host:                e.str("HOST", ""),
		Port:                e.integer("PORT", DefaultPort),
		PublicDir:           e.str("PUBLIC_DIR", DefaultPublicDir),
		Ruleset:             e.str("RULESET", ""),
		WatchRuleset:        e.boolean("WATCH_RULESET", false),
		Timeout:             time.Duration(timeoutSeconds) * time.Second,
		MaxRedirects:        e.integer("MAX_REDIRECTS", DefaultMaxRedirects),
		BodyLimit:           e.integer("BODY_LIMIT", DefaultBodyLimit),
		MaxResponseBytes:    int64(e.integer("MAX_RESPONSE_BYTES", DefaultMaxResponseBytes)),
		UserAgent:           e.str("USER_AGENT", ""),
		AllowedDomains:      splitList(e.str("ALLOWED_DOMAINS", "")),
		AllowRulesetDomains: e.boolean("ALLOWED_DOMAINS_RULESET", false),
		ExposeRuleset:       e.boolean("EXPOSE_RULESET", true),
		RateLimitRPS:        e.number("RATE_LIMIT_RPS", 0),
		RateLimitBurst:      e.integer("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		LogLevel:            strings.ToLower(e.str("LOG_LEVEL", "info")),
		NoLogs:              e.boolean("NOLOGS", false),
		LogURLs:             e.boolean("LOG_URLS", false),
		Metrics:             e.boolean("METRICS", true),
	}
	if e.err != nil {
		return nil, fmt.Errorf("config: %w", e.err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks bounds. It is exported so command-line overrides can be
// re-checked after they are applied.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535; got %d", c.Port)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive; got %s", c.Timeout)
	}
	if c.MaxRedirects < 1 {
		return fmt.Errorf("MAX_REDIRECTS must be positive; got %d", c.MaxRedirects)
	}
	if c.BodyLimit <= 0 {
		return fmt.Errorf("BODY_LIMIT must be positive; got %d", c.BodyLimit)
	}
	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("MAX_RESPONSE_BYTES must be positive; got %d", c.MaxResponseBytes)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be non-negative; got %v", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled; got %d", c.RateLimitBurst)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SlogLevel returns the configured log level. Validate has already rejected
// unknown names.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error; got %q", s)
	}
}

// env collects the first conversion error so FromEnv can report it once.
type env struct {
	lookup LookupFunc
	err    error
}

func (e *env) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(fmt.Errorf("%s must be an integer; got %q", key, raw))
		return fallback
	}
	return n
}

func (e *env) number(key string, fallback float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(fmt.Errorf("%s must be a number; got %q", key, raw))
		return fallback
	}
	return f
}

func (e *env) boolean(key string, fallback bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(fmt.Errorf("%s must be true or false; got %q", key, raw))
		return fallback
	}
	return b
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

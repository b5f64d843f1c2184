// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const envPrefix = "RACKWATCH_"

// Config holds the full runtime configuration.
type Config struct {
	ListenAddr string // HTTP bind address, e.g. ":7655"
	DataDir    string // directory for the sqlite databases

	NENGURL     string // base URL of the upstream inventory API
	NENGToken   string // optional bearer token for NENG
	NENGTimeout time.Duration

	PollInterval    time.Duration
	UpstreamRetries int

	LogLevel  string
	LogFormat string

	// APITokens maps a bearer token to a role name (admin, operator,
	// technician, observer). Mutating endpoints are gated on the role.
	APITokens map[string]string
}

// Defaults returns the baseline configuration before env overrides.
func Defaults() *Config {
	return &Config{
		ListenAddr:      ":7655",
		DataDir:         "/var/lib/rackwatch",
		NENGTimeout:     10 * time.Second,
		PollInterval:    30 * time.Second,
		UpstreamRetries: 3,
		LogLevel:        "info",
		LogFormat:       "auto",
		APITokens:       map[string]string{},
	}
}

// Load builds the configuration from defaults, an optional .env file, and
// environment variables. Missing required settings are an error; the
// caller is expected to treat that as fatal.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file, continuing with environment")
	}

	cfg := Defaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if val := os.Getenv(envPrefix + "LISTEN_ADDR"); val != "" {
		c.ListenAddr = val
	}
	if val := os.Getenv(envPrefix + "DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv(envPrefix + "NENG_URL"); val != "" {
		c.NENGURL = val
	}
	if val := os.Getenv(envPrefix + "NENG_TOKEN"); val != "" {
		c.NENGToken = val
	}
	if val := os.Getenv(envPrefix + "NENG_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			c.NENGTimeout = d
		} else {
			log.Warn().Str("value", val).Msg("Invalid NENG_TIMEOUT, keeping default")
		}
	}
	if val := os.Getenv(envPrefix + "POLL_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			c.PollInterval = d
		} else {
			log.Warn().Str("value", val).Msg("Invalid POLL_INTERVAL, keeping default")
		}
	}
	if val := os.Getenv(envPrefix + "UPSTREAM_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.UpstreamRetries = n
		}
	}
	if val := os.Getenv(envPrefix + "LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv(envPrefix + "LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := os.Getenv(envPrefix + "TOKENS"); val != "" {
		c.APITokens = parseTokenMap(val)
	}
}

// parseTokenMap parses "token:role,token:role" pairs.
func parseTokenMap(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			log.Warn().Str("pair", pair).Msg("Ignoring malformed token entry")
			continue
		}
		tokens[parts[0]] = strings.ToLower(strings.TrimSpace(parts[1]))
	}
	return tokens
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.NENGURL == "" {
		return fmt.Errorf("%sNENG_URL is required", envPrefix)
	}
	if _, err := url.ParseRequestURI(c.NENGURL); err != nil {
		return fmt.Errorf("invalid NENG URL %q: %w", c.NENGURL, err)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%sDATA_DIR is required", envPrefix)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval %s is below the 1s minimum", c.PollInterval)
	}
	return nil
}

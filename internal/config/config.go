package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads, strictly decodes, and validates the config file.
//
// A ./.env file (if present) is loaded first so config values like
// ${WAGATE_HTTP_ADDR} can come from the environment of a dev checkout.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b = []byte(os.ExpandEnv(string(b)))

	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = ":3000"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./wagate.db"
	}
	if strings.TrimSpace(c.Transport.Driver) == "" {
		c.Transport.Driver = "whatsapp"
	}
	if strings.TrimSpace(c.Transport.StorePath) == "" {
		c.Transport.StorePath = "./wagate-session.db"
	}
	if strings.TrimSpace(c.Storage.Retention.Cron) == "" {
		c.Storage.Retention.Cron = "0 3 * * *"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"storage.retention.max_age", c.Storage.Retention.MaxAge},
		{"session.reconnect_delay", c.Session.ReconnectDelay},
		{"session.error_retry_delay", c.Session.ErrorRetryDelay},
		{"session.manual_delay", c.Session.ManualDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage.Retention.Enabled && strings.TrimSpace(c.Storage.Retention.MaxAge) == "" {
		return errors.New("storage.retention.max_age is required when retention is enabled")
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0, got %d", c.Dispatch.RatePerSec)
	}
	switch c.Transport.Driver {
	case "whatsapp":
	default:
		return fmt.Errorf("unknown transport driver %q", c.Transport.Driver)
	}
	return nil
}

package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Transport TransportConfig `json:"transport"`
	Session   SessionConfig   `json:"session,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type HTTPConfig struct {
	Addr      string `json:"addr"`
	BodyLimit string `json:"body_limit,omitempty"` // e.g. "2M"
}

// StorageConfig controls the delivery ledger database.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type StorageConfig struct {
	Path        string          `json:"path"`
	BusyTimeout string          `json:"busy_timeout,omitempty"`
	Retention   RetentionConfig `json:"retention,omitempty"`
}

// RetentionConfig controls scheduled pruning of old ledger rows.
// Disabled by default; the ledger is append-mostly and small installs
// rarely need it.
type RetentionConfig struct {
	Enabled bool   `json:"enabled"`
	MaxAge  string `json:"max_age,omitempty"`  // e.g. "720h"
	Cron    string `json:"cron,omitempty"`     // cron spec, default "0 3 * * *"
}

type TransportConfig struct {
	// Driver selects the transport provider. Currently "whatsapp".
	Driver string `json:"driver"`
	// StorePath is where the provider keeps its pairing/credential state.
	StorePath string `json:"store_path"`
}

// SessionConfig tunes the reconnect timers. Defaults: 5s after a recoverable
// close, 10s after an init failure, 1s after a manual reconnect.
type SessionConfig struct {
	ReconnectDelay  string `json:"reconnect_delay,omitempty"`
	ErrorRetryDelay string `json:"error_retry_delay,omitempty"`
	ManualDelay     string `json:"manual_delay,omitempty"`
}

type DispatchConfig struct {
	// RatePerSec caps outbound sends across single and bulk paths.
	// 0 disables the limiter.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

package types

import (
	"time"
)

type ConfigManager interface {
	GetConfig() *Config
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

// Config is the full configuration surface of the engine. Durations are
// time.Duration values; YAML overrides supply them as integer nanoseconds,
// programmatic construction uses the usual constants.
type Config struct {
	Connection *ConnectionConfig `yaml:"connection" json:"connection" validate:"required"`
	Logging    *LoggingConfig    `yaml:"logging" json:"logging"`
	Cache      *CacheConfig      `yaml:"cache" json:"cache"`
	Offline    *OfflineConfig    `yaml:"offline" json:"offline"`
	Session    *SessionConfig    `yaml:"session" json:"session"`
	Metrics    *MetricsConfig    `yaml:"metrics" json:"metrics"`
}

type ConnectionConfig struct {
	BaseURL         string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	Retries         int           `yaml:"retries" json:"retries" validate:"min=1"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff" validate:"min=0"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent"`
	SecureMode      bool          `yaml:"secure_mode" json:"secure_mode"`
	CapabilityToken string        `yaml:"capability_token" json:"capability_token"`
	CellSecret      string        `yaml:"cell_secret" json:"cell_secret"`
	TLS             *TLSConfig    `yaml:"tls" json:"tls"`
}

type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

type LoggingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Verbose bool   `yaml:"verbose" json:"verbose"`
	Mode    string `yaml:"mode" json:"mode" validate:"omitempty,oneof=development production"`
}

type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Backend       string        `yaml:"backend" json:"backend" validate:"required_if=Enabled true,omitempty,oneof=sqlite redis memory"`
	Dir           string        `yaml:"dir" json:"dir"`
	DefaultTTL    time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	MaxTTL        time.Duration `yaml:"max_ttl" json:"max_ttl" validate:"min=0"`
	Capacity      int           `yaml:"capacity" json:"capacity" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" validate:"min=0"`
	Redis         *RedisConfig  `yaml:"redis,omitempty" json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db" validate:"min=0"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type OfflineConfig struct {
	Enabled               bool          `yaml:"enabled" json:"enabled"`
	AutoSync              bool          `yaml:"auto_sync" json:"auto_sync"`
	ProbePath             string        `yaml:"probe_path" json:"probe_path"`
	ProbeInterval         time.Duration `yaml:"probe_interval" json:"probe_interval" validate:"min=0"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout" json:"probe_timeout" validate:"min=0"`
	ProbeFailureThreshold int           `yaml:"probe_failure_threshold" json:"probe_failure_threshold" validate:"min=1"`
	ProbeRecoveryTimeout  time.Duration `yaml:"probe_recovery_timeout" json:"probe_recovery_timeout" validate:"min=0"`
}

type SessionConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	Passphrase string `yaml:"passphrase" json:"passphrase"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Backend   string `yaml:"backend" json:"backend" validate:"required_if=Enabled true,omitempty,oneof=memory prometheus"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Defaults returns a fully populated configuration; loaders overlay file or
// caller values on top of it.
func Defaults() *Config {
	return &Config{
		Connection: &ConnectionConfig{
			Timeout:      30 * time.Second,
			Retries:      3,
			RetryBackoff: time.Second,
			TLS:          &TLSConfig{},
		},
		Logging: &LoggingConfig{
			Enabled: true,
			Mode:    "production",
		},
		Cache: &CacheConfig{
			Enabled:       true,
			Backend:       "sqlite",
			Dir:           "./hivesync_data",
			DefaultTTL:    time.Hour,
			MaxTTL:        24 * time.Hour,
			Capacity:      1000,
			SweepInterval: 5 * time.Minute,
			Redis: &RedisConfig{
				Prefix: "hivesync:",
			},
		},
		Offline: &OfflineConfig{
			Enabled:               true,
			AutoSync:              true,
			ProbePath:             "/",
			ProbeInterval:         15 * time.Second,
			ProbeTimeout:          2 * time.Second,
			ProbeFailureThreshold: 3,
			ProbeRecoveryTimeout:  30 * time.Second,
		},
		Session: &SessionConfig{
			Dir: "./hivesync_data",
		},
		Metrics: &MetricsConfig{
			Enabled:   false,
			Backend:   "memory",
			Namespace: "hivesync",
		},
	}
}

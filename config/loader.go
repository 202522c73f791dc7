package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hivedb-io/hivesync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.Config, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := types.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	return l.prepare(config)
}

// LoadFromConfig overlays a caller-built configuration onto the defaults and
// validates the result. The input is not mutated.
func (l *Loader) LoadFromConfig(config *types.Config) (*types.Config, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	merged := mergeDefaults(config)
	return l.prepare(merged)
}

func (l *Loader) prepare(config *types.Config) (*types.Config, error) {
	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func mergeDefaults(in *types.Config) *types.Config {
	out := types.Defaults()

	if in.Connection != nil {
		c := *in.Connection
		if c.Timeout == 0 {
			c.Timeout = out.Connection.Timeout
		}
		if c.Retries == 0 {
			c.Retries = out.Connection.Retries
		}
		if c.RetryBackoff == 0 {
			c.RetryBackoff = out.Connection.RetryBackoff
		}
		if c.TLS == nil {
			c.TLS = out.Connection.TLS
		}
		out.Connection = &c
	}

	if in.Logging != nil {
		c := *in.Logging
		if c.Mode == "" {
			c.Mode = out.Logging.Mode
		}
		out.Logging = &c
	}

	if in.Cache != nil {
		c := *in.Cache
		if c.Backend == "" {
			c.Backend = out.Cache.Backend
		}
		if c.Dir == "" {
			c.Dir = out.Cache.Dir
		}
		if c.DefaultTTL == 0 {
			c.DefaultTTL = out.Cache.DefaultTTL
		}
		if c.MaxTTL == 0 {
			c.MaxTTL = out.Cache.MaxTTL
		}
		if c.Capacity == 0 {
			c.Capacity = out.Cache.Capacity
		}
		if c.SweepInterval == 0 {
			c.SweepInterval = out.Cache.SweepInterval
		}
		if c.Redis == nil {
			c.Redis = out.Cache.Redis
		}
		out.Cache = &c
	}

	if in.Offline != nil {
		c := *in.Offline
		if c.ProbePath == "" {
			c.ProbePath = out.Offline.ProbePath
		}
		if c.ProbeInterval == 0 {
			c.ProbeInterval = out.Offline.ProbeInterval
		}
		if c.ProbeTimeout == 0 {
			c.ProbeTimeout = out.Offline.ProbeTimeout
		}
		if c.ProbeFailureThreshold == 0 {
			c.ProbeFailureThreshold = out.Offline.ProbeFailureThreshold
		}
		if c.ProbeRecoveryTimeout == 0 {
			c.ProbeRecoveryTimeout = out.Offline.ProbeRecoveryTimeout
		}
		out.Offline = &c
	}

	if in.Session != nil {
		c := *in.Session
		if c.Dir == "" {
			c.Dir = out.Session.Dir
		}
		out.Session = &c
	}

	if in.Metrics != nil {
		c := *in.Metrics
		if c.Backend == "" {
			c.Backend = out.Metrics.Backend
		}
		if c.Namespace == "" {
			c.Namespace = out.Metrics.Namespace
		}
		out.Metrics = &c
	}

	return out
}

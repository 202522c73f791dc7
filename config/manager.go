package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hivedb-io/hivesync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type ConfigurationManager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          atomic.Pointer[types.Config]
	configPath      string
	loader          *Loader
	parser          atomic.Pointer[Parser]
	state           atomic.Value
	shutdownTimeout time.Duration
}

// NewConfigurationManager loads configuration from a YAML file.
func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	cm := newManager(ctx, configPath)

	loaded, err := cm.loader.LoadFromFile(configPath)
	if err != nil {
		cm.cancel()
		return nil, err
	}

	cm.install(loaded)
	return cm, nil
}

// NewFromConfig wraps a caller-built configuration after overlaying defaults
// and validating.
func NewFromConfig(ctx context.Context, cfg *types.Config) (*ConfigurationManager, error) {
	cm := newManager(ctx, "")

	loaded, err := cm.loader.LoadFromConfig(cfg)
	if err != nil {
		cm.cancel()
		return nil, err
	}

	cm.install(loaded)
	return cm, nil
}

func newManager(ctx context.Context, configPath string) *ConfigurationManager {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:             managerCtx,
		cancel:          cancel,
		configPath:      configPath,
		loader:          NewLoader(),
		shutdownTimeout: 10 * time.Second,
	}

	cm.state.Store(StateStopped)
	return cm
}

func (cm *ConfigurationManager) install(cfg *types.Config) {
	cm.config.Store(cfg)
	cm.parser.Store(NewParser(cfg))
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if cm.getState() == StateStarting {
			cm.setState(StateRunning)
		}
	}()

	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		cm.setState(StateStopped)
		cm.cancel()
	}()

	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *ConfigurationManager) GetConfig() *types.Config {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *ConfigurationManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

package hivesync

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hivedb-io/hivesync/cache"
	"github.com/hivedb-io/hivesync/client"
	"github.com/hivedb-io/hivesync/config"
	"github.com/hivedb-io/hivesync/engine"
	"github.com/hivedb-io/hivesync/logger"
	"github.com/hivedb-io/hivesync/metrics"
	"github.com/hivedb-io/hivesync/probe"
	"github.com/hivedb-io/hivesync/queue"
	"github.com/hivedb-io/hivesync/scheduler"
	"github.com/hivedb-io/hivesync/session"
	"github.com/hivedb-io/hivesync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Client is the embeddable HiveDB synchronization client. It owns the
// cache store, offline queue, session manager, connectivity probe and
// transport, and exposes the typed HiveDB surface on top of the sync
// engine.
type Client struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.LoggerManager
	metrics         types.MetricsManager
	cache           types.CacheStore
	queue           types.OfflineQueue
	session         types.SessionManager
	transport       types.Transport
	probe           types.ConnectivityProbe
	scheduler       types.JobScheduler
	engine          types.SyncEngine
	state           atomic.Value
	shutdownTimeout time.Duration
}

// New wires a client from a programmatic configuration. Missing sections
// fall back to defaults; the connection base URL is the only required
// field.
func New(ctx context.Context, cfg *types.Config, opts ...Option) (*Client, error) {
	configManager, err := config.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return build(ctx, configManager, opts...)
}

// NewFromFile wires a client from a YAML configuration file.
func NewFromFile(ctx context.Context, configPath string, opts ...Option) (*Client, error) {
	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return build(ctx, configManager, opts...)
}

func build(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*Client, error) {
	clientCtx, cancel := context.WithCancel(ctx)

	loggerManager, err := logger.NewManager(clientCtx, configManager)
	if err != nil {
		cancel()
		return nil, err
	}

	metricsManager, err := metrics.NewManager(clientCtx, configManager, loggerManager)
	if err != nil {
		cancel()
		return nil, err
	}

	cfg := configManager.GetConfig()

	if cfg.Connection.UserAgent == "" {
		cfg.Connection.UserAgent = defaultUserAgent
	}

	c := &Client{
		ctx:             clientCtx,
		cancel:          cancel,
		config:          configManager,
		logger:          loggerManager,
		metrics:         metricsManager,
		shutdownTimeout: 30 * time.Second,
	}

	c.state.Store(StateStopped)

	c.cache, err = cache.NewCacheStore(clientCtx, configManager, loggerManager, metricsManager)
	if err != nil {
		cancel()
		return nil, err
	}

	c.queue, err = queue.NewSQLiteQueue(clientCtx, loggerManager, cfg.Cache.Dir)
	if err != nil {
		cancel()
		return nil, err
	}

	c.session, err = session.NewManager(clientCtx, loggerManager, cfg.Session)
	if err != nil {
		cancel()
		return nil, err
	}

	c.transport, err = client.NewHTTPTransport(clientCtx, loggerManager, cfg.Connection)
	if err != nil {
		cancel()
		return nil, err
	}

	c.probe = probe.NewHTTPProbe(loggerManager, cfg.Connection, cfg.Offline)
	c.scheduler = scheduler.NewManager(clientCtx, loggerManager, metricsManager)

	for _, opt := range opts {
		if err := opt(c); err != nil {
			cancel()
			return nil, err
		}
	}

	c.engine = engine.NewEngine(
		clientCtx,
		configManager,
		loggerManager,
		metricsManager,
		c.cache,
		c.queue,
		c.session,
		c.probe,
		c.transport,
		c.scheduler,
	)

	return c, nil
}

// Start brings the components up in dependency order: configuration and
// logging first, the persistent stores in parallel, then transport,
// scheduler, and finally the engine.
func (c *Client) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	var startErr error
	defer func() {
		if startErr != nil {
			c.setState(StateStopped)
			return
		}
		c.setState(StateRunning)
	}()

	if startErr = c.startComponents(); startErr != nil {
		return startErr
	}

	c.logger.Info("HiveDB sync client started")
	return nil
}

func (c *Client) startComponents() error {
	for _, component := range []struct {
		name    string
		manager types.LifecycleManager
	}{
		{"config manager", c.config.(types.LifecycleManager)},
		{"logger", c.logger},
		{"metrics manager", c.metrics},
	} {
		if err := component.manager.Start(); err != nil {
			return types.WrapError(err, "failed to start "+component.name)
		}
	}

	g, gCtx := errgroup.WithContext(c.ctx)

	for _, component := range []struct {
		name    string
		manager types.LifecycleManager
	}{
		{"cache store", c.cache},
		{"offline queue", c.queue},
		{"session manager", c.session},
	} {
		name, manager := component.name, component.manager
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := manager.Start(); err != nil {
					return types.WrapError(err, "failed to start "+name)
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if secret := c.config.GetConfig().Connection.CellSecret; secret != "" {
		if err := c.session.CheckCellCredential(secret); err != nil {
			return types.WrapError(err, "cell secret rejected")
		}
	}

	if lifecycle, ok := c.transport.(types.LifecycleManager); ok {
		if err := lifecycle.Start(); err != nil {
			return types.WrapError(err, "failed to start transport")
		}
	}

	if err := c.scheduler.Start(); err != nil {
		return types.WrapError(err, "failed to start scheduler")
	}

	if err := c.engine.Start(); err != nil {
		return types.WrapError(err, "failed to start sync engine")
	}

	return nil
}

// Stop tears the components down in reverse order. Errors are collected
// rather than aborting the cascade so every component gets its shutdown.
func (c *Client) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		c.setState(StateStopped)
		c.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()

	var stopErrs []error

	if err := c.engine.Stop(); err != nil {
		stopErrs = append(stopErrs, err)
		c.logger.Error("Failed to stop sync engine", zap.Error(err))
	}

	if err := c.scheduler.Stop(); err != nil {
		stopErrs = append(stopErrs, err)
		c.logger.Error("Failed to stop scheduler", zap.Error(err))
	}

	if lifecycle, ok := c.transport.(types.LifecycleManager); ok {
		if err := lifecycle.Stop(); err != nil {
			stopErrs = append(stopErrs, err)
			c.logger.Error("Failed to stop transport", zap.Error(err))
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	for _, component := range []struct {
		name    string
		manager types.LifecycleManager
	}{
		{"cache store", c.cache},
		{"offline queue", c.queue},
		{"session manager", c.session},
	} {
		name, manager := component.name, component.manager
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := manager.Stop(); err != nil {
					c.logger.Error("Failed to stop "+name, zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		stopErrs = append(stopErrs, err)
	}

	if err := c.metrics.Stop(); err != nil {
		stopErrs = append(stopErrs, err)
	}

	c.logger.Info("HiveDB sync client stopped")

	if err := c.logger.Stop(); err != nil {
		stopErrs = append(stopErrs, err)
	}

	if lifecycle, ok := c.config.(types.LifecycleManager); ok {
		if err := lifecycle.Stop(); err != nil {
			stopErrs = append(stopErrs, err)
		}
	}

	if len(stopErrs) > 0 {
		return types.Errorf(types.ErrComponentStopFailed, "%d components failed to stop", len(stopErrs))
	}

	return nil
}

func (c *Client) IsRunning() bool {
	return c.getState() == StateRunning
}

// Engine exposes the underlying sync engine for callers that need raw
// read/write access outside the typed surface.
func (c *Client) Engine() types.SyncEngine {
	return c.engine
}

// Config exposes the configuration manager so host applications can
// read settings by dot path.
func (c *Client) Config() types.ConfigManager {
	return c.config
}

// Metrics exposes the metrics manager so host applications can export
// collected series.
func (c *Client) Metrics() types.MetricsManager {
	return c.metrics
}

func (c *Client) getState() State {
	return c.state.Load().(State)
}

func (c *Client) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *Client) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}

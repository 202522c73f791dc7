package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hivedb-io/hivesync/client"
	"github.com/hivedb-io/hivesync/types"
	"github.com/hivedb-io/hivesync/utils"
)

type EngineState int32

const (
	EngineStateStopped EngineState = iota
	EngineStateStarting
	EngineStateRunning
	EngineStateStopping
)

const (
	authRefreshPath = "/auth/refresh"

	sweepJobName = "cache_sweep"
	tickJobName  = "connectivity_tick"
)

// Engine drives every remote operation through the same control loop:
// classify the transport outcome, retry network-level failures up to the
// configured ceiling, refresh credentials once on 401, and fall back to
// cache or queue when the service is unreachable.
type Engine struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       types.ConfigManager
	metrics      types.MetricsManager
	cache        types.CacheStore
	queue        types.OfflineQueue
	session      types.SessionManager
	probe        types.ConnectivityProbe
	transport    types.Transport
	scheduler    types.JobScheduler
	refreshGroup singleflight.Group
	syncMu       sync.Mutex
	wasOffline   atomic.Bool
	state        atomic.Value
}

func NewEngine(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	cache types.CacheStore,
	queue types.OfflineQueue,
	session types.SessionManager,
	probe types.ConnectivityProbe,
	transport types.Transport,
	scheduler types.JobScheduler,
) *Engine {
	engineCtx, cancel := context.WithCancel(ctx)

	e := &Engine{
		ctx:       engineCtx,
		cancel:    cancel,
		logger:    logger,
		config:    config,
		metrics:   metrics,
		cache:     cache,
		queue:     queue,
		session:   session,
		probe:     probe,
		transport: transport,
		scheduler: scheduler,
	}

	e.state.Store(EngineStateStopped)

	return e
}

func (e *Engine) Start() error {
	if !e.transitionState(EngineStateStopped, EngineStateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if e.getState() == EngineStateStarting {
			e.setState(EngineStateRunning)
		}
	}()

	if err := e.registerJobs(); err != nil {
		e.setState(EngineStateStopped)
		return err
	}

	e.updateQueueDepth()

	e.logger.Info("Sync engine started")
	return nil
}

func (e *Engine) Stop() error {
	if !e.transitionState(EngineStateRunning, EngineStateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		e.setState(EngineStateStopped)
		e.cancel()
	}()

	e.scheduler.Remove(sweepJobName)
	e.scheduler.Remove(tickJobName)

	e.logger.Info("Sync engine stopped gracefully")
	return nil
}

func (e *Engine) IsRunning() bool {
	return e.getState() == EngineStateRunning
}

func (e *Engine) registerJobs() error {
	cfg := e.config.GetConfig()

	if cfg.Cache.Enabled && cfg.Cache.SweepInterval > 0 {
		expr := "@every " + cfg.Cache.SweepInterval.String()
		if err := e.scheduler.Add(sweepJobName, expr, e.sweepJob); err != nil {
			return err
		}
	}

	if cfg.Offline.Enabled && cfg.Offline.ProbeInterval > 0 {
		expr := "@every " + cfg.Offline.ProbeInterval.String()
		if err := e.scheduler.Add(tickJobName, expr, e.connectivityTick); err != nil {
			e.scheduler.Remove(sweepJobName)
			return err
		}
	}

	return nil
}

func (e *Engine) sweepJob() {
	removed, err := e.cache.Sweep()
	if err != nil {
		e.logger.Warn("Cache sweep failed", zap.Error(err))
		return
	}

	if removed > 0 {
		e.logger.Debug("Cache sweep removed expired entries", zap.Int("removed", removed))
	}
}

// connectivityTick watches for the offline-to-online transition and, when
// auto-sync is on and writes are pending, replays the queue.
func (e *Engine) connectivityTick() {
	reachable := e.probe.Reachable(e.ctx)
	e.updateQueueDepth()

	if !reachable {
		e.wasOffline.Store(true)
		return
	}

	if !e.wasOffline.Swap(false) {
		return
	}

	e.logger.Info("Connectivity restored")

	if !e.config.GetConfig().Offline.AutoSync {
		return
	}

	pending, err := e.queue.Count()
	if err != nil {
		e.logger.Warn("Failed to count pending operations", zap.Error(err))
		return
	}

	if pending == 0 {
		return
	}

	e.logger.Info("Auto-sync replaying offline queue", zap.Int("pending", pending))

	results, err := e.Synchronize(e.ctx)
	if err != nil {
		e.logger.Error("Auto-sync failed", zap.Error(err))
		return
	}

	failed := 0
	for _, result := range results {
		if !result.Succeeded() {
			failed++
		}
	}

	e.logger.Info("Auto-sync finished",
		zap.Int("replayed", len(results)),
		zap.Int("failed", failed))
}

func (e *Engine) Read(ctx context.Context, method, path string, body interface{}, opts *types.ReadOptions) (*types.Result, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	if opts == nil {
		opts = &types.ReadOptions{}
	}

	fingerprint := Fingerprint(method, path, body)

	if opts.UseCache {
		payload, hit, err := e.cache.Get(fingerprint)
		if err != nil {
			return nil, err
		}
		if hit {
			e.recordOperation("read", "cache_hit")
			return &types.Result{StatusCode: fasthttp.StatusOK, Body: payload, FromCache: true}, nil
		}
	}

	if !e.probe.Reachable(ctx) {
		return e.readOffline(fingerprint)
	}

	result, err := e.execute(ctx, method, path, body, &types.CallOptions{Timeout: opts.Timeout}, true, true)
	if err != nil {
		e.recordOperation("read", "error")
		return nil, err
	}

	if opts.UseCache {
		if err := e.cache.Set(fingerprint, result.Body, opts.TTL); err != nil {
			e.logger.Warn("Failed to populate cache",
				zap.String("fingerprint", fingerprint),
				zap.Error(err))
		}
	}

	e.recordOperation("read", "success")
	return result, nil
}

// readOffline serves a read without connectivity. Offline mode falls back
// to the cache even when the caller did not opt in; a miss there is the
// distinct no-data-while-offline failure.
func (e *Engine) readOffline(fingerprint string) (*types.Result, error) {
	if !e.config.GetConfig().Offline.Enabled {
		e.recordOperation("read", "unreachable")
		return nil, types.Errorf(types.ErrConnection, "service unreachable")
	}

	payload, hit, err := e.cache.Get(fingerprint)
	if err != nil {
		return nil, err
	}

	if !hit {
		e.recordOperation("read", "offline_miss")
		return nil, types.Errorf(types.ErrOfflineMode, "no cached data available while offline")
	}

	e.recordOperation("read", "offline_hit")
	return &types.Result{StatusCode: fasthttp.StatusOK, Body: payload, FromCache: true}, nil
}

func (e *Engine) Write(ctx context.Context, method, path string, body interface{}, opts *types.WriteOptions) (*types.Result, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	if opts == nil {
		opts = &types.WriteOptions{}
	}

	if !e.probe.Reachable(ctx) {
		return e.writeOffline(method, path, body)
	}

	result, err := e.execute(ctx, method, path, body, &types.CallOptions{Timeout: opts.Timeout}, true, true)
	if err != nil {
		e.recordOperation("write", "error")
		return nil, err
	}

	e.invalidateScope(path)

	e.recordOperation("write", "success")
	return result, nil
}

// writeOffline defers a mutation into the queue and reports it as a
// success-shaped queued result. With offline mode disabled the write
// fails the way any unreachable call does.
func (e *Engine) writeOffline(method, path string, body interface{}) (*types.Result, error) {
	if !e.config.GetConfig().Offline.Enabled {
		e.recordOperation("write", "unreachable")
		return nil, types.Errorf(types.ErrConnection, "service unreachable")
	}

	opMethod, err := types.OpMethodForVerb(method)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = utils.Marshal(body)
		if err != nil {
			return nil, types.WrapError(err, "failed to marshal queued payload")
		}
	}

	id, err := e.queue.Enqueue(opMethod, path, payload)
	if err != nil {
		e.recordOperation("write", "enqueue_error")
		return nil, err
	}

	e.updateQueueDepth()
	e.recordOperation("write", "queued")

	e.logger.Info("Write deferred to offline queue",
		zap.String("id", id),
		zap.String("method", method),
		zap.String("path", path))

	return &types.Result{
		StatusCode:  fasthttp.StatusAccepted,
		Queued:      true,
		OperationID: id,
	}, nil
}

func (e *Engine) Execute(ctx context.Context, method, path string, body interface{}, opts *types.CallOptions) (*types.Result, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	result, err := e.execute(ctx, method, path, body, opts, true, true)
	if err != nil {
		e.recordOperation("execute", "error")
		return nil, err
	}

	e.recordOperation("execute", "success")
	return result, nil
}

func (e *Engine) Synchronize(ctx context.Context) ([]types.SyncResult, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	if !e.probe.Reachable(ctx) {
		e.recordOperation("synchronize", "unreachable")
		return nil, types.Errorf(types.ErrConnection, "cannot synchronize while service is unreachable")
	}

	operations, err := e.queue.ListInOrder()
	if err != nil {
		return nil, err
	}

	results := make([]types.SyncResult, 0, len(operations))

	for _, op := range operations {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, types.WrapError(ctxErr, "synchronize aborted")
		}

		results = append(results, e.replayOne(ctx, op))
	}

	e.updateQueueDepth()
	e.recordOperation("synchronize", "success")

	return results, nil
}

// replayOne applies a single queued operation with full write-path
// semantics. A failure is recorded and left in the queue for the next
// pass; it never aborts the batch.
func (e *Engine) replayOne(ctx context.Context, op types.QueuedOperation) types.SyncResult {
	verb, err := op.Method.HTTPVerb()
	if err != nil {
		e.recordReplay("invalid")
		return types.SyncResult{Operation: op, Err: err}
	}

	var body interface{}
	if op.Payload != nil {
		body = json.RawMessage(op.Payload)
	}

	result, err := e.execute(ctx, verb, op.Target, body, nil, true, true)
	if err != nil {
		e.recordReplay("failure")
		e.logger.Warn("Replay of queued operation failed",
			zap.String("id", op.ID),
			zap.String("target", op.Target),
			zap.Error(err))
		return types.SyncResult{Operation: op, Err: err}
	}

	if err := e.queue.Remove(op.ID); err != nil {
		e.logger.Error("Failed to remove replayed operation from queue",
			zap.String("id", op.ID),
			zap.Error(err))
	}

	e.invalidateScope(op.Target)
	e.recordReplay("success")

	e.logger.Debug("Replayed queued operation",
		zap.String("id", op.ID),
		zap.String("target", op.Target),
		zap.Int("status_code", result.StatusCode))

	return types.SyncResult{Operation: op, Response: result}
}

// execute is the resilient call loop shared by every path. Network-level
// failures are retried with linear backoff up to the configured attempt
// ceiling; a 401 triggers at most one credential refresh for the whole
// call, after which the request is repeated without consuming an attempt.
func (e *Engine) execute(ctx context.Context, method, path string, body interface{}, opts *types.CallOptions, withAuth, allowRefresh bool) (*types.Result, error) {
	cfg := e.config.GetConfig().Connection

	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	attempt := 1
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, types.WrapError(ctxErr, "call aborted")
		}

		callOpts := e.buildCallOptions(opts, withAuth)
		responseBody, statusCode, err := e.transport.Call(ctx, method, path, body, callOpts)

		switch client.Classify(statusCode, err) {
		case client.OutcomeSuccess:
			return &types.Result{StatusCode: statusCode, Body: responseBody}, nil

		case client.OutcomeUnauthorized:
			if allowRefresh {
				if refreshErr := e.refreshSession(ctx, callOpts.BearerToken); refreshErr != nil {
					return nil, refreshErr
				}
				allowRefresh = false
				continue
			}
			return nil, types.Errorf(types.ErrAuthorization, "unauthorized: %s", errorDetail(responseBody, statusCode))

		case client.OutcomePermanent:
			if err != nil {
				return nil, err
			}
			return nil, permanentError(statusCode, responseBody)

		case client.OutcomeRetryable:
			lastErr = err
			if attempt >= attempts {
				e.logger.Warn("Retry ceiling reached",
					zap.String("method", method),
					zap.String("path", path),
					zap.Int("attempts", attempts),
					zap.Error(lastErr))
				return nil, types.Errorf(types.ErrConnection, "all %d attempts failed: %v", attempts, lastErr)
			}

			backoff := time.Duration(attempt) * cfg.RetryBackoff
			e.recordRetry()

			e.logger.Debug("Retrying after transient failure",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, types.WrapError(ctx.Err(), "call aborted during backoff")
			case <-e.ctx.Done():
				return nil, types.WrapError(e.ctx.Err(), "engine shutting down")
			}

			attempt++
		}
	}
}

func (e *Engine) buildCallOptions(base *types.CallOptions, withAuth bool) *types.CallOptions {
	opts := &types.CallOptions{}
	if base != nil {
		*opts = *base
	}

	if withAuth && opts.BearerToken == "" {
		if token, ok := e.session.CurrentToken(); ok {
			opts.BearerToken = token
		}
	}

	return opts
}

// refreshSession exchanges the stored refresh token for a new credential
// pair. Concurrent unauthorized calls collapse into one refresh; callers
// whose token already changed under them skip the exchange entirely. Any
// failure clears the session so the caller sees a clean unauthenticated
// state.
func (e *Engine) refreshSession(ctx context.Context, staleToken string) error {
	_, err, _ := e.refreshGroup.Do("refresh", func() (interface{}, error) {
		if current, ok := e.session.CurrentToken(); ok && current != staleToken {
			return nil, nil
		}

		refreshToken, ok := e.session.CurrentRefreshToken()
		if !ok {
			e.recordRefresh("no_token")
			e.clearSession()
			return nil, types.Errorf(types.ErrAuthorization, "cannot refresh session: no refresh token")
		}

		body := map[string]string{"refresh_token": refreshToken}

		result, err := e.execute(ctx, fasthttp.MethodPost, authRefreshPath, body, nil, false, false)
		if err != nil {
			e.recordRefresh("failure")
			e.clearSession()
			return nil, types.Errorf(types.ErrAuthorization, "session refresh failed: %v", err)
		}

		var token types.AuthToken
		if err := utils.Unmarshal(result.Body, &token); err != nil {
			e.recordRefresh("failure")
			e.clearSession()
			return nil, types.Errorf(types.ErrAuthorization, "session refresh returned unusable payload: %v", err)
		}

		newRefresh := token.RefreshToken
		if newRefresh == "" {
			newRefresh = refreshToken
		}

		if err := e.session.Save(token.AccessToken, newRefresh); err != nil {
			e.recordRefresh("failure")
			e.clearSession()
			return nil, types.Errorf(types.ErrAuthorization, "refreshed session rejected: %v", err)
		}

		e.recordRefresh("success")
		e.logger.Info("Session refreshed")

		return nil, nil
	})

	return err
}

func (e *Engine) clearSession() {
	if err := e.session.Clear(); err != nil {
		e.logger.Error("Failed to clear session", zap.Error(err))
	}
}

func (e *Engine) invalidateScope(path string) {
	scope := InvalidationScope(path)

	removed, err := e.cache.InvalidateMatching(scope)
	if err != nil {
		e.logger.Warn("Cache invalidation failed",
			zap.String("scope", scope),
			zap.Error(err))
		return
	}

	if removed > 0 {
		e.logger.Debug("Invalidated cache entries",
			zap.String("scope", scope),
			zap.Int("removed", removed))
	}
}

// permanentError maps a well-formed error response onto the taxonomy: 403
// is an authorization verdict, anything else carries the status and the
// detail message the server sent.
func permanentError(statusCode int, body []byte) error {
	detail := errorDetail(body, statusCode)

	if statusCode == fasthttp.StatusForbidden {
		return types.Errorf(types.ErrAuthorization, "forbidden: %s", detail)
	}

	return types.NewAPIError(statusCode, detail)
}

func errorDetail(body []byte, statusCode int) string {
	if len(body) > 0 {
		var parsed types.ErrorBody
		if err := utils.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
			return parsed.Detail
		}
	}

	return fasthttp.StatusMessage(statusCode)
}

func (e *Engine) updateQueueDepth() {
	count, err := e.queue.Count()
	if err != nil {
		return
	}

	gauge := e.metrics.Gauge("offline_queue_depth", nil)
	gauge.Set(float64(count))
}

func (e *Engine) recordOperation(operation, result string) {
	counter := e.metrics.Counter("engine_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	counter.Inc()
}

func (e *Engine) recordRetry() {
	counter := e.metrics.Counter("engine_retries_total", nil)
	counter.Inc()
}

func (e *Engine) recordRefresh(result string) {
	counter := e.metrics.Counter("engine_refreshes_total", map[string]string{
		"result": result,
	})
	counter.Inc()
}

func (e *Engine) recordReplay(result string) {
	counter := e.metrics.Counter("engine_replays_total", map[string]string{
		"result": result,
	})
	counter.Inc()
}

func (e *Engine) getState() EngineState {
	return e.state.Load().(EngineState)
}

func (e *Engine) setState(newState EngineState) bool {
	currentState := e.getState()
	return e.state.CompareAndSwap(currentState, newState)
}

func (e *Engine) transitionState(from, to EngineState) bool {
	return e.state.CompareAndSwap(from, to)
}

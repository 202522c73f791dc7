package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/types"
)

type RedisState int32

const (
	RedisStateStopped RedisState = iota
	RedisStateStarting
	RedisStateRunning
	RedisStateStopping
)

const redisScanBatch = 100

// RedisStore keeps cached payloads in redis under a configurable key
// prefix. Expiry rides on redis TTLs, so Sweep has nothing to do here.
type RedisStore struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	config *types.CacheConfig
	client *redis.Client
	prefix string
	state  atomic.Value
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheStore, error) {
	redisConfig := config.Redis
	if redisConfig == nil {
		redisConfig = &types.RedisConfig{Addr: "localhost:6379", Prefix: "hivesync:"}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &RedisStore{
		ctx:    storeCtx,
		cancel: cancel,
		logger: logger,
		config: config,
		prefix: redisConfig.Prefix,
		client: redis.NewClient(&redis.Options{
			Addr:     redisConfig.Addr,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		}),
	}

	store.state.Store(RedisStateStopped)

	return store, nil
}

func (r *RedisStore) Start() error {
	if !r.transitionState(RedisStateStopped, RedisStateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if r.getState() == RedisStateStarting {
			r.setState(RedisStateRunning)
		}
	}()

	pingCtx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		r.setState(RedisStateStopped)
		return types.WrapError(err, "failed to connect to redis")
	}

	r.logger.Info("Redis cache store started", zap.String("prefix", r.prefix))
	return nil
}

func (r *RedisStore) Stop() error {
	if !r.transitionState(RedisStateRunning, RedisStateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		r.setState(RedisStateStopped)
		r.cancel()
	}()

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis cache store stopped gracefully")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return r.getState() == RedisStateRunning
}

func (r *RedisStore) Get(fingerprint string) ([]byte, bool, error) {
	if fingerprint == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	result, err := r.client.Get(r.ctx, r.buildFullKey(fingerprint)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		r.logger.Error("Failed to get cache entry", zap.String("key", fingerprint), zap.Error(err))
		return nil, false, types.Errorf(types.ErrCache, "get failed: %v", err)
	}

	return result, true, nil
}

func (r *RedisStore) Set(fingerprint string, payload []byte, ttl time.Duration) error {
	if fingerprint == "" {
		return types.ErrCacheKeyEmpty
	}

	ttl = clampTTL(ttl, r.config)

	err := r.client.Set(r.ctx, r.buildFullKey(fingerprint), payload, ttl).Err()
	if err != nil {
		r.logger.Error("Failed to set cache entry", zap.String("key", fingerprint), zap.Error(err))
		return types.Errorf(types.ErrCache, "set failed: %v", err)
	}

	return nil
}

func (r *RedisStore) Invalidate(fingerprint string) error {
	if fingerprint == "" {
		return types.ErrCacheKeyEmpty
	}

	err := r.client.Del(r.ctx, r.buildFullKey(fingerprint)).Err()
	if err != nil {
		r.logger.Error("Failed to delete cache key", zap.String("key", fingerprint), zap.Error(err))
		return types.Errorf(types.ErrCache, "invalidate failed: %v", err)
	}

	return nil
}

func (r *RedisStore) InvalidateMatching(pattern string) (int, error) {
	if pattern == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	return r.deleteByMatch(r.prefix + "*" + pattern + "*")
}

func (r *RedisStore) Clear() error {
	_, err := r.deleteByMatch(r.prefix + "*")
	return err
}

func (r *RedisStore) deleteByMatch(match string) (int, error) {
	removed := 0

	iter := r.client.Scan(r.ctx, 0, match, redisScanBatch).Iterator()
	for iter.Next(r.ctx) {
		if err := r.client.Del(r.ctx, iter.Val()).Err(); err != nil {
			r.logger.Error("Failed to delete matched cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, types.Errorf(types.ErrCache, "scan failed: %v", err)
	}

	return removed, nil
}

func (r *RedisStore) Size() (int, error) {
	count := 0

	iter := r.client.Scan(r.ctx, 0, r.prefix+"*", redisScanBatch).Iterator()
	for iter.Next(r.ctx) {
		count++
	}

	if err := iter.Err(); err != nil {
		return 0, types.Errorf(types.ErrCache, "scan failed: %v", err)
	}

	return count, nil
}

// Sweep is a no-op: redis evicts expired keys on its own.
func (r *RedisStore) Sweep() (int, error) {
	return 0, nil
}

func (r *RedisStore) buildFullKey(key string) string {
	var builder strings.Builder
	builder.Grow(len(r.prefix) + len(key))
	builder.WriteString(r.prefix)
	builder.WriteString(key)
	return builder.String()
}

func (r *RedisStore) getState() RedisState {
	return r.state.Load().(RedisState)
}

func (r *RedisStore) setState(newState RedisState) bool {
	currentState := r.getState()
	return r.state.CompareAndSwap(currentState, newState)
}

func (r *RedisStore) transitionState(from, to RedisState) bool {
	return r.state.CompareAndSwap(from, to)
}

package cache

import (
	"context"
	"time"

	"github.com/hivedb-io/hivesync/types"
)

var customStoreCreators = make(map[string]types.CacheStoreCreator)

// RegisterCacheStore makes a custom backend available under the given name.
func RegisterCacheStore(backendName string, creator types.CacheStoreCreator) {
	customStoreCreators[backendName] = creator
}

func NewCacheStore(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CacheStore, error) {
	cacheConfig := config.GetConfig().Cache

	if !cacheConfig.Enabled {
		return NewNoopStore(), nil
	}

	backendName := cacheConfig.Backend

	var impl types.CacheStore
	var err error

	switch backendName {
	case "sqlite":
		impl, err = NewSQLiteStore(ctx, logger, cacheConfig)
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, cacheConfig)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, cacheConfig)
	default:
		if creator, exists := customStoreCreators[backendName]; exists {
			impl, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "backend: %s", backendName)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedCacheStore(logger, metrics, impl), nil
}

type instrumentedCacheStore struct {
	impl    types.CacheStore
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedCacheStore(logger types.Logger, metrics types.MetricsManager, impl types.CacheStore) types.CacheStore {
	instrumented := &instrumentedCacheStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}

	return instrumented
}

func (ics *instrumentedCacheStore) Get(fingerprint string) ([]byte, bool, error) {
	start := time.Now()
	payload, exists, err := ics.impl.Get(fingerprint)
	duration := time.Since(start)

	result := "miss"
	if exists {
		result = "hit"
	}
	if err != nil {
		result = "error"
	}

	ics.recordMetric("get", result, duration)
	return payload, exists, err
}

func (ics *instrumentedCacheStore) Set(fingerprint string, payload []byte, ttl time.Duration) error {
	start := time.Now()
	err := ics.impl.Set(fingerprint, payload, ttl)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("set", result, duration)
	return err
}

func (ics *instrumentedCacheStore) Invalidate(fingerprint string) error {
	start := time.Now()
	err := ics.impl.Invalidate(fingerprint)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("invalidate", result, duration)
	return err
}

func (ics *instrumentedCacheStore) InvalidateMatching(pattern string) (int, error) {
	start := time.Now()
	removed, err := ics.impl.InvalidateMatching(pattern)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("invalidate_matching", result, duration)
	return removed, err
}

func (ics *instrumentedCacheStore) Clear() error {
	start := time.Now()
	err := ics.impl.Clear()
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("clear", result, duration)
	return err
}

func (ics *instrumentedCacheStore) Size() (int, error) {
	return ics.impl.Size()
}

func (ics *instrumentedCacheStore) Sweep() (int, error) {
	start := time.Now()
	removed, err := ics.impl.Sweep()
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("sweep", result, duration)
	return removed, err
}

func (ics *instrumentedCacheStore) Start() error {
	start := time.Now()
	err := ics.impl.Start()
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("start", result, duration)
	return err
}

func (ics *instrumentedCacheStore) Stop() error {
	return ics.impl.Stop()
}

func (ics *instrumentedCacheStore) IsRunning() bool {
	return ics.impl.IsRunning()
}

func (ics *instrumentedCacheStore) recordMetric(operation, result string, duration time.Duration) {
	opCounter := ics.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := ics.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/types"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

type memoryEntry struct {
	payload   []byte
	expiresAt int64
}

// MemoryStore is a volatile backend for callers that want caching without
// a data directory. Contents are lost on restart.
type MemoryStore struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	config *types.CacheConfig
	data   map[string]*memoryEntry
	mu     sync.RWMutex
	state  atomic.Value
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheStore, error) {
	storeCtx, cancel := context.WithCancel(ctx)

	store := &MemoryStore{
		ctx:    storeCtx,
		cancel: cancel,
		logger: logger,
		config: config,
		data:   make(map[string]*memoryEntry),
	}

	store.state.Store(MemoryStateStopped)

	return store, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	m.logger.Info("Memory cache store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
		m.cancel()
	}()

	m.mu.Lock()
	m.data = make(map[string]*memoryEntry)
	m.mu.Unlock()

	m.logger.Info("Memory cache store stopped")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryStore) Get(fingerprint string) ([]byte, bool, error) {
	if fingerprint == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	m.mu.RLock()
	entry, exists := m.data[fingerprint]
	m.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if entry.expiresAt <= nowMillis() {
		m.mu.Lock()
		if current, ok := m.data[fingerprint]; ok && current.expiresAt <= nowMillis() {
			delete(m.data, fingerprint)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	return entry.payload, true, nil
}

func (m *MemoryStore) Set(fingerprint string, payload []byte, ttl time.Duration) error {
	if fingerprint == "" {
		return types.ErrCacheKeyEmpty
	}

	ttl = clampTTL(ttl, m.config)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[fingerprint] = &memoryEntry{
		payload:   payload,
		expiresAt: time.Now().Add(ttl).UnixMilli(),
	}

	if m.config.Capacity > 0 && len(m.data) > m.config.Capacity {
		m.evictUnsafe(len(m.data) - m.config.Capacity)
	}

	return nil
}

// evictUnsafe removes the n entries closest to expiry; callers hold the
// write lock.
func (m *MemoryStore) evictUnsafe(n int) {
	for ; n > 0; n-- {
		victim := ""
		var earliest int64
		for key, entry := range m.data {
			if victim == "" || entry.expiresAt < earliest {
				victim = key
				earliest = entry.expiresAt
			}
		}
		if victim == "" {
			return
		}
		delete(m.data, victim)
	}
}

func (m *MemoryStore) Invalidate(fingerprint string) error {
	if fingerprint == "" {
		return types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	delete(m.data, fingerprint)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) InvalidateMatching(pattern string) (int, error) {
	if pattern == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.data {
		if strings.Contains(key, pattern) {
			delete(m.data, key)
			removed++
		}
	}

	return removed, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.data = make(map[string]*memoryEntry)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Size() (int, error) {
	now := nowMillis()

	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, entry := range m.data {
		if entry.expiresAt > now {
			count++
		}
	}

	return count, nil
}

func (m *MemoryStore) Sweep() (int, error) {
	now := nowMillis()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.data {
		if entry.expiresAt <= now {
			delete(m.data, key)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("Swept expired cache entries", zap.Int("removed", removed))
	}

	return removed, nil
}

func (m *MemoryStore) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryStore) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

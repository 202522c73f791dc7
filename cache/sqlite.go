package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hivedb-io/hivesync/types"
)

type SQLiteState int32

const (
	SQLiteStateStopped SQLiteState = iota
	SQLiteStateStarting
	SQLiteStateRunning
	SQLiteStateStopping
)

const cacheFileName = "cache.db"

// SQLiteStore keeps response payloads in a local SQLite file so cached
// reads survive process restarts. Expiry is a millisecond epoch column;
// entries past it are treated as absent and physically removed lazily on
// Get or in bulk by Sweep.
type SQLiteStore struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.CacheConfig
	db              *sql.DB
	path            string
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheStore, error) {
	storeCtx, cancel := context.WithCancel(ctx)

	dir := config.Dir
	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create cache directory")
	}

	path := filepath.Join(dir, cacheFileName)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to open cache database")
	}

	store := &SQLiteStore{
		ctx:             storeCtx,
		cancel:          cancel,
		logger:          logger,
		config:          config,
		db:              db,
		path:            path,
		shutdownTimeout: 10 * time.Second,
	}

	store.state.Store(SQLiteStateStopped)

	if err := store.initDatabase(); err != nil {
		cancel()
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Failed to close cache database during cleanup", zap.Error(closeErr))
		}
		return nil, types.WrapError(err, "failed to initialize cache database")
	}

	return store, nil
}

func (s *SQLiteStore) initDatabase() error {
	query := `
	CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value TEXT,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);
	`

	_, err := s.db.Exec(query)
	if err != nil {
		return types.WrapError(err, "failed to create cache table")
	}

	return nil
}

func (s *SQLiteStore) Start() error {
	if !s.transitionState(SQLiteStateStopped, SQLiteStateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if s.getState() == SQLiteStateStarting {
			s.setState(SQLiteStateRunning)
		}
	}()

	if err := s.db.Ping(); err != nil {
		s.setState(SQLiteStateStopped)
		return types.WrapError(err, "failed to ping cache database")
	}

	s.logger.Info("SQLite cache store started", zap.String("path", s.path))
	return nil
}

func (s *SQLiteStore) Stop() error {
	if !s.transitionState(SQLiteStateRunning, SQLiteStateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		s.setState(SQLiteStateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				s.logger.Error("Failed to close cache database", zap.Error(err))
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			s.logger.Warn("Cache store stop timeout")
		default:
			s.logger.Error("Error during cache store shutdown", zap.Error(err))
		}
	} else {
		s.logger.Info("SQLite cache store stopped gracefully")
	}

	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return s.getState() == SQLiteStateRunning
}

func (s *SQLiteStore) Get(fingerprint string) ([]byte, bool, error) {
	if fingerprint == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	var value string
	var expiresAt int64

	err := s.db.QueryRow("SELECT value, expires_at FROM cache WHERE key = ?", fingerprint).Scan(&value, &expiresAt)
	if err != nil {
		if types.IsError(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, types.Errorf(types.ErrCache, "get failed: %v", err)
	}

	if expiresAt <= nowMillis() {
		if _, err := s.db.Exec("DELETE FROM cache WHERE key = ?", fingerprint); err != nil {
			s.logger.Error("Failed to remove expired cache entry", zap.String("key", fingerprint), zap.Error(err))
		}
		return nil, false, nil
	}

	return []byte(value), true, nil
}

func (s *SQLiteStore) Set(fingerprint string, payload []byte, ttl time.Duration) error {
	if fingerprint == "" {
		return types.ErrCacheKeyEmpty
	}

	ttl = clampTTL(ttl, s.config)
	expiresAt := time.Now().Add(ttl).UnixMilli()

	_, err := s.db.Exec("INSERT OR REPLACE INTO cache (key, value, expires_at) VALUES (?, ?, ?)",
		fingerprint, string(payload), expiresAt)
	if err != nil {
		return types.Errorf(types.ErrCache, "set failed: %v", err)
	}

	if s.config.Capacity > 0 {
		if err := s.enforceCapacity(); err != nil {
			s.logger.Warn("Failed to enforce cache capacity", zap.Error(err))
		}
	}

	return nil
}

// enforceCapacity drops the entries closest to expiry until the row count
// fits the configured capacity again.
func (s *SQLiteStore) enforceCapacity() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count); err != nil {
		return types.WrapError(err, "failed to count cache entries")
	}

	overflow := count - s.config.Capacity
	if overflow <= 0 {
		return nil
	}

	_, err := s.db.Exec(
		"DELETE FROM cache WHERE key IN (SELECT key FROM cache ORDER BY expires_at ASC LIMIT ?)",
		overflow)
	if err != nil {
		return types.WrapError(err, "failed to evict cache entries")
	}

	s.logger.Debug("Evicted cache entries over capacity", zap.Int("evicted", overflow))
	return nil
}

func (s *SQLiteStore) Invalidate(fingerprint string) error {
	if fingerprint == "" {
		return types.ErrCacheKeyEmpty
	}

	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", fingerprint)
	if err != nil {
		return types.Errorf(types.ErrCache, "invalidate failed: %v", err)
	}

	return nil
}

func (s *SQLiteStore) InvalidateMatching(pattern string) (int, error) {
	if pattern == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	result, err := s.db.Exec("DELETE FROM cache WHERE instr(key, ?) > 0", pattern)
	if err != nil {
		return 0, types.Errorf(types.ErrCache, "invalidate matching failed: %v", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, types.WrapError(err, "failed to read affected rows")
	}

	return int(removed), nil
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM cache")
	if err != nil {
		return types.Errorf(types.ErrCache, "clear failed: %v", err)
	}

	return nil
}

func (s *SQLiteStore) Size() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM cache WHERE expires_at > ?", nowMillis()).Scan(&count)
	if err != nil {
		return 0, types.Errorf(types.ErrCache, "size failed: %v", err)
	}

	return count, nil
}

func (s *SQLiteStore) Sweep() (int, error) {
	result, err := s.db.Exec("DELETE FROM cache WHERE expires_at <= ?", nowMillis())
	if err != nil {
		return 0, types.Errorf(types.ErrCache, "sweep failed: %v", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, types.WrapError(err, "failed to read affected rows")
	}

	if removed > 0 {
		s.logger.Debug("Swept expired cache entries", zap.Int64("removed", removed))
	}

	return int(removed), nil
}

func (s *SQLiteStore) getState() SQLiteState {
	return s.state.Load().(SQLiteState)
}

func (s *SQLiteStore) setState(newState SQLiteState) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SQLiteStore) transitionState(from, to SQLiteState) bool {
	return s.state.CompareAndSwap(from, to)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func clampTTL(ttl time.Duration, config *types.CacheConfig) time.Duration {
	if ttl <= 0 {
		ttl = config.DefaultTTL
	}
	if config.MaxTTL > 0 && ttl > config.MaxTTL {
		ttl = config.MaxTTL
	}
	return ttl
}

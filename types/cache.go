package types

import (
	"time"
)

// CacheStore is a persistent TTL-keyed map from request fingerprint to a
// previously observed response payload. An entry past its expiry is
// logically absent and is never returned.
type CacheStore interface {
	LifecycleManager
	Get(fingerprint string) ([]byte, bool, error)
	Set(fingerprint string, payload []byte, ttl time.Duration) error
	Invalidate(fingerprint string) error
	InvalidateMatching(pattern string) (int, error)
	Clear() error
	Size() (int, error)
	Sweep() (int, error)
}

type CacheStoreCreator func(config *CacheConfig) (CacheStore, error)

type CacheEntry struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

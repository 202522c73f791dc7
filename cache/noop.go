package cache

import (
	"time"

	"github.com/hivedb-io/hivesync/types"
)

// NoopStore stands in when caching is disabled: every lookup misses and
// every mutation succeeds without storing anything.
type NoopStore struct{}

func NewNoopStore() types.CacheStore {
	return &NoopStore{}
}

func (n *NoopStore) Start() error    { return nil }
func (n *NoopStore) Stop() error     { return nil }
func (n *NoopStore) IsRunning() bool { return true }

func (n *NoopStore) Get(fingerprint string) ([]byte, bool, error) {
	return nil, false, nil
}

func (n *NoopStore) Set(fingerprint string, payload []byte, ttl time.Duration) error {
	return nil
}

func (n *NoopStore) Invalidate(fingerprint string) error {
	return nil
}

func (n *NoopStore) InvalidateMatching(pattern string) (int, error) {
	return 0, nil
}

func (n *NoopStore) Clear() error {
	return nil
}

func (n *NoopStore) Size() (int, error) {
	return 0, nil
}

func (n *NoopStore) Sweep() (int, error) {
	return 0, nil
}

package hivesync

import (
	"github.com/hivedb-io/hivesync/types"
)

// Option overrides a component before the engine is wired. Useful for
// embedders that bring their own connectivity signal or transport, and
// for tests.
type Option func(*Client) error

func WithProbe(p types.ConnectivityProbe) Option {
	return func(c *Client) error {
		if p == nil {
			return types.NewErrorf("probe must not be nil")
		}
		c.probe = p
		return nil
	}
}

func WithTransport(t types.Transport) Option {
	return func(c *Client) error {
		if t == nil {
			return types.NewErrorf("transport must not be nil")
		}
		c.transport = t
		return nil
	}
}

func WithCacheStore(store types.CacheStore) Option {
	return func(c *Client) error {
		if store == nil {
			return types.NewErrorf("cache store must not be nil")
		}
		c.cache = store
		return nil
	}
}

func WithOfflineQueue(q types.OfflineQueue) Option {
	return func(c *Client) error {
		if q == nil {
			return types.NewErrorf("offline queue must not be nil")
		}
		c.queue = q
		return nil
	}
}

func WithSessionManager(sm types.SessionManager) Option {
	return func(c *Client) error {
		if sm == nil {
			return types.NewErrorf("session manager must not be nil")
		}
		c.session = sm
		return nil
	}
}

package types

import (
	"context"
	"time"
)

// SyncEngine composes the cache store, offline queue, session manager,
// connectivity probe and transport into the read/write/replay paths.
type SyncEngine interface {
	LifecycleManager
	Read(ctx context.Context, method, path string, body interface{}, opts *ReadOptions) (*Result, error)
	Write(ctx context.Context, method, path string, body interface{}, opts *WriteOptions) (*Result, error)
	Execute(ctx context.Context, method, path string, body interface{}, opts *CallOptions) (*Result, error)
	Synchronize(ctx context.Context) ([]SyncResult, error)
}

// ReadOptions shapes the read path. UseCache opts the response into the
// cache store with TTL (zero means the configured default). Timeout zero
// falls back to the configured per-call default.
type ReadOptions struct {
	UseCache bool
	TTL      time.Duration
	Timeout  time.Duration
}

type WriteOptions struct {
	Timeout time.Duration
}

package types

import (
	"context"
	"time"
)

// Transport issues a single HTTP-shaped call against the configured base
// URL. It performs no retries and no response classification; the engine
// owns that control loop.
type Transport interface {
	Call(ctx context.Context, method, path string, data interface{}, opts *CallOptions) ([]byte, int, error)
}

type CallOptions struct {
	Timeout     time.Duration
	BearerToken string
	Headers     map[string]string
}

package types

import "context"

// ConnectivityProbe reports current reachability of the remote service.
type ConnectivityProbe interface {
	Reachable(ctx context.Context) bool
}

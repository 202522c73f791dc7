package probe

import (
	"context"
	"sync/atomic"
)

// ManualProbe lets embedders and tests dictate connectivity instead of
// dialing anything.
type ManualProbe struct {
	reachable atomic.Bool
}

func NewManualProbe(reachable bool) *ManualProbe {
	p := &ManualProbe{}
	p.reachable.Store(reachable)
	return p
}

func (p *ManualProbe) SetReachable(reachable bool) {
	p.reachable.Store(reachable)
}

func (p *ManualProbe) Reachable(_ context.Context) bool {
	return p.reachable.Load()
}

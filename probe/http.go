package probe

import (
	"context"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/types"
)

// HTTPProbe answers the single question "can the server be reached right
// now" with a cheap GET against the configured probe path. A streak of
// consecutive failures opens a hold-off window during which the probe
// reports unreachable without dialing at all; the window closes after the
// recovery timeout or on the next successful dial.
type HTTPProbe struct {
	logger           types.Logger
	client           *fasthttp.Client
	url              string
	timeout          time.Duration
	failureThreshold int
	recoveryTimeout  time.Duration
	failures         int
	holdOffUntil     time.Time
	mu               sync.Mutex
}

func NewHTTPProbe(logger types.Logger, connection *types.ConnectionConfig, offline *types.OfflineConfig) *HTTPProbe {
	probePath := offline.ProbePath
	if probePath == "" {
		probePath = "/"
	}

	return &HTTPProbe{
		logger: logger,
		client: &fasthttp.Client{
			ReadTimeout:  offline.ProbeTimeout,
			WriteTimeout: offline.ProbeTimeout,
		},
		url:              connection.BaseURL + probePath,
		timeout:          offline.ProbeTimeout,
		failureThreshold: offline.ProbeFailureThreshold,
		recoveryTimeout:  offline.ProbeRecoveryTimeout,
	}
}

func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	p.mu.Lock()
	if !p.holdOffUntil.IsZero() && time.Now().Before(p.holdOffUntil) {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	ok := p.dial(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ok {
		p.failures = 0
		p.holdOffUntil = time.Time{}
		return true
	}

	p.failures++
	if p.failureThreshold > 0 && p.failures >= p.failureThreshold {
		p.holdOffUntil = time.Now().Add(p.recoveryTimeout)
		p.logger.Debug("Probe hold-off window opened",
			zap.Int("failures", p.failures),
			zap.Duration("recovery_timeout", p.recoveryTimeout))
	}

	return false
}

func (p *HTTPProbe) dial(ctx context.Context) bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(p.url)
	req.Header.SetMethod(fasthttp.MethodGet)

	// The goroutine owns req and resp. When the context fires first the
	// dial is abandoned while DoTimeout may still be writing into resp,
	// so the pooled objects are released in the goroutine, never here.
	done := make(chan bool, 1)
	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		err := p.client.DoTimeout(req, resp, p.timeout)
		done <- err == nil
	}()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

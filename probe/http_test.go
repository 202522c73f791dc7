package probe_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/logger"
	"github.com/hivedb-io/hivesync/probe"
	"github.com/hivedb-io/hivesync/types"
)

func newHTTPProbe(baseURL string, threshold int, recovery time.Duration) *probe.HTTPProbe {
	return probe.NewHTTPProbe(
		logger.NewZapWrapper(zap.NewNop()),
		&types.ConnectionConfig{BaseURL: baseURL},
		&types.OfflineConfig{
			ProbePath:             "/",
			ProbeTimeout:          200 * time.Millisecond,
			ProbeFailureThreshold: threshold,
			ProbeRecoveryTimeout:  recovery,
		},
	)
}

func TestReachableWhenServerAnswers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"HiveDB"}`))
	}))
	defer server.Close()

	p := newHTTPProbe(server.URL, 3, time.Second)

	if !p.Reachable(context.Background()) {
		t.Fatal("expected reachable")
	}
}

func TestUnreachableWhenServerIsDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	p := newHTTPProbe(deadURL, 3, time.Second)

	if p.Reachable(context.Background()) {
		t.Fatal("expected unreachable")
	}
}

func TestFailureStreakOpensHoldOffWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.Listener.Addr().String()
	deadURL := server.URL
	server.Close()

	p := newHTTPProbe(deadURL, 2, 400*time.Millisecond)

	ctx := context.Background()

	if p.Reachable(ctx) {
		t.Fatal("first dial must fail")
	}
	if p.Reachable(ctx) {
		t.Fatal("second dial must fail and open the window")
	}

	// Bring the service back on the same address; during the hold-off
	// window the probe must not even notice.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("failed to rebind %s: %v", addr, err)
	}

	var hits int32
	revived := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})}
	go revived.Serve(listener)
	defer revived.Close()

	if p.Reachable(ctx) {
		t.Fatal("probe must report unreachable inside the hold-off window")
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("probe dialed inside the hold-off window")
	}

	time.Sleep(500 * time.Millisecond)

	if !p.Reachable(ctx) {
		t.Fatal("probe must dial again once the window expires")
	}
	if atomic.LoadInt32(&hits) == 0 {
		t.Fatal("expected a dial after the window expired")
	}
}

func TestAbandonedDialLeavesProbeUsable(t *testing.T) {
	release := make(chan struct{})
	var stalled int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&stalled, 1) == 1 {
			<-release
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()
	defer close(release)

	p := newHTTPProbe(server.URL, 0, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if p.Reachable(ctx) {
		t.Fatal("expected unreachable when the dial is abandoned")
	}

	// The first dial is still blocked inside its goroutine. Later dials
	// must not observe its request or response state.
	for i := 0; i < 20; i++ {
		if !p.Reachable(context.Background()) {
			t.Fatalf("dial %d after abandonment failed", i)
		}
	}
}

func TestManualProbe(t *testing.T) {
	p := probe.NewManualProbe(false)

	if p.Reachable(context.Background()) {
		t.Fatal("expected unreachable")
	}

	p.SetReachable(true)

	if !p.Reachable(context.Background()) {
		t.Fatal("expected reachable after SetReachable(true)")
	}
}

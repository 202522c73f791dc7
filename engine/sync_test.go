package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hivedb-io/hivesync/engine"
	"github.com/hivedb-io/hivesync/types"
	"github.com/hivedb-io/hivesync/utils"
)

func TestSynchronizeReplaysQueueInOrder(t *testing.T) {
	f := newFixture(t, nil)

	payload, _ := utils.Marshal(map[string]string{"key": "k1", "value": "v1"})
	firstID, err := f.queue.Enqueue(types.MethodCreate, "/cells/c/data", payload)
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	secondID, err := f.queue.Enqueue(types.MethodDelete, "/cells/c/data/old", nil)
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	stale := engine.Fingerprint("GET", "/cells/c/keys", nil)
	if err := f.cache.Set(stale, []byte(`{"keys":["old"]}`), time.Minute); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	results, err := f.engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("synchronize failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Operation.ID != firstID || results[1].Operation.ID != secondID {
		t.Fatal("results must follow enqueue order")
	}
	for _, result := range results {
		if !result.Succeeded() {
			t.Fatalf("operation %s failed: %v", result.Operation.ID, result.Err)
		}
	}

	if got := f.transport.callsTo("POST", "/cells/c/data"); got != 1 {
		t.Fatalf("expected the CREATE replayed as POST once, saw %d", got)
	}
	if got := f.transport.callsTo("DELETE", "/cells/c/data/old"); got != 1 {
		t.Fatalf("expected the DELETE replayed once, saw %d", got)
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Fatalf("replayed operations must leave the queue, %d left", count)
	}

	if _, hit, _ := f.cache.Get(stale); hit {
		t.Fatal("replay must invalidate the touched cell scope")
	}

	// A second pass finds nothing to do and re-applies nothing.
	results, err = f.engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("second synchronize failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("second pass must be empty, got %d results", len(results))
	}
	if got := f.transport.callsTo("POST", "/cells/c/data"); got != 1 {
		t.Fatalf("the CREATE must not be re-applied, saw %d calls", got)
	}
}

func TestSynchronizeOnEmptyQueue(t *testing.T) {
	f := newFixture(t, nil)

	results, err := f.engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("synchronize failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSynchronizeContinuesPastFailures(t *testing.T) {
	f := newFixture(t, nil)

	rejected, err := f.queue.Enqueue(types.MethodCreate, "/cells/gone/data", []byte(`{"key":"k"}`))
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	accepted, err := f.queue.Enqueue(types.MethodUpdate, "/cells/c/data/k", []byte(`{"value":"v2"}`))
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	f.transport.script("POST", "/cells/gone/data", stubResponse{body: []byte(`{"detail":"Cell not found"}`), statusCode: 404})

	results, err := f.engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("synchronize itself must not fail: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatal("first result must carry the rejection")
	}
	if apiErr, ok := types.AsAPIError(results[0].Err); !ok || apiErr.StatusCode != 404 {
		t.Fatalf("expected a 404 api error, got %v", results[0].Err)
	}
	if !results[1].Succeeded() {
		t.Fatalf("second operation must still be applied, got %v", results[1].Err)
	}

	pending, err := f.queue.ListInOrder()
	if err != nil {
		t.Fatalf("failed to list queue: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != rejected {
		t.Fatalf("only the rejected operation may stay queued, got %+v", pending)
	}
	_ = accepted
}

func TestSynchronizeRequiresConnectivity(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.queue.Enqueue(types.MethodCreate, "/cells/c/data", []byte(`{}`)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	f.probe.SetReachable(false)

	_, err := f.engine.Synchronize(context.Background())
	if !types.IsError(err, types.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	count, _ := f.queue.Count()
	if count != 1 {
		t.Fatalf("queue must stay untouched while unreachable, got %d", count)
	}
}

func TestConcurrentSynchronizeAppliesEachOperationOnce(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.queue.Enqueue(types.MethodCreate, "/cells/c/data", []byte(`{"key":"k"}`)); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Synchronize(context.Background()); err != nil {
				t.Errorf("synchronize failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.transport.callsTo("POST", "/cells/c/data"); got != 1 {
		t.Fatalf("the operation must be applied exactly once, saw %d calls", got)
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Fatalf("queue must drain, %d left", count)
	}
}

// tokenGatedTransport accepts exactly one bearer token and rejects every
// other call with 401. The refresh endpoint always mints the accepted
// token, so any number of concurrent rejections should funnel into a
// single refresh exchange.
type tokenGatedTransport struct {
	accepted  string
	refreshes int32
}

func (s *tokenGatedTransport) Call(_ context.Context, _ string, path string, _ interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if path == "/auth/refresh" {
		atomic.AddInt32(&s.refreshes, 1)
		body, _ := utils.Marshal(types.AuthToken{AccessToken: s.accepted, TokenType: "bearer"})
		return body, 200, nil
	}

	if opts != nil && opts.BearerToken == s.accepted {
		return []byte(`[]`), 200, nil
	}
	return []byte(`{"detail":"Token expired"}`), 401, nil
}

func TestConcurrentUnauthorizedCallsShareOneRefresh(t *testing.T) {
	f := newFixture(t, nil)

	oldToken := signToken(t, "42", time.Hour)
	if err := f.session.Save(oldToken, "refresh-1"); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	gate := &tokenGatedTransport{accepted: signToken(t, "42", 2*time.Hour)}
	f.engine.Stop()

	e := newEngineWithTransport(t, f, gate)

	const readers = 8
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.Read(context.Background(), "GET", "/cells", nil, nil)
			if err != nil {
				t.Errorf("read failed: %v", err)
				return
			}
			if result.StatusCode != 200 {
				t.Errorf("expected 200, got %d", result.StatusCode)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&gate.refreshes); got != 1 {
		t.Fatalf("expected exactly 1 refresh exchange, saw %d", got)
	}

	current, ok := f.session.CurrentToken()
	if !ok || current != gate.accepted {
		t.Fatal("session must hold the refreshed token")
	}
}

package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/logger"
	"github.com/hivedb-io/hivesync/queue"
	"github.com/hivedb-io/hivesync/types"
)

func newQueue(t *testing.T, dir string) types.OfflineQueue {
	t.Helper()

	q, err := queue.NewSQLiteQueue(context.Background(), logger.NewZapWrapper(zap.NewNop()), dir)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	if err := q.Start(); err != nil {
		t.Fatalf("failed to start queue: %v", err)
	}

	t.Cleanup(func() {
		if q.IsRunning() {
			q.Stop()
		}
	})

	return q
}

func TestEnqueuePreservesOrder(t *testing.T) {
	q := newQueue(t, t.TempDir())

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(types.MethodCreate, fmt.Sprintf("/cells/c/data?n=%d", i), []byte(`{"key":"k"}`))
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		ids = append(ids, id)
	}

	operations, err := q.ListInOrder()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(operations) != 5 {
		t.Fatalf("expected 5 operations, got %d", len(operations))
	}

	for i, op := range operations {
		if op.ID != ids[i] {
			t.Fatalf("order broken at %d: expected %s, got %s", i, ids[i], op.ID)
		}
	}
}

func TestEnqueueWithoutPayload(t *testing.T) {
	q := newQueue(t, t.TempDir())

	id, err := q.Enqueue(types.MethodDelete, "/cells/c/data/k", nil)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	operations, err := q.ListInOrder()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(operations))
	}

	op := operations[0]
	if op.ID != id || op.Method != types.MethodDelete || op.Target != "/cells/c/data/k" {
		t.Fatalf("unexpected operation: %+v", op)
	}
	if op.Payload != nil {
		t.Fatalf("expected nil payload, got %s", op.Payload)
	}
	if op.EnqueuedAt == 0 {
		t.Fatal("expected enqueue timestamp to be set")
	}
}

func TestEnqueueRejectsUnknownMethod(t *testing.T) {
	q := newQueue(t, t.TempDir())

	if _, err := q.Enqueue(types.OpMethod("FETCH"), "/cells", nil); !types.IsError(err, types.ErrMethodUnknown) {
		t.Fatalf("expected ErrMethodUnknown, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	q := newQueue(t, t.TempDir())

	id, err := q.Enqueue(types.MethodCreate, "/cells", []byte(`{}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := q.Remove(id); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := q.Remove(id); err != nil {
		t.Fatalf("second remove must be a no-op, got %v", err)
	}

	count, err := q.Count()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0, got %d", count)
	}
}

func TestCountTracksEnqueueAndRemove(t *testing.T) {
	q := newQueue(t, t.TempDir())

	id1, _ := q.Enqueue(types.MethodCreate, "/cells/a/data", []byte(`{}`))
	q.Enqueue(types.MethodUpdate, "/cells/b/data", []byte(`{}`))

	count, _ := q.Count()
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	q.Remove(id1)

	count, _ = q.Count()
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	q := newQueue(t, dir)
	id, err := q.Enqueue(types.MethodCreate, "/cells/c/data", []byte(`{"key":"k","value":"v"}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	reopened := newQueue(t, dir)

	operations, err := reopened.ListInOrder()
	if err != nil {
		t.Fatalf("list after reopen failed: %v", err)
	}
	if len(operations) != 1 || operations[0].ID != id {
		t.Fatalf("expected the queued operation to survive reopen, got %+v", operations)
	}
	if string(operations[0].Payload) != `{"key":"k","value":"v"}` {
		t.Fatalf("payload corrupted across reopen: %s", operations[0].Payload)
	}
}

func TestConcurrentEnqueues(t *testing.T) {
	q := newQueue(t, t.TempDir())

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	idCh := make(chan string, workers*perWorker)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := q.Enqueue(types.MethodCreate, "/cells/c/data", []byte(`{}`))
				if err != nil {
					t.Errorf("enqueue failed: %v", err)
					return
				}
				idCh <- id
			}
		}()
	}
	wg.Wait()
	close(idCh)

	seen := make(map[string]bool)
	for id := range idCh {
		if seen[id] {
			t.Fatalf("duplicate id handed out: %s", id)
		}
		seen[id] = true
	}

	count, err := q.Count()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != workers*perWorker {
		t.Fatalf("expected %d operations, got %d", workers*perWorker, count)
	}
}

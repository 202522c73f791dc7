package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/cache"
	"github.com/hivedb-io/hivesync/logger"
	"github.com/hivedb-io/hivesync/types"
)

func newMemoryStore(t *testing.T, config *types.CacheConfig) types.CacheStore {
	t.Helper()

	store, err := cache.NewMemoryStore(context.Background(), logger.NewZapWrapper(zap.NewNop()), config)
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}

	if err := store.Start(); err != nil {
		t.Fatalf("failed to start memory store: %v", err)
	}

	t.Cleanup(func() {
		if store.IsRunning() {
			store.Stop()
		}
	})

	return store
}

func memoryConfig() *types.CacheConfig {
	return &types.CacheConfig{
		Enabled:    true,
		Backend:    "memory",
		DefaultTTL: time.Hour,
		MaxTTL:     24 * time.Hour,
	}
}

func TestMemorySetAndGet(t *testing.T) {
	store := newMemoryStore(t, memoryConfig())

	if err := store.Set("GET cells", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	payload, hit, err := store.Get("GET cells")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !hit || string(payload) != "payload" {
		t.Fatalf("expected hit with payload, got hit=%v payload=%s", hit, payload)
	}
}

func TestMemoryExpiry(t *testing.T) {
	store := newMemoryStore(t, memoryConfig())

	store.Set("GET cells", []byte("payload"), 40*time.Millisecond)

	if _, hit, _ := store.Get("GET cells"); !hit {
		t.Fatal("expected a hit before expiry")
	}

	time.Sleep(70 * time.Millisecond)

	if _, hit, _ := store.Get("GET cells"); hit {
		t.Fatal("expected expired entry to be absent")
	}
}

func TestMemoryInvalidateMatching(t *testing.T) {
	store := newMemoryStore(t, memoryConfig())

	store.Set("GET cells/cell1/data/k1", []byte("1"), time.Minute)
	store.Set("GET cells/cell1/keys", []byte("2"), time.Minute)
	store.Set("GET cells/cell2/data/k1", []byte("3"), time.Minute)

	removed, err := store.InvalidateMatching("cells/cell1")
	if err != nil {
		t.Fatalf("invalidate matching failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	if _, hit, _ := store.Get("GET cells/cell2/data/k1"); !hit {
		t.Fatal("unrelated entry must survive")
	}
}

func TestMemoryCapacityEviction(t *testing.T) {
	config := memoryConfig()
	config.Capacity = 2
	store := newMemoryStore(t, config)

	store.Set("a", []byte("1"), time.Hour)
	store.Set("b", []byte("2"), 2*time.Hour)
	store.Set("c", []byte("3"), 3*time.Hour)

	size, _ := store.Size()
	if size != 2 {
		t.Fatalf("expected size 2, got %d", size)
	}

	if _, hit, _ := store.Get("a"); hit {
		t.Fatal("earliest-expiring entry should have been evicted")
	}
}

func TestMemorySweep(t *testing.T) {
	store := newMemoryStore(t, memoryConfig())

	store.Set("a", []byte("1"), 30*time.Millisecond)
	store.Set("b", []byte("2"), time.Hour)

	time.Sleep(60 * time.Millisecond)

	removed, err := store.Sweep()
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 swept, got %d", removed)
	}

	size, _ := store.Size()
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	store := newMemoryStore(t, memoryConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("GET cells/cell%d", n%4)
			for j := 0; j < 50; j++ {
				store.Set(key, []byte("payload"), time.Minute)
				store.Get(key)
				if j%10 == 0 {
					store.InvalidateMatching("cells")
				}
			}
		}(i)
	}
	wg.Wait()
}

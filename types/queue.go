package types

// OfflineQueue is a durable FIFO log of pending mutations. Ordering is by
// insertion and survives process restart; ids are unique for the lifetime
// of the queue and removed exactly once.
type OfflineQueue interface {
	LifecycleManager
	Enqueue(method OpMethod, target string, payload []byte) (string, error)
	ListInOrder() ([]QueuedOperation, error)
	Remove(id string) error
	Count() (int, error)
}

package queue

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hivedb-io/hivesync/types"
)

type QueueState int32

const (
	QueueStateStopped QueueState = iota
	QueueStateStarting
	QueueStateRunning
	QueueStateStopping
)

const queueFileName = "queue.db"

// SQLiteQueue is a durable FIFO of deferred mutations. Replay order is
// enqueue order: rows are read back sorted by creation time with the
// rowid as a tiebreaker for same-millisecond inserts.
type SQLiteQueue struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	db              *sql.DB
	path            string
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewSQLiteQueue(ctx context.Context, logger types.Logger, dir string) (types.OfflineQueue, error) {
	queueCtx, cancel := context.WithCancel(ctx)

	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create queue directory")
	}

	path := filepath.Join(dir, queueFileName)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to open queue database")
	}

	q := &SQLiteQueue{
		ctx:             queueCtx,
		cancel:          cancel,
		logger:          logger,
		db:              db,
		path:            path,
		shutdownTimeout: 10 * time.Second,
	}

	q.state.Store(QueueStateStopped)

	if err := q.initDatabase(); err != nil {
		cancel()
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Failed to close queue database during cleanup", zap.Error(closeErr))
		}
		return nil, types.WrapError(err, "failed to initialize queue database")
	}

	return q, nil
}

func (q *SQLiteQueue) initDatabase() error {
	query := `
	CREATE TABLE IF NOT EXISTS offline_operations (
		id TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		target TEXT NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offline_operations_created_at ON offline_operations(created_at);
	`

	_, err := q.db.Exec(query)
	if err != nil {
		return types.WrapError(err, "failed to create offline operations table")
	}

	return nil
}

func (q *SQLiteQueue) Start() error {
	if !q.transitionState(QueueStateStopped, QueueStateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if q.getState() == QueueStateStarting {
			q.setState(QueueStateRunning)
		}
	}()

	if err := q.db.Ping(); err != nil {
		q.setState(QueueStateStopped)
		return types.WrapError(err, "failed to ping queue database")
	}

	pending, err := q.Count()
	if err != nil {
		q.setState(QueueStateStopped)
		return err
	}

	q.logger.Info("Offline queue started",
		zap.String("path", q.path),
		zap.Int("pending", pending))
	return nil
}

func (q *SQLiteQueue) Stop() error {
	if !q.transitionState(QueueStateRunning, QueueStateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		q.setState(QueueStateStopped)
		q.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if q.db != nil {
			if err := q.db.Close(); err != nil {
				q.logger.Error("Failed to close queue database", zap.Error(err))
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			q.logger.Warn("Offline queue stop timeout")
		default:
			q.logger.Error("Error during offline queue shutdown", zap.Error(err))
		}
	} else {
		q.logger.Info("Offline queue stopped gracefully")
	}

	return nil
}

func (q *SQLiteQueue) IsRunning() bool {
	return q.getState() == QueueStateRunning
}

func (q *SQLiteQueue) Enqueue(method types.OpMethod, target string, payload []byte) (string, error) {
	if _, err := method.HTTPVerb(); err != nil {
		return "", err
	}

	id := uuid.New().String()

	var body interface{}
	if payload != nil {
		body = string(payload)
	}

	_, err := q.db.Exec(
		"INSERT INTO offline_operations (id, method, target, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		id, string(method), target, body, time.Now().UnixMilli())
	if err != nil {
		return "", types.Errorf(types.ErrQueue, "enqueue failed: %v", err)
	}

	q.logger.Debug("Queued offline operation",
		zap.String("id", id),
		zap.String("method", string(method)),
		zap.String("target", target))

	return id, nil
}

func (q *SQLiteQueue) ListInOrder() ([]types.QueuedOperation, error) {
	rows, err := q.db.Query(
		"SELECT id, method, target, payload, created_at FROM offline_operations ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, types.Errorf(types.ErrQueue, "list failed: %v", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			q.logger.Error("Failed to close queue rows", zap.Error(closeErr))
		}
	}()

	var operations []types.QueuedOperation
	for rows.Next() {
		var op types.QueuedOperation
		var method string
		var payload sql.NullString
		var createdAt int64

		if err := rows.Scan(&op.ID, &method, &op.Target, &payload, &createdAt); err != nil {
			return nil, types.Errorf(types.ErrQueue, "scan failed: %v", err)
		}

		op.Method = types.OpMethod(method)
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		op.EnqueuedAt = createdAt

		operations = append(operations, op)
	}

	if err := rows.Err(); err != nil {
		return nil, types.Errorf(types.ErrQueue, "list failed: %v", err)
	}

	return operations, nil
}

// Remove is idempotent: deleting an id that is already gone is not an
// error.
func (q *SQLiteQueue) Remove(id string) error {
	if id == "" {
		return types.ErrQueueIDEmpty
	}

	_, err := q.db.Exec("DELETE FROM offline_operations WHERE id = ?", id)
	if err != nil {
		return types.Errorf(types.ErrQueue, "remove failed: %v", err)
	}

	return nil
}

func (q *SQLiteQueue) Count() (int, error) {
	var count int
	err := q.db.QueryRow("SELECT COUNT(*) FROM offline_operations").Scan(&count)
	if err != nil {
		return 0, types.Errorf(types.ErrQueue, "count failed: %v", err)
	}

	return count, nil
}

func (q *SQLiteQueue) getState() QueueState {
	return q.state.Load().(QueueState)
}

func (q *SQLiteQueue) setState(newState QueueState) bool {
	currentState := q.getState()
	return q.state.CompareAndSwap(currentState, newState)
}

func (q *SQLiteQueue) transitionState(from, to QueueState) bool {
	return q.state.CompareAndSwap(from, to)
}

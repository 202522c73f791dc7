package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager runs the engine's maintenance jobs (cache sweep, auto-sync
// tick) on cron expressions with seconds resolution. Panicking jobs are
// recovered and logged rather than taking the process down.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	jobs            map[string]cron.EntryID
	state           atomic.Value
	mu              sync.RWMutex
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager) *Manager {
	cronL := safeCronLogger{logger: logger}

	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronL)),
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		cron:            cron.New(cronOptions...),
		jobs:            make(map[string]cron.EntryID),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      10 * time.Minute,
	}

	manager.state.Store(StateStopped)

	return manager
}

func (m *Manager) Add(name, expr string, job func()) error {
	if name == "" {
		return types.ErrSchedulerJobNameEmpty
	}

	if expr == "" {
		return types.ErrSchedulerExprInvalid
	}

	if job == nil {
		return types.ErrSchedulerJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[name]; exists {
		return types.Errorf(types.ErrSchedulerJobExists, "job: %s", name)
	}

	entryID, err := m.cron.AddFunc(expr, m.wrapJob(name, job))
	if err != nil {
		return types.Errorf(types.ErrSchedulerExprInvalid, "job %s: %v", name, err)
	}

	m.jobs[name] = entryID

	m.logger.Debug("Scheduled job added",
		zap.String("job", name),
		zap.String("expr", expr))

	return nil
}

func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryID, exists := m.jobs[name]
	if !exists {
		return
	}

	m.cron.Remove(entryID)
	delete(m.jobs, name)

	m.logger.Debug("Scheduled job removed", zap.String("job", name))
}

func (m *Manager) Jobs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrSchedulerIsRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.cron.Start()

	m.logger.Info("Scheduler started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	stopCtx := m.cron.Stop()

	select {
	case <-stopCtx.Done():
		m.logger.Info("Scheduler stopped gracefully")
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Scheduler stop timeout, some jobs may still be running")
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// wrapJob bounds each run with a timeout and records duration metrics.
func (m *Manager) wrapJob(name string, job func()) func() {
	return func() {
		start := time.Now()

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		panicked := make(chan interface{}, 1)
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					panicked <- r
				}
			}()
			job()
		}()

		result := "success"

		select {
		case <-done:
			select {
			case r := <-panicked:
				result = "panic"
				m.logger.Error("Scheduled job panicked",
					zap.String("job", name),
					zap.Any("panic", r))
			default:
			}
		case <-jobCtx.Done():
			result = "timeout"
			m.logger.Warn("Scheduled job timed out",
				zap.String("job", name),
				zap.Duration("timeout", m.jobTimeout))
		}

		duration := time.Since(start)

		counter := m.metrics.Counter("scheduler_job_executions_total", map[string]string{
			"job":    name,
			"result": result,
		})
		counter.Inc()

		histogram := m.metrics.Histogram("scheduler_job_duration_seconds",
			[]float64{0.001, 0.01, 0.1, 1.0, 10.0},
			map[string]string{"job": name},
		)
		histogram.Observe(duration.Seconds())

		m.logger.Debug("Scheduled job finished",
			zap.String("job", name),
			zap.String("result", result),
			zap.Duration("duration", duration))
	}
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// Package integration implements the cron-driven integration scheduler of
// §4.6: manifest bootstrap, per-task cron registration, single-flight run
// tracking, and the Monitor each task function reports through.
//
// Grounded on the teacher's internal/controlplane/jobs/scheduler.go: a
// robfig/cron parser drives due-checks, a LifecycleObserver interface
// reports run transitions, and a zap logger records failures — adapted
// here from k8s-target dispatch to Hive's manifest/task model.
package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// Settings is the `{string → json}` map loaded for a task invocation
// (§4.6 step 2).
type Settings map[string]any

// Monitor accumulates {error|warning|info} entries for one task run and
// exposes a Succeeded toggle, committed with the run record (§4.6 step 3).
// Matches the teacher's bounded-accumulator pattern from jobs/scheduler.go,
// generalized from lifecycle events to log entries.
type Monitor struct {
	mu        sync.Mutex
	logs      []store.IntegrationTaskLog
	succeeded bool
	maxLogs   int
}

// NewMonitor constructs a Monitor that starts optimistic (succeeded=true)
// and accumulates at most maxLogs entries (0 means unbounded).
func NewMonitor(maxLogs int) *Monitor {
	return &Monitor{succeeded: true, maxLogs: maxLogs}
}

func (m *Monitor) record(kind store.LogKind, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxLogs > 0 && len(m.logs) >= m.maxLogs {
		return
	}
	m.logs = append(m.logs, store.IntegrationTaskLog{
		Kind: kind, Stamp: time.Now().UTC(), Message: fmt.Sprintf(format, args...),
	})
	if kind == store.LogError {
		m.succeeded = false
	}
}

func (m *Monitor) Info(format string, args ...any)    { m.record(store.LogInfo, format, args...) }
func (m *Monitor) Warning(format string, args ...any) { m.record(store.LogWarning, format, args...) }
func (m *Monitor) Error(format string, args ...any)   { m.record(store.LogError, format, args...) }

// Succeeded reports the monitor's current success toggle.
func (m *Monitor) Succeeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.succeeded
}

// Logs returns a snapshot of the accumulated log entries.
func (m *Monitor) Logs() []store.IntegrationTaskLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.IntegrationTaskLog, len(m.logs))
	copy(out, m.logs)
	return out
}

// TaskFunc is one task's body: fn(monitor, settings, store) per §4.6 step 3.
type TaskFunc func(ctx context.Context, mon *Monitor, settings Settings, st *store.Store) error

// Task is one cron-scheduled job declared by an integration manifest.
type Task struct {
	ID             string
	CronExpression string
	Fn             TaskFunc
}

// Manifest describes one integration: its System/Tag bootstrap and its
// cron-scheduled tasks (§4.6 step 1–3).
type Manifest struct {
	ID          string
	Description string
	Settings    []string
	Tags        []store.TagDef
	Tasks       []Task
}

// LifecycleObserver reports run transitions. The default, noopObserver,
// discards everything; callers wire in audit/metrics subscribers.
type LifecycleObserver interface {
	OnQueued(integrationID, taskID, runID string)
	OnSkipped(integrationID, taskID string)
	OnSucceeded(integrationID, taskID, runID string, dur time.Duration)
	OnFailed(integrationID, taskID, runID string, dur time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) OnQueued(string, string, string)                      {}
func (noopObserver) OnSkipped(string, string)                             {}
func (noopObserver) OnSucceeded(string, string, string, time.Duration)    {}
func (noopObserver) OnFailed(string, string, string, time.Duration, error) {}

// Scheduler runs manifests' tasks on their cron schedules, enforcing at
// most one in-flight run per (integration, task) via the store's partial
// unique index (property P7).
type Scheduler struct {
	store    *store.Store
	logger   *zap.Logger
	observer LifecycleObserver
	cron     *cron.Cron
}

// New constructs a Scheduler. logger and observer default to a production
// zap logger and a no-op observer respectively.
func New(st *store.Store, logger *zap.Logger, observer LifecycleObserver) *Scheduler {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Scheduler{
		store:    st,
		logger:   logger,
		observer: observer,
		cron:     cron.New(),
	}
}

// Register bootstraps a manifest (system + tags upsert) and registers its
// tasks on the cron schedule. Must be called before Start.
func (s *Scheduler) Register(ctx context.Context, m Manifest, loadSettings func(ctx context.Context) (Settings, error)) error {
	if err := s.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.store.UpsertSystem(ctx, tx, m.ID, m.Description); err != nil {
			return err
		}
		for _, tag := range m.Tags {
			tag.SystemID = m.ID
			if err := s.store.UpsertTagDef(ctx, tx, tag); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("integration[%s]: bootstrap: %w", m.ID, err)
	}

	for _, task := range m.Tasks {
		task := task
		schedule := task.CronExpression
		_, err := s.cron.AddFunc(schedule, func() {
			s.runOnce(context.Background(), m.ID, task, loadSettings)
		})
		if err != nil {
			return fmt.Errorf("integration[%s]: parse cron %q for task %s: %w", m.ID, schedule, task.ID, err)
		}
	}
	return nil
}

// Start begins firing scheduled jobs. Call Stop on shutdown.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops firing new jobs and blocks until every job already started
// has returned; a job runs its task body synchronously, so in-flight task
// runs are waited for too.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// TriggerNow runs task immediately and synchronously, outside its cron
// schedule, with the same run tracking as a scheduled firing.
func (s *Scheduler) TriggerNow(ctx context.Context, integrationID string, task Task, loadSettings func(ctx context.Context) (Settings, error)) {
	s.runOnce(ctx, integrationID, task, loadSettings)
}

// runOnce implements §4.6 steps 1–5: claim the run via the store's unique
// constraint, load settings, invoke fn, and persist the result.
func (s *Scheduler) runOnce(ctx context.Context, integrationID string, task Task, loadSettings func(ctx context.Context) (Settings, error)) {
	runID := newRunID()
	start := time.Now().UTC()

	if err := s.store.StartRun(ctx, runID, integrationID, task.ID, start); err != nil {
		if err == store.ErrRunInFlight {
			s.observer.OnSkipped(integrationID, task.ID)
			return
		}
		s.logger.Error("integration: start run failed", zap.String("integration", integrationID), zap.String("task", task.ID), zap.Error(err))
		return
	}
	s.observer.OnQueued(integrationID, task.ID, runID)

	settings, err := loadSettings(ctx)
	if err != nil {
		s.logger.Error("integration: load settings failed", zap.String("integration", integrationID), zap.Error(err))
		_ = s.store.FinishRun(ctx, runID, time.Now().UTC(), false, []store.IntegrationTaskLog{{
			Kind: store.LogError, Stamp: time.Now().UTC(), Message: "failed to load settings: " + err.Error(),
		}})
		s.observer.OnFailed(integrationID, task.ID, runID, time.Since(start), err)
		return
	}

	mon := NewMonitor(1000)
	runErr := task.Fn(ctx, mon, settings, s.store)
	if runErr != nil {
		mon.Error("task run failed: %v", runErr)
	}

	if err := s.store.FinishRun(ctx, runID, time.Now().UTC(), mon.Succeeded(), mon.Logs()); err != nil {
		s.logger.Error("integration: finish run failed", zap.String("integration", integrationID), zap.Error(err))
		return
	}

	if mon.Succeeded() {
		s.observer.OnSucceeded(integrationID, task.ID, runID, time.Since(start))
	} else {
		s.observer.OnFailed(integrationID, task.ID, runID, time.Since(start), runErr)
	}
}

func newRunID() string { return uuid.NewString() }

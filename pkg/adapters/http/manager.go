package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Sentinel errors for run admission. Both map to 409 at the API surface.
var (
	ErrRunActive   = errors.New("a run with this ID is already executing")
	ErrRunArchived = errors.New("a run with this ID is already archived")
)

// runLockTTL bounds how long a replica may hold a named run. Capped runs
// finish well inside it; if a holder dies, the lock expires on its own.
const runLockTTL = 10 * time.Minute

// StartFunc launches one run to completion and returns its record. The
// espalier Engine's RunWithHooks method satisfies it.
type StartFunc func(ctx context.Context, runID, goal string, hooks domain.LifecycleHooks) (*domain.RunRecord, error)

// Manager owns the server's in-flight runs: it admits new runs, turns their
// lifecycle hooks into SSE events, and archives each record on finish. Runs
// execute on the manager's own context, so they outlive the request that
// started them and end together at Shutdown.
type Manager struct {
	start   StartFunc
	archive ports.ArchiveStore
	streams *StreamManager
	locker  ports.RunLocker
	logger  *slog.Logger

	mu   sync.RWMutex
	live map[string]*liveRun

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption configures optional Manager collaborators.
type ManagerOption func(*Manager)

// WithLocker serializes client-supplied run IDs across server replicas that
// share an archive. Single-process setups can leave it unset.
func WithLocker(locker ports.RunLocker) ManagerOption {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLogger sets the structured logger for run admission and completion.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager wires a run launcher to an archive.
func NewManager(start StartFunc, archive ports.ArchiveStore, opts ...ManagerOption) *Manager {
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		start:   start,
		archive: archive,
		live:    make(map[string]*liveRun),
		base:    base,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m.streams = NewStreamManager(m.logger)
	return m
}

// Start admits and launches a run, returning its ID immediately. An empty
// runID gets a generated one; a caller-chosen ID that is already live or
// archived is a conflict. The context only covers admission, not the run.
func (m *Manager) Start(ctx context.Context, runID, goal string) (string, error) {
	goal, err := domain.SanitizeGoal(goal)
	if err != nil {
		return "", err
	}

	chosen := runID != ""
	if !chosen {
		runID = domain.GenerateRunID()
	}

	if chosen {
		// Reusing an archived ID would silently overwrite its record.
		_, err := m.archive.Load(ctx, runID)
		switch {
		case err == nil:
			return "", fmt.Errorf("run %s: %w", runID, ErrRunArchived)
		case !errors.Is(err, domain.ErrRunNotFound):
			return "", fmt.Errorf("check archive for run %s: %w", runID, err)
		}
	}

	var unlock ports.UnlockFunc
	if chosen && m.locker != nil {
		unlock, err = m.locker.Lock(ctx, runID, runLockTTL)
		if err != nil {
			return "", fmt.Errorf("lock run %s: %w", runID, err)
		}
	}

	lr := &liveRun{id: runID, goal: goal, startedAt: time.Now()}
	m.mu.Lock()
	if _, ok := m.live[runID]; ok {
		m.mu.Unlock()
		if unlock != nil {
			_ = unlock(ctx)
		}
		return "", fmt.Errorf("run %s: %w", runID, ErrRunActive)
	}
	m.live[runID] = lr
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(lr, unlock)

	m.logger.Info("run accepted", "run_id", runID, "goal", goal)
	return runID, nil
}

// execute drives one run to completion on the manager's context and archives
// the result. Runs only end early when the whole manager shuts down.
func (m *Manager) execute(lr *liveRun, unlock ports.UnlockFunc) {
	defer m.wg.Done()

	record, err := m.start(m.base, lr.id, lr.goal, m.hooksFor(lr))
	if err != nil {
		m.logger.Warn("run interrupted", "run_id", lr.id, "err", err)
	}

	// Archive before dropping the live entry, so readers always find the
	// run in one place or the other. Save uses a fresh context: shutdown
	// cancellation must not cost us the record.
	if record != nil {
		if err := m.archive.Save(context.Background(), record); err != nil {
			m.logger.Error("archive run record", "run_id", lr.id, "err", err)
		}
	}

	m.mu.Lock()
	delete(m.live, lr.id)
	m.mu.Unlock()

	m.streams.Close(lr.id)

	if unlock != nil {
		if err := unlock(context.Background()); err != nil {
			m.logger.Warn("failed to release run lock, will expire via TTL", "run_id", lr.id, "err", err)
		}
	}

	if record != nil {
		m.logger.Info("run finished",
			"run_id", lr.id,
			"status", record.Status,
			"completed", record.CompletedCount,
			"tasks", record.TaskCount,
		)
	}
}

// Snapshot returns the live view of a run, and whether the run is live.
func (m *Manager) Snapshot(runID string) (RunSnapshot, bool) {
	m.mu.RLock()
	lr, ok := m.live[runID]
	m.mu.RUnlock()
	if !ok {
		return RunSnapshot{}, false
	}
	return lr.snapshot(), true
}

// LiveIDs lists in-flight runs, most recently started first.
func (m *Manager) LiveIDs() []string {
	m.mu.RLock()
	runs := make([]*liveRun, 0, len(m.live))
	for _, lr := range m.live {
		runs = append(runs, lr)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].startedAt.After(runs[j].startedAt)
	})
	ids := make([]string, len(runs))
	for i, lr := range runs {
		ids[i] = lr.id
	}
	return ids
}

// Archive exposes the record store for read endpoints.
func (m *Manager) Archive() ports.ArchiveStore {
	return m.archive
}

// Shutdown stops accepting work, cancels in-flight runs, and waits for them
// to archive their records. The context bounds the wait.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hooksFor builds the lifecycle hooks that keep the live snapshot current and
// feed the run's SSE topic. Hooks run on the run's goroutine and only update
// counters and enqueue events.
func (m *Manager) hooksFor(lr *liveRun) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnPlan: func(_ context.Context, plan domain.Plan, fallback bool) {
			lr.mu.Lock()
			lr.planSteps = plan.Len()
			lr.fallbackPlan = fallback
			lr.mu.Unlock()
			m.publish(lr.id, "plan", planData{Plan: plan, Fallback: fallback})
		},
		OnDecision: func(_ context.Context, d *domain.RoutingDecision) {
			lr.mu.Lock()
			lr.decisions++
			lr.mu.Unlock()
			m.publish(lr.id, "decision", d)
		},
		OnDispatch: func(_ context.Context, kind domain.AgentKind, task *domain.Task) {
			data := dispatchData{Agent: kind}
			if task != nil {
				data.TaskID = task.ID
				data.Content = task.Content
			}
			m.publish(lr.id, "dispatch", data)
		},
		OnTaskComplete: func(_ context.Context, task domain.Task, reason string) {
			lr.mu.Lock()
			lr.completed++
			lr.mu.Unlock()
			m.publish(lr.id, "task_complete", taskCompleteData{
				TaskID:  task.ID,
				Content: task.Content,
				Reason:  reason,
			})
		},
		OnModelCall: func(_ context.Context, call *domain.ModelCall) {
			lr.mu.Lock()
			lr.calls++
			lr.mu.Unlock()
			m.publish(lr.id, "model_call", call)
		},
		OnFinish: func(_ context.Context, record *domain.RunRecord) {
			m.publish(lr.id, "finish", newFinishData(record))
		},
	}
}

// publish wraps a payload in the event envelope and broadcasts it on the
// run's topic and on the catch-all topic.
func (m *Manager) publish(runID, eventType string, data any) {
	payload, err := json.Marshal(Event{
		Type:  eventType,
		RunID: runID,
		At:    time.Now(),
		Data:  data,
	})
	if err != nil {
		m.logger.Error("marshal run event", "run_id", runID, "type", eventType, "err", err)
		return
	}
	m.streams.Broadcast(runID, string(payload))
	m.streams.Broadcast(allRunsTopic, string(payload))
}

// allRunsTopic receives every run's events, for dashboard-style subscribers.
const allRunsTopic = "*"

// liveRun accumulates hook-reported progress for one executing run.
type liveRun struct {
	id        string
	goal      string
	startedAt time.Time

	mu           sync.Mutex
	planSteps    int
	fallbackPlan bool
	decisions    int
	calls        int
	completed    int
}

func (lr *liveRun) snapshot() RunSnapshot {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return RunSnapshot{
		ID:             lr.id,
		Goal:           lr.goal,
		Status:         string(domain.StatusRunning),
		StartedAt:      lr.startedAt,
		PlanSteps:      lr.planSteps,
		FallbackPlan:   lr.fallbackPlan,
		Decisions:      lr.decisions,
		ModelCalls:     lr.calls,
		TasksCompleted: lr.completed,
	}
}

// RunSnapshot is the live view of an executing run, assembled from lifecycle
// hooks. Finished runs are served as their archived domain.RunRecord instead.
type RunSnapshot struct {
	ID             string    `json:"id"`
	Goal           string    `json:"goal"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	PlanSteps      int       `json:"plan_steps"`
	FallbackPlan   bool      `json:"fallback_plan,omitempty"`
	Decisions      int       `json:"decisions"`
	ModelCalls     int       `json:"model_calls"`
	TasksCompleted int       `json:"tasks_completed"`
}

// Event is the envelope every SSE payload uses: the hook family, the run it
// belongs to, and a type-specific body.
type Event struct {
	Type  string    `json:"type"`
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
}

type planData struct {
	Plan     domain.Plan `json:"plan"`
	Fallback bool        `json:"fallback"`
}

type dispatchData struct {
	Agent   domain.AgentKind `json:"agent"`
	TaskID  string           `json:"task_id,omitempty"`
	Content string           `json:"content,omitempty"`
}

type taskCompleteData struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

type finishData struct {
	Status         domain.RunStatus `json:"status"`
	TaskCount      int              `json:"task_count"`
	CompletedCount int              `json:"completed_count"`
	Invocations    int              `json:"invocations"`
	ReportLocation string           `json:"report_location,omitempty"`
}

func newFinishData(record *domain.RunRecord) finishData {
	return finishData{
		Status:         record.Status,
		TaskCount:      record.TaskCount,
		CompletedCount: record.CompletedCount,
		Invocations:    record.Invocations,
		ReportLocation: record.ReportLocation,
	}
}

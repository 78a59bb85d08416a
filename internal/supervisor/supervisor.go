// Package supervisor manages the named long-running tasks of the daemon:
// lifecycle, health heartbeats, restart policy, per-task circuit breaker
// and metrics, and a bounded audit log.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chartd-org/chartd/internal/backoff"
	"github.com/chartd-org/chartd/internal/breaker"
	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
)

const (
	// staleThreshold is the heartbeat age beyond which a task counts as stale.
	staleThreshold = 5 * time.Minute

	// defaultTaskTimeout bounds a single body execution for bounded jobs.
	defaultTaskTimeout = 5 * time.Minute

	// watchInterval is how often the health watcher scans for stale tasks.
	watchInterval = 30 * time.Second

	// breakerWaitCap caps the sleep while a task's breaker denies attempts.
	breakerWaitCap = time.Minute
)

// ErrStopped is returned by Add after the supervisor has been stopped.
var ErrStopped = errors.New("supervisor stopped")

// Body is the work a supervised task executes. A nil return ends the task;
// the supervisor retries failed bodies according to the task's options.
type Body func(ctx context.Context) error

// TaskOptions control the per-task execution wrapper.
type TaskOptions struct {
	// RestartOnFailure re-runs the body after non-permanent failures.
	RestartOnFailure bool
	// Timeout bounds one body execution. Zero means unbounded; self-pacing
	// service loops (the scheduler body, monitors) register with zero.
	Timeout time.Duration
	// Policy supplies retry delays and breaker thresholds. Zero value uses
	// the default policy.
	Policy backoff.RetryPolicy
}

// ResourceSample carries process usage for the health summary. Registered
// by the resource monitor; absent when none is running.
type ResourceSample struct {
	CPUPercent float64   `json:"cpuPercent"`
	RSSBytes   uint64    `json:"rssBytes"`
	Load1      float64   `json:"load1"`
	SampledAt  time.Time `json:"sampledAt"`
}

type task struct {
	name   string
	body   Body
	opts   TaskOptions
	brk    *breaker.Breaker
	metric *Metrics

	mu            sync.Mutex
	status        core.TaskStatus
	lastHeartbeat time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) setStatus(s core.TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

func (t *task) heartbeat(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHeartbeat = now
}

// TaskInfo is a read-only view of one task's state.
type TaskInfo struct {
	Name          string          `json:"name"`
	Status        core.TaskStatus `json:"-"`
	StatusText    string          `json:"status"`
	LastHeartbeat time.Time       `json:"lastHeartbeat,omitzero"`
	HeartbeatAge  time.Duration   `json:"heartbeatAge"`
	Stale         bool            `json:"stale"`
	BreakerState  string          `json:"breakerState"`
	Metrics       MetricsSnapshot `json:"metrics"`
}

// Summary aggregates task health for the health endpoint.
type Summary struct {
	Healthy  bool            `json:"healthy"`
	Tasks    []TaskInfo      `json:"tasks"`
	Resource *ResourceSample `json:"resource,omitempty"`
}

// Handle lets a task body reach its own supervision record: stamp
// heartbeats during long waits, consult the breaker, and append audit
// events. Handles stay valid until the task is removed.
type Handle struct {
	s *Supervisor
	t *task
}

// Heartbeat stamps the task's liveness timestamp.
func (h *Handle) Heartbeat() { h.t.heartbeat(h.s.clock.Now()) }

// Breaker returns the task's circuit breaker.
func (h *Handle) Breaker() *breaker.Breaker { return h.t.brk }

// Metrics returns the task's metrics record.
func (h *Handle) Metrics() *Metrics { return h.t.metric }

// Audit appends an audit entry for this task.
func (h *Handle) Audit(ctx context.Context, event, message string) {
	h.s.audit(ctx, h.t.name, event, message)
}

// Supervisor owns all long-running task handles; nothing else may cancel
// them.
type Supervisor struct {
	clock clock.Clock
	log   *auditLog

	mu         sync.Mutex
	tasks      map[string]*task
	started    bool
	stopped    bool
	baseCtx    context.Context
	cancelAll  context.CancelFunc
	watchDone  chan struct{}
	resourceFn func() (ResourceSample, bool)
}

// New builds a Supervisor using clk for all time reads.
func New(clk clock.Clock) *Supervisor {
	return &Supervisor{
		clock: clk,
		log:   newAuditLog(),
		tasks: make(map[string]*task),
	}
}

// SetResourceFunc registers the process-usage sampler consumed by
// HealthSummary. May be nil.
func (s *Supervisor) SetResourceFunc(fn func() (ResourceSample, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceFn = fn
}

// Start spawns the health watcher and begins accepting registrations.
// ctx carries the logger and bounds the lifetime of every task.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("supervisor already started")
	}
	s.started = true

	s.baseCtx, s.cancelAll = context.WithCancel(ctx)
	s.watchDone = make(chan struct{})
	go s.watch(s.baseCtx)

	logger.Info(ctx, "Task supervisor started")
	return nil
}

// Add registers a named task and starts it. An existing task of the same
// name is cancelled and awaited first (replace semantics).
func (s *Supervisor) Add(name string, body Body, opts TaskOptions) (*Handle, error) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	old := s.tasks[name]
	s.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	if err := opts.Policy.Validate(); err != nil {
		opts.Policy = backoff.DefaultPolicy()
	}

	t := &task{
		name:   name,
		body:   body,
		opts:   opts,
		metric: NewMetrics(),
		status: core.TaskIdle,
		done:   make(chan struct{}),
	}
	t.brk = breaker.New(name, breaker.Settings{
		FailureThreshold: opts.Policy.FailureThreshold,
		SuccessThreshold: opts.Policy.SuccessThreshold,
		RecoveryTimeout:  opts.Policy.RecoveryTimeout,
	}, s.clock, func(tr breaker.Transition) {
		s.log.append(AuditEntry{
			Time:    tr.At,
			Task:    tr.Name,
			Event:   "breaker_" + tr.To.String(),
			Message: fmt.Sprintf("circuit breaker %s -> %s", tr.From, tr.To),
		})
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	taskCtx, cancel := context.WithCancel(s.baseCtx)
	t.cancel = cancel
	s.tasks[name] = t
	s.mu.Unlock()

	s.audit(taskCtx, name, "registered", "")
	go s.runTask(taskCtx, t)

	return &Handle{s: s, t: t}, nil
}

// Remove cancels and deregisters a task. Unknown names are a no-op.
func (s *Supervisor) Remove(name string) {
	s.mu.Lock()
	t := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()

	if t != nil {
		t.cancel()
		<-t.done
	}
}

// Stop cancels the health watcher and all tasks, waits for them to
// terminate, and clears registrations.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	cancelAll := s.cancelAll
	watchDone := s.watchDone
	s.mu.Unlock()

	cancelAll()
	for _, t := range tasks {
		<-t.done
	}
	<-watchDone

	logger.Info(ctx, "Task supervisor stopped", tag.Count(len(tasks)))
}

// Status returns the view of one task, or false if unknown.
func (s *Supervisor) Status(name string) (TaskInfo, bool) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return TaskInfo{}, false
	}
	return s.info(t), true
}

// StatusAll returns the view of every registered task.
func (s *Supervisor) StatusAll() []TaskInfo {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, s.info(t))
	}
	return infos
}

// IsHealthy reports whether no task is stale or failed.
func (s *Supervisor) IsHealthy() bool {
	for _, info := range s.StatusAll() {
		if info.Stale || info.Status == core.TaskFailed {
			return false
		}
	}
	return true
}

// HealthSummary aggregates task views plus the resource sample if a
// monitor is registered.
func (s *Supervisor) HealthSummary() Summary {
	infos := s.StatusAll()
	healthy := true
	for _, info := range infos {
		if info.Stale || info.Status == core.TaskFailed {
			healthy = false
		}
	}

	s.mu.Lock()
	fn := s.resourceFn
	s.mu.Unlock()

	summary := Summary{Healthy: healthy, Tasks: infos}
	if fn != nil {
		if sample, ok := fn(); ok {
			summary.Resource = &sample
		}
	}
	return summary
}

// Audit returns up to limit audit entries, newest last.
func (s *Supervisor) Audit(limit int) []AuditEntry {
	return s.log.tail(limit)
}

func (s *Supervisor) info(t *task) TaskInfo {
	t.mu.Lock()
	status := t.status
	hb := t.lastHeartbeat
	t.mu.Unlock()

	var age time.Duration
	if !hb.IsZero() {
		age = s.clock.Now().Sub(hb)
	}
	return TaskInfo{
		Name:          t.name,
		Status:        status,
		StatusText:    status.String(),
		LastHeartbeat: hb,
		HeartbeatAge:  age,
		Stale:         !hb.IsZero() && age > staleThreshold,
		BreakerState:  t.brk.State().String(),
		Metrics:       t.metric.Snapshot(),
	}
}

func (s *Supervisor) audit(ctx context.Context, name, event, message string) {
	s.log.append(AuditEntry{
		Time:    s.clock.Now(),
		Task:    name,
		Event:   event,
		Message: message,
	})
	logger.Info(ctx, "Task event", tag.Task(name), tag.Event(event), tag.Message(message))
}

// runTask is the per-task execution wrapper.
func (s *Supervisor) runTask(ctx context.Context, t *task) {
	defer close(t.done)

	for {
		if ctx.Err() != nil {
			t.setStatus(core.TaskIdle)
			s.audit(ctx, t.name, "cancelled", "")
			return
		}

		if !t.brk.ShouldAllow() {
			wait := t.opts.Policy.RecoveryTimeout
			if wait > breakerWaitCap {
				wait = breakerWaitCap
			}
			if !sleepCtx(ctx, wait) {
				t.setStatus(core.TaskIdle)
				s.audit(ctx, t.name, "cancelled", "")
				return
			}
			continue
		}

		t.setStatus(core.TaskRunning)
		t.heartbeat(s.clock.Now())
		t.metric.Attempt(s.clock.Now())

		err := s.runBody(ctx, t)
		if err == nil {
			t.setStatus(core.TaskIdle)
			t.brk.RecordSuccess()
			t.metric.Success(s.clock.Now())
			s.audit(ctx, t.name, "completed", "")
			return
		}

		// Shutdown looks like an error from the body's point of view;
		// report it as a cancellation, not a failure.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			t.setStatus(core.TaskIdle)
			s.audit(ctx, t.name, "cancelled", "")
			return
		}

		kind := core.Classify(err)
		t.setStatus(core.TaskFailed)
		t.brk.RecordFailure()
		t.metric.Failure(s.clock.Now(), kind)
		s.audit(ctx, t.name, "failed", err.Error())
		logger.Error(ctx, "Task failed", tag.Task(t.name), tag.Kind(kind.String()), tag.Error(err))

		if !t.opts.RestartOnFailure || kind == core.KindPermanent {
			return
		}
		if !sleepCtx(ctx, t.opts.Policy.Delay(t.metric.ConsecutiveFailures())) {
			t.setStatus(core.TaskIdle)
			s.audit(ctx, t.name, "cancelled", "")
			return
		}
	}
}

func (s *Supervisor) runBody(ctx context.Context, t *task) error {
	timeout := t.opts.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return t.body(ctx)
}

// watch scans for stale tasks and logs warnings so operators notice hung
// loops before they matter.
func (s *Supervisor) watch(ctx context.Context) {
	defer close(s.watchDone)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, info := range s.StatusAll() {
				if info.Stale {
					logger.Warn(ctx, "Task heartbeat is stale",
						tag.Task(info.Name),
						tag.Duration(info.HeartbeatAge))
				}
			}
		}
	}
}

// sleepCtx waits for d or context cancellation; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

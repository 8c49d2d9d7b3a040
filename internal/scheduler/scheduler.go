package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/events"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/session"
)

const (
	DefaultRetryBudget    = 100
	DefaultErrorThreshold = 3
	DefaultTaskTimeout    = 10 * time.Second

	dropEventEvery = 50
)

// SessionView is the part of a session the scheduler needs to gate dispatch
type SessionView interface {
	ID() string
	State() session.State
	ValidatedSeq() (uint64, bool)
}

// Options configures a Scheduler
type Options struct {
	// DefaultRetryBudget applies to one-time tasks whose config leaves it zero
	DefaultRetryBudget int
	// ErrorThreshold is how many consecutive failures move a trigger to Error
	ErrorThreshold int
	// TaskTimeout bounds a single Match+Act evaluation
	TaskTimeout time.Duration
	Logger      *logging.Logger
	Bus         events.EventBus
}

func (o Options) withDefaults() Options {
	if o.DefaultRetryBudget <= 0 {
		o.DefaultRetryBudget = DefaultRetryBudget
	}
	if o.ErrorThreshold <= 0 {
		o.ErrorThreshold = DefaultErrorThreshold
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = DefaultTaskTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.NewLogger("Scheduler")
	}
	return o
}

type task struct {
	cfg      TaskConfig
	behavior Behavior
	metrics  *TaskMetrics

	enabled     bool
	state       TaskState
	reason      string
	attempts    int
	lastMatched bool
}

func (t *task) budget(def int) int {
	if t.cfg.RetryBudget > 0 {
		return t.cfg.RetryBudget
	}
	return def
}

// TaskStatus is a read-only view of one task
type TaskStatus struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	Type       string     `json:"type"`
	FirePolicy FirePolicy `json:"fire_policy,omitempty"`
	Enabled    bool       `json:"enabled"`
	State      TaskState  `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	Attempts   int        `json:"attempts"`
	Metrics    TaskStats  `json:"metrics"`
}

// Stats counts frames seen by the scheduler
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Stale      uint64 `json:"stale"`
	LastSeq    uint64 `json:"last_seq"`
}

// Scheduler owns the task set and dispatches validated frames to it. Task
// state lives under mu, which is never held while a behavior runs, so
// PauseAll and StopAll take effect immediately even while a slow task is
// evaluating. Frames are evaluated one at a time under evalMu. Events are
// queued under mu and published once it is released.
type Scheduler struct {
	opts   Options
	logger *logging.Logger
	bus    events.EventBus

	mu         sync.Mutex
	tasks      []*task
	byID       map[string]*task
	sess       SessionView
	paused     bool
	lastSeq    uint64
	dispatched bool
	unhealthy  int
	pending    []events.Event

	// gen changes whenever pause, stop or bind invalidates the tick in
	// flight; results computed under an older gen are discarded
	gen        uint64
	cancelTick context.CancelFunc

	evalMu  sync.Mutex
	flushMu sync.Mutex

	sessID    atomic.Value
	box       *mailbox
	dropped   atomic.Uint64
	stale     atomic.Uint64
	processed atomic.Uint64
}

// New creates an empty scheduler
func New(opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		opts:   opts,
		logger: opts.Logger,
		bus:    opts.Bus,
		byID:   make(map[string]*task),
		box:    newMailbox(),
	}
}

// Add registers a task. Enabled tasks start in Enabled, others in Disabled.
func (s *Scheduler) Add(cfg TaskConfig, behavior Behavior) error {
	cfg, err := cfg.Normalize()
	if err != nil {
		return err
	}
	if behavior == nil {
		return fmt.Errorf("task %s: no behavior", cfg.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, cfg.ID)
	}
	t := &task{
		cfg:      cfg,
		behavior: behavior,
		metrics:  NewTaskMetrics(),
		enabled:  cfg.Enabled,
		state:    TaskDisabled,
	}
	if cfg.Enabled {
		t.state = TaskEnabled
	}
	s.tasks = append(s.tasks, t)
	s.byID[cfg.ID] = t
	return nil
}

// Bind attaches the scheduler to a session, clearing per-session frame state
func (s *Scheduler) Bind(sess SessionView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupt()
	s.sess = sess
	s.sessID.Store(sess.ID())
	s.paused = false
	s.lastSeq = 0
	s.dispatched = false
	s.unhealthy = 0
	s.box.clear()
}

func (s *Scheduler) sessionID() string {
	id, _ := s.sessID.Load().(string)
	return id
}

func (s *Scheduler) ready() bool {
	return s.sess != nil && s.sess.State() == session.StateRunning
}

// interrupt invalidates and cancels the tick in flight. mu must be held.
func (s *Scheduler) interrupt() {
	s.gen++
	if s.cancelTick != nil {
		s.cancelTick()
	}
}

// StartAll moves every enabled task to Running. It fails with
// ErrSessionNotReady unless the bound session is Running.
func (s *Scheduler) StartAll() error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready() {
		return ErrSessionNotReady
	}
	s.paused = false
	started := 0
	for _, t := range s.tasks {
		if !t.enabled || t.state == TaskRunning {
			continue
		}
		t.attempts = 0
		t.lastMatched = false
		t.metrics.Reset()
		s.setState(t, TaskRunning, "start_all")
		started++
	}
	s.logger.InfoWithContext("Tasks started", map[string]interface{}{
		"session": s.sessionID(),
		"started": started,
	})
	return nil
}

// PauseAll stops dispatch and moves Running tasks to Paused. It does not
// wait for a task that is mid-evaluation: that evaluation is cancelled and
// its result discarded. Once it returns no task starts evaluating until
// ResumeAll.
func (s *Scheduler) PauseAll() {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = true
	s.interrupt()
	s.box.clear()
	for _, t := range s.tasks {
		if t.state == TaskRunning {
			s.setState(t, TaskPaused, "pause_all")
		}
	}
}

// ResumeAll returns Paused tasks to Running. Tasks disabled while paused
// stay Paused until re-enabled; Disabled tasks are never started here.
func (s *Scheduler) ResumeAll() error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready() {
		return ErrSessionNotReady
	}
	s.paused = false
	for _, t := range s.tasks {
		if t.state == TaskPaused && t.enabled {
			s.setState(t, TaskRunning, "resume_all")
		}
	}
	return nil
}

// StopAll moves every Running or Paused task to Stopped, cancelling any
// evaluation in flight
func (s *Scheduler) StopAll(reason string) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = true
	s.interrupt()
	s.box.clear()
	for _, t := range s.tasks {
		if t.state == TaskRunning || t.state == TaskPaused {
			s.setState(t, TaskStopped, reason)
		}
	}
}

// SetTaskEnabled toggles whether a task takes part in the next StartAll.
// A Running or Paused task keeps its state.
func (s *Scheduler) SetTaskEnabled(id string, enabled bool) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	t.enabled = enabled
	switch t.state {
	case TaskRunning, TaskPaused:
		return nil
	case TaskDisabled:
		if enabled {
			s.setState(t, TaskEnabled, "enabled")
		}
	default:
		if !enabled {
			s.setState(t, TaskDisabled, "disabled")
		}
	}
	return nil
}

// setState must be called with mu held
func (s *Scheduler) setState(t *task, to TaskState, reason string) {
	from := t.state
	if from == to {
		return
	}
	t.state = to
	t.reason = reason
	s.logger.DebugWithContext("Task state changed", map[string]interface{}{
		"task":   t.cfg.ID,
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
	s.queue(events.NewTaskStateEvent(s.sessionID(), t.cfg.ID, string(from), string(to), reason))
}

// queue holds an event until the next flush. mu must be held.
func (s *Scheduler) queue(e events.Event) {
	if s.bus != nil {
		s.pending = append(s.pending, e)
	}
}

// flush publishes queued events in order. It must be called without mu.
func (s *Scheduler) flush() {
	if s.bus == nil {
		return
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, e := range pending {
		s.bus.Publish(e)
	}
}

// Offer hands a validated frame to the worker without blocking. An
// undelivered older frame is dropped.
func (s *Scheduler) Offer(frame capture.Frame) {
	old, replaced := s.box.put(frame)
	if !replaced {
		return
	}
	n := s.dropped.Add(1)
	s.logger.DebugWithContext("Frame dropped", map[string]interface{}{
		"seq":   old.Seq,
		"total": n,
	})
	if n%dropEventEvery == 0 && s.bus != nil {
		s.bus.Publish(events.NewFrameDroppedEvent(s.sessionID(), n, old.Seq))
	}
}

// Run delivers offered frames until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.box.ready:
		}
		frame, ok := s.box.take()
		if !ok {
			continue
		}
		s.Dispatch(ctx, frame)
	}
}

// Dispatch evaluates every Running task against frame and reports whether
// the frame was used. Frames are discarded while paused, before the latest
// validated frame, or when not newer than the last dispatched frame.
func (s *Scheduler) Dispatch(ctx context.Context, frame capture.Frame) bool {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	defer s.flush()

	s.mu.Lock()
	if !s.accept(frame) {
		s.mu.Unlock()
		s.stale.Add(1)
		return false
	}
	s.lastSeq = frame.Seq
	s.dispatched = true
	tickCtx, cancel := context.WithCancel(ctx)
	s.cancelTick = cancel
	gen := s.gen
	order := s.ordered()
	s.mu.Unlock()

	for _, t := range order {
		if tickCtx.Err() != nil {
			break
		}
		s.evaluate(tickCtx, gen, t, frame)
		s.flush()
	}

	s.mu.Lock()
	s.cancelTick = nil
	s.checkHealth()
	s.mu.Unlock()
	cancel()

	s.processed.Add(1)
	return true
}

// accept applies the stale-frame gate. mu must be held.
func (s *Scheduler) accept(frame capture.Frame) bool {
	if s.paused || !s.ready() {
		return false
	}
	if seq, ok := s.sess.ValidatedSeq(); !ok || frame.Seq < seq {
		return false
	}
	return !s.dispatched || frame.Seq > s.lastSeq
}

// current reports whether t may still run under gen. mu must be held.
func (s *Scheduler) current(gen uint64, t *task) bool {
	return s.gen == gen && !s.paused && t.state == TaskRunning
}

// ordered returns one-time tasks before triggers, each in config order
func (s *Scheduler) ordered() []*task {
	oneTime, triggers := lo.FilterReject(s.tasks, func(t *task, _ int) bool {
		return t.cfg.Kind == KindOneTime
	})
	return append(oneTime, triggers...)
}

// evaluate runs Match and, when it fires, Act for one task. The behavior
// runs without mu; its outcome is applied only if nothing paused or stopped
// the task in the meantime.
func (s *Scheduler) evaluate(ctx context.Context, gen uint64, t *task, frame capture.Frame) {
	s.mu.Lock()
	runnable := s.current(gen, t)
	s.mu.Unlock()
	if !runnable {
		return
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	defer cancel()

	start := time.Now()
	matched, err := safeMatch(tctx, t, frame)

	s.mu.Lock()
	if !s.current(gen, t) {
		s.mu.Unlock()
		return
	}
	if err != nil {
		t.metrics.RecordEvaluation(time.Since(start), false, false, err)
		s.fail(t, err)
		s.mu.Unlock()
		return
	}

	act := false
	switch t.cfg.Kind {
	case KindOneTime:
		t.attempts++
		act = matched
		if !matched {
			t.metrics.RecordEvaluation(time.Since(start), false, false, nil)
			if t.attempts >= t.budget(s.opts.DefaultRetryBudget) {
				s.fail(t, &TaskError{TaskID: t.cfg.ID, Code: CodeBudgetExhausted, Err: ErrRetryBudgetExhausted})
			}
		}
	case KindTrigger:
		act = matched && (t.cfg.FirePolicy == FirePerFrame || !t.lastMatched)
		t.lastMatched = matched
		if !act {
			t.metrics.RecordEvaluation(time.Since(start), matched, false, nil)
		}
	}
	s.mu.Unlock()
	if !act {
		return
	}

	err = safeAct(tctx, t, frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// a failure caused by pause or stop is not the task's fault
		if s.current(gen, t) {
			t.metrics.RecordEvaluation(time.Since(start), true, false, err)
			s.fail(t, err)
		}
		return
	}

	// the action happened, so it is recorded even if the task was paused meanwhile
	t.metrics.RecordEvaluation(time.Since(start), true, true, nil)
	switch t.cfg.Kind {
	case KindOneTime:
		if t.state == TaskRunning || t.state == TaskPaused {
			s.setState(t, TaskStopped, "completed")
		}
		s.queue(events.NewTaskCompletedEvent(s.sessionID(), t.cfg.ID, t.attempts))
	case KindTrigger:
		s.queue(events.NewTaskFiredEvent(s.sessionID(), t.cfg.ID, frame.Seq))
	}
}

// fail reports a task error. One-time tasks and panics go straight to Error;
// triggers do so once consecutive failures reach the threshold. mu must be held.
func (s *Scheduler) fail(t *task, err error) {
	code := CodeMatchFailed
	var te *TaskError
	if errors.As(err, &te) {
		code = te.Code
	}

	s.logger.WarnWithContext("Task failed", map[string]interface{}{
		"task":  t.cfg.ID,
		"code":  string(code),
		"error": err.Error(),
	})
	s.queue(events.NewTaskFailedEvent(s.sessionID(), t.cfg.ID, string(code), err))

	terminal := t.cfg.Kind == KindOneTime || code == CodePanic ||
		!t.metrics.IsHealthy(int64(s.opts.ErrorThreshold))
	if terminal {
		s.setState(t, TaskFailed, string(code))
	}
}

// checkHealth must be called with mu held
func (s *Scheduler) checkHealth() {
	active := lo.Filter(s.tasks, func(t *task, _ int) bool {
		return t.state == TaskRunning || t.state == TaskPaused || t.state == TaskFailed
	})
	unhealthy := lo.CountBy(active, func(t *task) bool {
		return t.state == TaskFailed || !t.metrics.IsHealthy(int64(s.opts.ErrorThreshold))
	})
	if unhealthy == s.unhealthy {
		return
	}
	s.unhealthy = unhealthy

	var evals, failures int64
	for _, t := range active {
		st := t.metrics.GetStats()
		evals += st.Evaluations
		failures += st.Failures
	}
	rate := 0.0
	if evals > 0 {
		rate = float64(failures) / float64(evals) * 100.0
	}

	ctx := map[string]interface{}{
		"unhealthy":  unhealthy,
		"total":      len(active),
		"error_rate": fmt.Sprintf("%.1f%%", rate),
	}
	if unhealthy > 0 {
		s.logger.WarnWithContext("Task health degraded", ctx)
	} else {
		s.logger.InfoWithContext("Task health recovered", ctx)
	}
	s.queue(events.NewTaskHealthEvent(s.sessionID(), unhealthy == 0, unhealthy, len(active), rate))
}

func safeMatch(ctx context.Context, t *task, frame capture.Frame) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{TaskID: t.cfg.ID, Code: CodePanic, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
	}()
	matched, err = t.behavior.Match(ctx, frame)
	if err != nil {
		err = &TaskError{TaskID: t.cfg.ID, Code: CodeMatchFailed, Err: err}
	}
	return matched, err
}

func safeAct(ctx context.Context, t *task, frame capture.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{TaskID: t.cfg.ID, Code: CodePanic, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
	}()
	if err = t.behavior.Act(ctx, frame); err != nil {
		err = &TaskError{TaskID: t.cfg.ID, Code: CodeActionFailed, Err: err}
	}
	return err
}

// Task returns the status of one task
func (s *Scheduler) Task(id string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return TaskStatus{}, false
	}
	return statusOf(t), true
}

// Snapshot returns the status of every task in config order
func (s *Scheduler) Snapshot() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.tasks, func(t *task, _ int) TaskStatus { return statusOf(t) })
}

func statusOf(t *task) TaskStatus {
	st := TaskStatus{
		ID:       t.cfg.ID,
		Name:     t.cfg.Name,
		Kind:     t.cfg.Kind,
		Type:     t.cfg.Type,
		Enabled:  t.enabled,
		State:    t.state,
		Reason:   t.reason,
		Attempts: t.attempts,
		Metrics:  t.metrics.GetStats(),
	}
	if t.cfg.Kind == KindTrigger {
		st.FirePolicy = t.cfg.FirePolicy
	}
	return st
}

// Stats returns frame counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	last := s.lastSeq
	s.mu.Unlock()
	return Stats{
		Dispatched: s.processed.Load(),
		Dropped:    s.dropped.Load(),
		Stale:      s.stale.Load(),
		LastSeq:    last,
	}
}

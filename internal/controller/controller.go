package controller

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/events"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/scheduler"
	"jordanella.com/autopilot/internal/session"
	"jordanella.com/autopilot/internal/validate"
)

const (
	DefaultTickInterval       = 500 * time.Millisecond
	DefaultStartTimeout       = 60 * time.Second
	DefaultCaptureRetryBudget = 5
)

// ErrSessionActive is returned when Start is called while a session is live
var ErrSessionActive = errors.New("a session is already active")

// Launcher finds, starts and watches the process behind a PC target
type Launcher interface {
	Find(ctx context.Context, target capture.Target) (pid int32, found bool, err error)
	Launch(ctx context.Context, target capture.Target) (pid int32, err error)
	Alive(pid int32) bool
	Elevated() bool
}

// Options configures timing and retry policy
type Options struct {
	TickInterval       time.Duration
	StartTimeout       time.Duration
	CaptureRetryBudget int
	RequireAdmin       bool
	AutoStartTasks     bool
	Logger             *logging.Logger
	Bus                events.EventBus
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.CaptureRetryBudget <= 0 {
		o.CaptureRetryBudget = DefaultCaptureRetryBudget
	}
	if o.Logger == nil {
		o.Logger = logging.NewLogger("Controller")
	}
	return o
}

// Deps are the collaborators the controller drives
type Deps struct {
	Sources   map[capture.Kind]capture.Source
	Validator *validate.Validator
	Launcher  Launcher
	Scheduler *scheduler.Scheduler
}

// Controller owns the polling loop for one session at a time. It opens the
// capture target, validates frames and advances the session state machine,
// feeding validated frames to the scheduler.
type Controller struct {
	opts   Options
	logger *logging.Logger
	bus    events.EventBus
	deps   Deps

	mu         sync.Mutex
	sess       *session.Session
	cancel     context.CancelFunc
	done       chan struct{}
	lastResult validate.Result
	hazards    []string
}

// New creates a controller
func New(deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	if deps.Validator == nil {
		deps.Validator = validate.NewValidator(validate.DefaultMatrix())
	}
	return &Controller{
		opts:   opts,
		logger: opts.Logger,
		bus:    opts.Bus,
		deps:   deps,
	}
}

// Start creates a session for target and runs it in the background. The
// session ends when it reaches Stopped or Error, when Stop is called, or
// when ctx is cancelled.
func (c *Controller) Start(ctx context.Context, target capture.Target) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && !c.sess.State().Terminal() {
		return nil, ErrSessionActive
	}

	sess := session.New(target, c.bus)
	if c.deps.Scheduler != nil {
		c.deps.Scheduler.Bind(sess)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.sess = sess
	c.cancel = cancel
	c.done = done
	c.lastResult = validate.Result{}
	c.hazards = nil

	var wg sync.WaitGroup
	if c.deps.Scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.deps.Scheduler.Run(runCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		newRun(c, sess).loop(runCtx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	c.logger.InfoWithContext("Session started", map[string]interface{}{
		"session": sess.ID(),
		"target":  target.String(),
	})
	return sess, nil
}

// Stop requests the current session to stop and waits for its loop to exit
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current session's loop has exited
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Current returns the current (possibly finished) session
func (c *Controller) Current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// LastResult returns the most recent validation result
func (c *Controller) LastResult() validate.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// Scheduler returns the task scheduler driven by this controller
func (c *Controller) Scheduler() *scheduler.Scheduler {
	return c.deps.Scheduler
}

func (c *Controller) recordResult(sess *session.Session, res validate.Result) {
	names := res.HazardNames()

	c.mu.Lock()
	c.lastResult = res
	changed := !slices.Equal(names, c.hazards)
	if changed {
		c.hazards = names
	}
	c.mu.Unlock()

	if !changed || len(names) == 0 {
		return
	}
	c.logger.WarnWithContext("Display hazard detected", map[string]interface{}{
		"session": sess.ID(),
		"hazards": names,
	})
	if c.bus != nil {
		c.bus.Publish(events.NewHazardEvent(sess.ID(), names))
	}
}

package controller

import (
	"context"
	"time"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/session"
	"jordanella.com/autopilot/internal/validate"
)

// run is the polling loop of a single session. It is the only owner of the
// capture handle and the only producer of frames.
type run struct {
	c        *Controller
	sess     *session.Session
	target   capture.Target
	src      capture.Source
	handle   *capture.Handle
	pid      int32
	deadline time.Time
	failures int

	// nextSeq numbers frames across handle reopens within the session
	nextSeq uint64
}

func newRun(c *Controller, sess *session.Session) *run {
	return &run{c: c, sess: sess, target: sess.Target()}
}

func (r *run) loop(ctx context.Context) {
	defer r.closeHandle()

	if !r.launch(ctx) {
		return
	}

	ticker := time.NewTicker(r.c.opts.TickInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			r.tick(ctx)
		}
		if r.sess.State().Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			r.finish(session.StateStopped, session.ReasonStopRequested, nil)
			return
		case <-ticker.C:
		}
	}
}

// launch moves Idle -> Launching -> WaitingForWindow, starting the PC
// process when it is not already running
func (r *run) launch(ctx context.Context) bool {
	r.deadline = time.Now().Add(r.c.opts.StartTimeout)
	r.transition(session.StateLaunching, session.ReasonStartRequested, nil)

	src, ok := r.c.deps.Sources[r.target.Kind]
	if !ok || src == nil {
		r.fail(session.ReasonUnsupportedCaptureMethod, map[string]interface{}{
			"kind": string(r.target.Kind),
		})
		return false
	}
	r.src = src

	launcher := r.c.deps.Launcher
	if r.target.Kind == capture.KindProcessWindow && launcher != nil {
		if r.c.opts.RequireAdmin && !launcher.Elevated() {
			r.fail(session.ReasonPrivilegesRequired, nil)
			return false
		}
		pid, found, err := launcher.Find(ctx, r.target)
		if err != nil {
			r.c.logger.Warn("Process lookup failed: " + err.Error())
		}
		if !found && r.target.Window == 0 && r.target.ExePath != "" {
			pid, err = launcher.Launch(ctx, r.target)
			if err != nil {
				r.fail(session.ReasonLaunchFailed, map[string]interface{}{
					"path":  r.target.ExePath,
					"error": err.Error(),
				})
				return false
			}
		}
		r.pid = pid
	}

	var detail map[string]interface{}
	if r.pid > 0 {
		detail = map[string]interface{}{"pid": r.pid}
	}
	r.transition(session.StateWaitingForWindow, session.ReasonProcessLaunched, detail)
	return true
}

func (r *run) tick(ctx context.Context) {
	state := r.sess.State()
	frame, err := r.capture(ctx)
	if ctx.Err() != nil {
		return
	}

	switch state {
	case session.StateWaitingForWindow:
		r.waiting(frame, err)
	case session.StateRunning, session.StatePaused:
		r.steady(ctx, state, frame, err)
	}
}

func (r *run) capture(ctx context.Context) (capture.Frame, error) {
	if r.handle == nil {
		h, err := r.src.Open(ctx, r.target)
		if err != nil {
			return capture.Frame{}, err
		}
		h.ContinueFrom(r.nextSeq)
		r.handle = h
	}
	frame, err := r.src.CaptureOnce(ctx, r.handle)
	if err != nil {
		if capture.CodeOf(err) == capture.CodeHandleClosed || capture.IsTargetGone(err) {
			r.closeHandle()
		}
		return frame, err
	}
	r.nextSeq = frame.Seq + 1
	return frame, nil
}

func (r *run) closeHandle() {
	if r.handle == nil {
		return
	}
	if err := r.src.Close(r.handle); err != nil {
		r.c.logger.Debug("Close capture handle: " + err.Error())
	}
	r.handle = nil
}

// waiting handles WaitingForWindow: the first successful capture moves the
// session to Validating and the frame decides what happens next
func (r *run) waiting(frame capture.Frame, err error) {
	if err != nil {
		if capture.CodeOf(err) == capture.CodeUnsupported {
			r.fail(session.ReasonUnsupportedCaptureMethod, map[string]interface{}{"error": err.Error()})
			return
		}
		r.c.logger.DebugWithContext("Waiting for window", map[string]interface{}{
			"session": r.sess.ID(),
			"error":   err.Error(),
		})
		r.checkDeadline(err)
		return
	}

	r.transition(session.StateValidating, session.ReasonFrameCaptured, map[string]interface{}{
		"seq":        frame.Seq,
		"resolution": validate.Size{Width: frame.Width(), Height: frame.Height()}.String(),
	})

	res := r.validate(frame)
	switch {
	case res.OK():
		r.enterRunning(frame, res)
	case res.Blocking():
		r.fail(blockingReason(res.Code), res.Detail())
	default:
		r.transition(session.StateWaitingForWindow, session.ReasonWindowUnavailable, res.Detail())
		r.checkDeadline(nil)
	}
}

func (r *run) checkDeadline(lastErr error) {
	if time.Now().Before(r.deadline) {
		return
	}
	detail := map[string]interface{}{"timeout": r.c.opts.StartTimeout.String()}
	if lastErr != nil {
		detail["last_error"] = lastErr.Error()
	}
	r.fail(session.ReasonStartTimeout, detail)
}

func (r *run) enterRunning(frame capture.Frame, res validate.Result) {
	r.sess.MarkValidated(frame.Seq)
	r.transition(session.StateRunning, session.ReasonValidated, res.Detail())

	sched := r.c.deps.Scheduler
	if sched == nil {
		return
	}
	if r.c.opts.AutoStartTasks {
		if err := sched.StartAll(); err != nil {
			r.c.logger.Error("Failed to start tasks", err)
		}
	}
	sched.Offer(frame)
}

// steady handles Running and Paused: validated frames go to the scheduler,
// transient problems pause, blocking ones end the session
func (r *run) steady(ctx context.Context, state session.State, frame capture.Frame, err error) {
	if err != nil {
		r.captureFailed(ctx, state, err)
		return
	}
	r.failures = 0

	res := r.validate(frame)
	switch {
	case res.OK():
		r.sess.MarkValidated(frame.Seq)
		sched := r.c.deps.Scheduler
		if state == session.StatePaused {
			r.transition(session.StateRunning, session.ReasonWindowRestored, res.Detail())
			if sched != nil {
				if err := sched.ResumeAll(); err != nil {
					r.c.logger.Error("Failed to resume tasks", err)
				}
			}
		}
		if sched != nil {
			sched.Offer(frame)
		}
	case res.Blocking():
		r.fail(blockingReason(res.Code), res.Detail())
	default:
		r.pause(state, res.Detail())
	}
}

func (r *run) pause(state session.State, detail map[string]interface{}) {
	if state != session.StateRunning {
		return
	}
	r.transition(session.StatePaused, session.ReasonWindowUnavailable, detail)
	if sched := r.c.deps.Scheduler; sched != nil {
		sched.PauseAll()
	}
}

func (r *run) captureFailed(ctx context.Context, state session.State, err error) {
	switch {
	case capture.CodeOf(err) == capture.CodeWindowMinimized:
		r.pause(state, map[string]interface{}{"cause": string(validate.CauseMinimized)})
		return
	case capture.CodeOf(err) == capture.CodeUnsupported:
		r.fail(session.ReasonUnsupportedCaptureMethod, map[string]interface{}{"error": err.Error()})
		return
	case capture.IsTargetGone(err) && r.targetGone(ctx):
		r.finish(session.StateStopped, session.ReasonTargetGone, map[string]interface{}{"error": err.Error()})
		return
	}

	r.failures++
	r.c.logger.WarnWithContext("Capture failed", map[string]interface{}{
		"session": r.sess.ID(),
		"attempt": r.failures,
		"budget":  r.c.opts.CaptureRetryBudget,
		"error":   err.Error(),
	})
	if r.failures > r.c.opts.CaptureRetryBudget {
		r.fail(session.ReasonCaptureFailed, map[string]interface{}{
			"attempts": r.failures,
			"error":    err.Error(),
		})
	}
}

// targetGone decides whether a not-found error means the target has exited.
// Device and emulator backends report this directly; for a PC window the
// owning process must also be gone. Without a known pid the process is
// looked up again by window handle or name.
func (r *run) targetGone(ctx context.Context) bool {
	if r.target.Kind != capture.KindProcessWindow {
		return true
	}
	launcher := r.c.deps.Launcher
	if launcher == nil {
		return false
	}
	if r.pid > 0 {
		return !launcher.Alive(r.pid)
	}
	if r.target.Window == 0 && r.target.ProcessName == "" && r.target.ExePath == "" {
		return false
	}
	pid, found, err := launcher.Find(ctx, r.target)
	if err != nil {
		r.c.logger.Debug("Process lookup failed: " + err.Error())
		return false
	}
	if found {
		r.pid = pid
		return !launcher.Alive(pid)
	}
	return true
}

func (r *run) validate(frame capture.Frame) validate.Result {
	res := r.c.deps.Validator.Validate(frame, r.target)
	r.c.recordResult(r.sess, res)
	return res
}

func (r *run) transition(to session.State, code session.ReasonCode, detail map[string]interface{}) {
	if err := r.sess.Transition(to, session.NewReason(code, detail)); err != nil {
		r.c.logger.Error("Session transition rejected", err)
	}
}

func (r *run) fail(code session.ReasonCode, detail map[string]interface{}) {
	r.finish(session.StateError, code, detail)
}

func (r *run) finish(state session.State, code session.ReasonCode, detail map[string]interface{}) {
	if r.sess.State().Terminal() {
		return
	}
	if err := r.sess.Transition(state, session.NewReason(code, detail)); err != nil {
		r.c.logger.Error("Session transition rejected", err)
		return
	}

	ctx := map[string]interface{}{
		"session": r.sess.ID(),
		"reason":  string(code),
	}
	for k, v := range detail {
		ctx[k] = v
	}
	if state == session.StateError {
		r.c.logger.ErrorWithContext("Session failed", nil, ctx)
	} else {
		r.c.logger.InfoWithContext("Session stopped", ctx)
	}

	if sched := r.c.deps.Scheduler; sched != nil {
		sched.StopAll(string(code))
	}
}

func blockingReason(code validate.Code) session.ReasonCode {
	switch code {
	case validate.CodeUnsupportedResolution:
		return session.ReasonUnsupportedResolution
	case validate.CodeUnsupportedAspectRatio:
		return session.ReasonUnsupportedAspectRatio
	default:
		return session.ReasonBelowMinimumSize
	}
}

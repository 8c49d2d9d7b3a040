package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jordanella.com/autopilot/internal/capture"
)

// Kind distinguishes run-once tasks from tasks that re-evaluate every frame
type Kind string

const (
	KindOneTime Kind = "one_time"
	KindTrigger Kind = "trigger"
)

// ParseKind converts a config value to a task Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one_time", "onetime", "once":
		return KindOneTime, nil
	case "trigger":
		return KindTrigger, nil
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// FirePolicy controls how often a trigger acts while its condition holds
type FirePolicy string

const (
	// FirePerFrame acts on every matching frame
	FirePerFrame FirePolicy = "per_frame"
	// FirePerEvent acts once per run of consecutive matching frames
	FirePerEvent FirePolicy = "per_event"
)

// ParseFirePolicy converts a config value, defaulting to per-event
func ParseFirePolicy(s string) (FirePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_event", "event":
		return FirePerEvent, nil
	case "per_frame", "frame":
		return FirePerFrame, nil
	}
	return "", fmt.Errorf("unknown fire policy %q", s)
}

// Param is one ordered task parameter
type Param struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// TaskConfig is the external definition of a task. It is immutable during a run.
type TaskConfig struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Enabled     bool       `yaml:"enabled"`
	Kind        Kind       `yaml:"kind"`
	Type        string     `yaml:"type"`
	RetryBudget int        `yaml:"retry_budget"`
	FirePolicy  FirePolicy `yaml:"fire_policy"`
	Params      []Param    `yaml:"params"`
}

// Param returns the first value for key
func (c TaskConfig) Param(key string) (string, bool) {
	for _, p := range c.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// ParamOr returns the value for key or def when absent
func (c TaskConfig) ParamOr(key, def string) string {
	if v, ok := c.Param(key); ok {
		return v
	}
	return def
}

// Normalize fills defaults and validates the config
func (c TaskConfig) Normalize() (TaskConfig, error) {
	if strings.TrimSpace(c.ID) == "" {
		return c, errors.New("task id is required")
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	kind, err := ParseKind(string(c.Kind))
	if err != nil {
		return c, fmt.Errorf("task %s: %w", c.ID, err)
	}
	c.Kind = kind

	policy, err := ParseFirePolicy(string(c.FirePolicy))
	if err != nil {
		return c, fmt.Errorf("task %s: %w", c.ID, err)
	}
	c.FirePolicy = policy

	if c.RetryBudget < 0 {
		return c, fmt.Errorf("task %s: retry_budget must not be negative", c.ID)
	}
	return c, nil
}

// Behavior is the shared contract of every task: a condition evaluated
// against a frame and an action performed when it matches. One-time and
// trigger tasks differ only in what the scheduler does after a match.
type Behavior interface {
	Match(ctx context.Context, frame capture.Frame) (bool, error)
	Act(ctx context.Context, frame capture.Frame) error
}

// TaskState is the runtime state of a task
type TaskState string

const (
	TaskDisabled TaskState = "Disabled"
	TaskEnabled  TaskState = "Enabled"
	TaskRunning  TaskState = "Running"
	TaskPaused   TaskState = "Paused"
	TaskStopped  TaskState = "Stopped"
	TaskFailed   TaskState = "Error"
)

var (
	// ErrSessionNotReady is returned when tasks are started outside a Running session
	ErrSessionNotReady = errors.New("session not ready")
	// ErrUnknownTask is returned for an id that was never added
	ErrUnknownTask = errors.New("unknown task")
	// ErrDuplicateTask is returned when two tasks share an id
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrRetryBudgetExhausted ends a one-time task that never matched
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

// ErrorCode classifies a task failure
type ErrorCode string

const (
	CodeMatchFailed     ErrorCode = "match_failed"
	CodeActionFailed    ErrorCode = "action_failed"
	CodePanic           ErrorCode = "panic"
	CodeBudgetExhausted ErrorCode = "retry_budget_exhausted"
)

// TaskError is a failure scoped to one task
type TaskError struct {
	TaskID string
	Code   ErrorCode
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Code, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

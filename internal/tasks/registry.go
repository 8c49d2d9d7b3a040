package tasks

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/recognition"
	"jordanella.com/autopilot/internal/scheduler"
	"jordanella.com/autopilot/pkg/templates"
)

// Env carries what behaviors may use. Tasks never see the capture source.
type Env struct {
	Recognizer  recognition.Recognizer
	Input       Input
	Logger      *logging.Logger
	TemplateDir string
	// Templates shares template images between tasks; Load creates one
	// rooted at TemplateDir when nil
	Templates *templates.Cache
}

// Condition builds the match half of a behavior from task params
type Condition func(cfg scheduler.TaskConfig, env Env) (func(ctx context.Context, frame capture.Frame) (bool, image.Point, error), error)

// conditions maps config task types to their builders
var (
	mu         sync.RWMutex
	conditions = map[string]Condition{
		"text":     newText,
		"template": newTemplate,
		"pixel":    newPixel,
		"always":   newAlways,
	}
)

// Register adds a condition type. Names are case-insensitive.
func Register(name string, c Condition) {
	mu.Lock()
	defer mu.Unlock()
	conditions[strings.ToLower(name)] = c
}

// Types returns the registered condition types, sorted
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(conditions))
	for name := range conditions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build creates the behavior for one task config
func Build(cfg scheduler.TaskConfig, env Env) (scheduler.Behavior, error) {
	env.Logger = ensureLogger(env.Logger)

	mu.RLock()
	cond, ok := conditions[strings.ToLower(cfg.Type)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s: unknown type %q", cfg.ID, cfg.Type)
	}

	match, err := cond(cfg, env)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", cfg.ID, err)
	}
	action, err := ParseAction(cfg.ParamOr("action", "log"), cfg.ID, env.Input, env.Logger)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", cfg.ID, err)
	}
	return &behavior{match: match, action: action}, nil
}

// Load builds every config and adds it to s in order
func Load(s *scheduler.Scheduler, cfgs []scheduler.TaskConfig, env Env) error {
	if env.Templates == nil {
		env.Templates = templates.NewCache(env.TemplateDir)
	}
	for _, cfg := range cfgs {
		b, err := Build(cfg, env)
		if err != nil {
			return err
		}
		if err := s.Add(cfg, b); err != nil {
			return err
		}
	}
	return nil
}

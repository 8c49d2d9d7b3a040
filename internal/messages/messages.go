// Package messages renders human-readable text for session reasons, task
// failures and hazards. Templates use {key} placeholders filled from the
// reason detail.
package messages

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/valyala/fasttemplate"

	"jordanella.com/autopilot/internal/session"
)

var english = map[string]string{
	string(session.ReasonStartRequested):    "Starting",
	string(session.ReasonProcessLaunched):   "Waiting for the game window",
	string(session.ReasonWindowFound):       "Game window found",
	string(session.ReasonFrameCaptured):     "Checking the game window",
	string(session.ReasonValidated):         "Running at {resolution}",
	string(session.ReasonWindowUnavailable): "Paused: the game window is {cause}",
	string(session.ReasonWindowRestored):    "Resumed",
	string(session.ReasonStopRequested):     "Stopped",
	string(session.ReasonTargetGone):        "Stopped: the game is no longer running",

	string(session.ReasonLaunchFailed):             "Could not start the game at {path}: {error}",
	string(session.ReasonStartTimeout):             "The game window did not become usable within {timeout}",
	string(session.ReasonPrivilegesRequired):       "Please run as administrator",
	string(session.ReasonUnsupportedCaptureMethod): "This capture method is not supported here: {error}",
	string(session.ReasonCaptureFailed):            "Screen capture failed {attempts} times in a row: {error}",

	string(session.ReasonUnsupportedResolution):  "Game resolution {resolution} is not supported, the nearest supported resolution is {nearest_supported}",
	string(session.ReasonUnsupportedAspectRatio): "Game resolution {resolution} is not supported, the supported ratio is {supported_ratios}",
	string(session.ReasonBelowMinimumSize):       "Game window {resolution} is too small, the minimum is {min_size}",

	"hazard.hdr":         "HDR is enabled, colors may not be recognized correctly",
	"hazard.night_light": "Night light is enabled, colors may not be recognized correctly",

	"task.match_failed":           "Task {task_id} could not check its condition: {error}",
	"task.action_failed":          "Task {task_id} failed: {error}",
	"task.panic":                  "Task {task_id} crashed: {error}",
	"task.retry_budget_exhausted": "Task {task_id} gave up after {attempts} attempts",
}

// causes phrase validation causes for "{cause}"
var causes = map[string]string{
	"minimized":      "minimized",
	"out_of_screen":  "off screen",
	"not_foreground": "not in the foreground",
	"empty_frame":    "blank",
}

var (
	mu    sync.RWMutex
	cache = map[string]*fasttemplate.Template{}
)

func template(key string) (*fasttemplate.Template, bool) {
	mu.RLock()
	t, ok := cache[key]
	mu.RUnlock()
	if ok {
		return t, true
	}

	text, ok := english[key]
	if !ok {
		return nil, false
	}
	t, err := fasttemplate.NewTemplate(text, "{", "}")
	if err != nil {
		return nil, false
	}
	mu.Lock()
	cache[key] = t
	mu.Unlock()
	return t, true
}

// Render fills the template for key. Unknown keys render as the key itself
// followed by the detail; missing placeholders render as "?".
func Render(key string, detail map[string]interface{}) string {
	t, ok := template(key)
	if !ok {
		if len(detail) == 0 {
			return key
		}
		return fmt.Sprintf("%s %v", key, detail)
	}
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		v, ok := detail[tag]
		if !ok || v == nil {
			return io.WriteString(w, "?")
		}
		text := format(v)
		if tag == "cause" {
			if phrase, ok := causes[text]; ok {
				text = phrase
			}
		}
		return io.WriteString(w, text)
	})
}

// Reason renders a session transition reason
func Reason(r session.Reason) string {
	return Render(string(r.Code), r.Detail)
}

// Hazard renders an environment hazard notice
func Hazard(name string) string {
	return Render("hazard."+name, nil)
}

// TaskError renders a task failure for its error code
func TaskError(taskID, code string, err error, attempts int) string {
	detail := map[string]interface{}{
		"task_id":  taskID,
		"attempts": attempts,
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	return Render("task."+code, detail)
}

// Has reports whether a template exists for key
func Has(key string) bool {
	_, ok := english[key]
	return ok
}

func format(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []interface{}:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

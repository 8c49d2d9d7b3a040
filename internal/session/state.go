package session

import "fmt"

// State is the lifecycle state of a session
type State int32

const (
	StateIdle State = iota
	StateLaunching
	StateWaitingForWindow
	StateValidating
	StateRunning
	StatePaused
	StateStopped
	StateError
)

var stateNames = map[State]string{
	StateIdle:             "Idle",
	StateLaunching:        "Launching",
	StateWaitingForWindow: "WaitingForWindow",
	StateValidating:       "Validating",
	StateRunning:          "Running",
	StatePaused:           "Paused",
	StateStopped:          "Stopped",
	StateError:            "Error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// allowed lists legal targets per state. Stopped and Error are reachable from
// every non-terminal state and are handled separately.
var allowed = map[State][]State{
	StateIdle:             {StateLaunching},
	StateLaunching:        {StateWaitingForWindow},
	StateWaitingForWindow: {StateValidating},
	StateValidating:       {StateRunning, StateWaitingForWindow},
	StateRunning:          {StatePaused},
	StatePaused:           {StateRunning},
}

// CanTransition reports whether from -> to is a legal transition
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateStopped || to == StateError {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ReasonCode is the structured cause of a transition
type ReasonCode string

const (
	ReasonStartRequested    ReasonCode = "start_requested"
	ReasonProcessLaunched   ReasonCode = "process_launched"
	ReasonWindowFound       ReasonCode = "window_found"
	ReasonFrameCaptured     ReasonCode = "frame_captured"
	ReasonValidated         ReasonCode = "validated"
	ReasonWindowUnavailable ReasonCode = "window_unavailable"
	ReasonWindowRestored    ReasonCode = "window_restored"
	ReasonStopRequested     ReasonCode = "stop_requested"
	ReasonTargetGone        ReasonCode = "target_gone"

	// Startup failures
	ReasonLaunchFailed             ReasonCode = "LaunchFailed"
	ReasonStartTimeout             ReasonCode = "StartTimeout"
	ReasonPrivilegesRequired       ReasonCode = "PrivilegesRequired"
	ReasonUnsupportedCaptureMethod ReasonCode = "UnsupportedCaptureMethod"
	ReasonCaptureFailed            ReasonCode = "CaptureFailed"

	// Blocking validation failures
	ReasonUnsupportedResolution  ReasonCode = "UnsupportedResolution"
	ReasonUnsupportedAspectRatio ReasonCode = "UnsupportedAspectRatio"
	ReasonBelowMinimumSize       ReasonCode = "BelowMinimumSize"
)

// Reason explains a transition. Detail carries structured context such as
// the found resolution or the supported specs.
type Reason struct {
	Code   ReasonCode
	Detail map[string]interface{}
}

// NewReason creates a reason with optional detail
func NewReason(code ReasonCode, detail map[string]interface{}) Reason {
	return Reason{Code: code, Detail: detail}
}

func (r Reason) String() string {
	if len(r.Detail) == 0 {
		return string(r.Code)
	}
	return fmt.Sprintf("%s %v", r.Code, r.Detail)
}

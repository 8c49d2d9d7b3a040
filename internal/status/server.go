package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/messages"
	"jordanella.com/autopilot/internal/scheduler"
	"jordanella.com/autopilot/internal/session"
	"jordanella.com/autopilot/internal/validate"
)

// Controller is the read side of the start controller
type Controller interface {
	Current() *session.Session
	Scheduler() *scheduler.Scheduler
	LastResult() validate.Result
}

// CaptureStats reports capture instrumentation, usually a *capture.Metered
type CaptureStats interface {
	Stats() capture.Stats
}

// Server serves read-only JSON status for the running session
type Server struct {
	ctrl    Controller
	capture CaptureStats
	logger  *logging.Logger
	router  *chi.Mux
}

// New creates a status server. captureStats may be nil.
func New(ctrl Controller, captureStats CaptureStats, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewLogger("Status")
	}
	s := &Server{ctrl: ctrl, capture: captureStats, logger: logger}

	r := chi.NewRouter()
	r.Use(s.recovery)
	r.Get("/session", s.handleSession)
	r.Get("/tasks", s.handleTasks)
	r.Get("/tasks/{id}", s.handleTask)
	r.Get("/stats", s.handleStats)
	s.router = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.InfoWithContext("Status server listening", map[string]interface{}{"addr": ln.Addr().String()})
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type sessionView struct {
	ID           string                 `json:"id"`
	Target       string                 `json:"target"`
	Kind         string                 `json:"kind"`
	State        string                 `json:"state"`
	Reason       string                 `json:"reason"`
	Message      string                 `json:"message"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
	Validation   string                 `json:"validation,omitempty"`
	Hazards      []string               `json:"hazards,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	ValidatedSeq *uint64                `json:"validated_seq,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.ctrl.Current()
	if sess == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	snap := sess.Snapshot()
	view := sessionView{
		ID:        snap.ID,
		Target:    snap.Target.String(),
		Kind:      string(snap.Target.Kind),
		State:     snap.State.String(),
		Reason:    string(snap.Reason.Code),
		Message:   messages.Reason(snap.Reason),
		Detail:    snap.Reason.Detail,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Validated {
		seq := snap.ValidatedSeq
		view.ValidatedSeq = &seq
	}
	if res := s.ctrl.LastResult(); res.Code != "" {
		view.Validation = res.String()
		view.Hazards = res.HazardNames()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	sched := s.ctrl.Scheduler()
	if sched == nil {
		writeJSON(w, http.StatusOK, []scheduler.TaskStatus{})
		return
	}
	writeJSON(w, http.StatusOK, sched.Snapshot())
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sched := s.ctrl.Scheduler()
	if sched == nil {
		writeError(w, http.StatusNotFound, "unknown task "+id)
		return
	}
	status, ok := sched.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task "+id)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type captureView struct {
	Captures        uint64  `json:"captures"`
	Failures        uint64  `json:"failures"`
	AvgCaptureMs    float64 `json:"avg_capture_ms"`
	LatestFrameAgeS float64 `json:"latest_frame_age_s"`
	Sequence        uint64  `json:"sequence"`
	Resolution      string  `json:"resolution,omitempty"`
}

type statsView struct {
	Scheduler *scheduler.Stats `json:"scheduler,omitempty"`
	Capture   *captureView     `json:"capture,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var view statsView
	if sched := s.ctrl.Scheduler(); sched != nil {
		st := sched.Stats()
		view.Scheduler = &st
	}
	if s.capture != nil {
		st := s.capture.Stats()
		cv := &captureView{
			Captures:        st.Captures,
			Failures:        st.Failures,
			AvgCaptureMs:    float64(st.AvgCapture) / float64(time.Millisecond),
			LatestFrameAgeS: st.LatestFrameAge.Seconds(),
			Sequence:        st.Sequence,
		}
		if st.Width > 0 {
			cv.Resolution = validate.Size{Width: st.Width, Height: st.Height}.String()
		}
		view.Capture = cv
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WarnWithContext("Panic recovered", map[string]interface{}{
					"path":  r.URL.Path,
					"panic": rec,
				})
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

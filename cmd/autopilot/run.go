package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jordanella.com/autopilot/internal/adb"
	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/config"
	"jordanella.com/autopilot/internal/controller"
	"jordanella.com/autopilot/internal/database"
	"jordanella.com/autopilot/internal/events"
	"jordanella.com/autopilot/internal/history"
	"jordanella.com/autopilot/internal/launcher"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/messages"
	"jordanella.com/autopilot/internal/recognition"
	"jordanella.com/autopilot/internal/scheduler"
	"jordanella.com/autopilot/internal/session"
	"jordanella.com/autopilot/internal/status"
	"jordanella.com/autopilot/internal/tasks"
	"jordanella.com/autopilot/internal/validate"
	"jordanella.com/autopilot/internal/winapi"
)

var (
	noTasks   bool
	eventsDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a session and run tasks until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&noTasks, "no-tasks", false, "validate and capture only, do not load tasks")
	runCmd.Flags().Bool("status", false, "serve read-only status over HTTP")
	runCmd.Flags().StringVar(&eventsDir, "events-dir", "logs", "directory for the event log")
	if err := settings.BindPFlag("status.enabled", runCmd.Flags().Lookup("status")); err != nil {
		panic(err)
	}
}

// engine holds what the subcommands share: settings, the resolved target
// and the capture backends.
type engine struct {
	settings *config.Settings
	target   capture.Target
	matrix   validate.SupportMatrix
	adbPath  string
	sources  map[capture.Kind]capture.Source
	metered  map[capture.Kind]*capture.Metered
	logger   *logging.Logger
}

func newEngine(ctx context.Context, s *config.Settings) (*engine, error) {
	logger := logging.NewLogger("Autopilot")

	target, err := s.Target()
	if err != nil {
		return nil, err
	}
	matrix, err := config.LoadSupportMatrix(s.MatrixFile)
	if err != nil {
		return nil, err
	}

	e := &engine{
		settings: s,
		target:   target,
		matrix:   matrix,
		logger:   logger,
		metered:  make(map[capture.Kind]*capture.Metered),
	}

	deps := capture.Deps{Timeout: s.CaptureTimeout()}
	if ws, err := winapi.New(); err == nil {
		deps.Windows = ws
	} else {
		logger.DebugWithContext("Window capture unavailable", map[string]interface{}{"error": err.Error()})
	}

	if path, err := adb.FindADB(s.ADBPath); err == nil {
		e.adbPath = path
		deps.DialADB = adb.Dialer(path)
	} else if target.Kind == capture.KindAdbDevice {
		return nil, fmt.Errorf("adb not found: %w", err)
	}

	if target.Kind == capture.KindAdbDevice && target.Serial == "" {
		serial, err := adb.DetectSerial(ctx, e.adbPath)
		if err != nil {
			return nil, fmt.Errorf("no device serial configured: %w", err)
		}
		e.target.Serial = serial
		logger.InfoWithContext("Using detected device", map[string]interface{}{"serial": serial})
	}

	e.sources = make(map[capture.Kind]capture.Source)
	for kind, src := range capture.NewSources(deps) {
		m := capture.NewMetered(src)
		e.sources[kind] = m
		e.metered[kind] = m
	}
	return e, nil
}

// input returns the device input channel for adb targets
func (e *engine) input() tasks.Input {
	if e.target.Kind != capture.KindAdbDevice || e.adbPath == "" {
		return nil
	}
	return adb.NewController(e.adbPath, e.target.Serial)
}

func (e *engine) recognizer() (recognition.Recognizer, error) {
	s := e.settings
	r, err := recognition.New(s.Engine, recognition.OpenAIConfig{
		BaseURL:   s.BaseURL,
		APIKey:    s.APIKey,
		Model:     s.Model,
		Prompt:    s.Prompt,
		MaxTokens: s.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	if _, none := r.(recognition.Unconfigured); none || s.CacheDistance < 0 {
		return r, nil
	}
	return recognition.NewCached(r, s.CacheDistance), nil
}

func openHistory(s *config.Settings, bus events.EventBus) (*database.DB, *history.Recorder, error) {
	db, err := database.Open(s.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	db.SetLogger(logging.NewLogger("Database"))
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, nil, err
	}
	if s.HistoryKeepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.HistoryKeepDays)
		if _, err := db.PurgeBefore(cutoff); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	rec := history.NewRecorder(db, logging.NewLogger("History"))
	rec.Attach(bus)
	return db, rec, nil
}

func runSession(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(s)
	if err != nil {
		return err
	}
	defer closeLog()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, s)
	if err != nil {
		return err
	}
	logger := e.logger

	var cfgs []scheduler.TaskConfig
	if !noTasks {
		cfgs, err = config.LoadTasks(s.TasksFile)
		if errors.Is(err, os.ErrNotExist) {
			logger.WarnWithContext("No task file, running without tasks", map[string]interface{}{"path": s.TasksFile})
		} else if err != nil {
			return err
		}
	}

	bus := events.NewEventBus(256)

	if s.LoggingEnabled {
		el, err := logging.NewEventLogger(bus, eventsDir)
		if err != nil {
			bus.Stop()
			return err
		}
		defer el.Close()
		logger.InfoWithContext("Writing events", map[string]interface{}{"path": el.Path()})
	}

	reporter := logging.NewErrorReporter()
	reporter.Attach(bus)
	defer reporter.Detach()
	reporter.OnError(logging.ErrorSeverityHigh, func(r *logging.ErrorReport) {
		if r.Code != "" {
			fmt.Fprintln(os.Stderr, messages.Render(r.Code, r.Context))
		}
	})

	if s.HistoryEnabled {
		db, rec, err := openHistory(s, bus)
		if err != nil {
			bus.Stop()
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer db.Close()
		defer rec.Detach()
	}

	recognizer, err := e.recognizer()
	if err != nil {
		bus.Stop()
		return err
	}

	sched := scheduler.New(scheduler.Options{
		DefaultRetryBudget: s.TaskRetryBudget,
		ErrorThreshold:     s.ErrorThreshold,
		TaskTimeout:        s.TaskTimeout(),
		Logger:             logging.NewLogger("Scheduler"),
		Bus:                bus,
	})
	env := tasks.Env{
		Recognizer:  recognizer,
		Input:       e.input(),
		Logger:      logging.NewLogger("Tasks"),
		TemplateDir: s.TemplateDir,
	}
	if err := tasks.Load(sched, cfgs, env); err != nil {
		bus.Stop()
		return err
	}

	ctrl := controller.New(controller.Deps{
		Sources:   e.sources,
		Validator: validate.NewValidator(e.matrix),
		Launcher:  launcher.New(logging.NewLogger("Launcher")),
		Scheduler: sched,
	}, controller.Options{
		TickInterval:       s.TickInterval(),
		StartTimeout:       s.StartTimeout(),
		CaptureRetryBudget: s.CaptureRetryBudget,
		RequireAdmin:       s.RequireAdmin,
		AutoStartTasks:     s.AutoStartTasks,
		Logger:             logging.NewLogger("Controller"),
		Bus:                bus,
	})

	if s.StatusEnabled {
		var stats status.CaptureStats
		if m, ok := e.metered[e.target.Kind]; ok {
			stats = m
		}
		srv := status.New(ctrl, stats, logging.NewLogger("Status"))
		go func() {
			if err := srv.Serve(ctx, s.StatusAddr); err != nil {
				logger.Error("Status server failed", err)
			}
		}()
	}

	sess, err := ctrl.Start(ctx, e.target)
	if err != nil {
		bus.Stop()
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		ctrl.Stop()
	case <-ctrl.Done():
	}
	bus.Stop()

	snap := sess.Snapshot()
	fmt.Printf("%s: %s\n", snap.State, messages.Reason(snap.Reason))
	if snap.State == session.StateError {
		return fmt.Errorf("session ended with %s", snap.Reason.Code)
	}
	return nil
}

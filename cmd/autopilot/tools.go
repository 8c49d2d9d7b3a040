package main

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/database"
	"jordanella.com/autopilot/internal/messages"
	"jordanella.com/autopilot/internal/session"
	"jordanella.com/autopilot/internal/validate"
)

var (
	outFile      string
	historyLimit int
	historyJSON  bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture one frame from the target and save it as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, frame, err := grabFrame(cmd.Context())
		if err != nil {
			return err
		}
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := png.Encode(f, frame.Image()); err != nil {
			return fmt.Errorf("failed to write %s: %w", outFile, err)
		}
		fmt.Printf("%s: %dx%d frame #%d saved to %s\n", e.target, frame.Width(), frame.Height(), frame.Seq, outFile)
		for _, h := range frame.Hazards() {
			fmt.Println(messages.Hazard(string(h)))
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Capture one frame and check it against the support matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, frame, err := grabFrame(cmd.Context())
		if err != nil {
			return err
		}
		res := validate.NewValidator(e.matrix).Validate(frame, e.target)
		fmt.Println(res.String())
		fmt.Println(describe(res))
		for _, h := range res.HazardNames() {
			fmt.Println(messages.Hazard(h))
		}
		if res.Blocking() {
			return fmt.Errorf("unsupported window: %s", res.Code)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show recent sessions, or one session's transitions and task events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		db, err := database.Open(s.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RunMigrations(); err != nil {
			return err
		}
		if len(args) == 1 {
			return showSession(db, args[0])
		}
		return listSessions(db)
	},
}

func init() {
	captureCmd.Flags().StringVarP(&outFile, "out", "o", "frame.png", "output file")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of sessions to list")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
}

// grabFrame opens the configured target and captures a single frame
func grabFrame(ctx context.Context) (*engine, capture.Frame, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, capture.Frame{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := newEngine(ctx, s)
	if err != nil {
		return nil, capture.Frame{}, err
	}
	src, ok := e.sources[e.target.Kind]
	if !ok {
		return nil, capture.Frame{}, fmt.Errorf("%s capture is not available on this platform", e.target.Kind)
	}

	h, err := src.Open(ctx, e.target)
	if err != nil {
		return nil, capture.Frame{}, err
	}
	defer src.Close(h)

	frame, err := src.CaptureOnce(ctx, h)
	if err != nil {
		return nil, capture.Frame{}, err
	}
	return e, frame, nil
}

// describe renders a validation result the way a session would report it
func describe(res validate.Result) string {
	switch {
	case res.OK():
		return messages.Render(string(session.ReasonValidated), res.Detail())
	case res.Transient():
		return messages.Render(string(session.ReasonWindowUnavailable), res.Detail())
	}
	return messages.Render(string(res.Code), res.Detail())
}

func listSessions(db *database.DB) error {
	sessions, err := db.RecentSessions(historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(sessions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tSTARTED\tDURATION\tSTATE\tREASON\tFIRED\tFAILED")
	for _, s := range sessions {
		state, reason := "running", ""
		if s.FinalState != nil {
			state = *s.FinalState
		}
		if s.FinalReason != nil {
			reason = *s.FinalReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.Target, s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Duration().Round(time.Second), state, reason, s.Fired, s.Failed)
	}
	return w.Flush()
}

func showSession(db *database.DB, id string) error {
	rec, err := db.GetSession(id)
	if err != nil {
		return err
	}
	transitions, err := db.Transitions(id)
	if err != nil {
		return err
	}
	taskEvents, err := db.TaskEvents(id)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(map[string]interface{}{
			"session":     rec,
			"transitions": transitions,
			"task_events": taskEvents,
		})
	}

	fmt.Printf("Session %s (%s)\n", rec.ID, rec.Target)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, t := range transitions {
		fmt.Fprintf(w, "%s\t%s -> %s\t%s\n", t.OccurredAt.Local().Format("15:04:05.000"), t.FromState, t.ToState, t.Reason)
	}
	for _, te := range taskEvents {
		detail := ""
		if te.Detail != nil {
			detail = *te.Detail
		}
		fmt.Fprintf(w, "%s\ttask %s %s\t%s\n", te.OccurredAt.Local().Format("15:04:05.000"), te.TaskID, te.Event, detail)
	}
	return w.Flush()
}

func printJSON(v interface{}) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

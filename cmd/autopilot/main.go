package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jordanella.com/autopilot/internal/config"
	"jordanella.com/autopilot/internal/logging"
)

var (
	version  = "0.1.0"
	cfgFile  string
	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Game window capture and task automation",
	Long: `autopilot captures a game window, emulator or adb device, validates the
resolution against the support matrix and runs configured tasks on every
validated frame.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("autopilot v%s\n", version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "settings.ini", "settings file")
	flags.String("method", "", "capture method: pc, emulator or adb")
	flags.String("title", "", "window title to look for")
	flags.String("process", "", "process name owning the window")
	flags.String("exe", "", "game executable to launch for pc targets")
	flags.String("window", "", "window handle in hex")
	flags.String("serial", "", "adb device serial")
	flags.String("adb", "", "path to the adb executable")
	flags.String("log-level", "", "DEBUG, INFO, WARN or ERROR")
	flags.String("log-file", "", "also write logs to this file")
	flags.String("db", "", "session history database")
	flags.String("tasks", "", "task list (YAML)")
	flags.String("matrix", "", "support matrix (YAML)")

	bind := map[string]string{
		"capture.method":       "method",
		"capture.title":        "title",
		"capture.process":      "process",
		"capture.exe":          "exe",
		"capture.window":       "window",
		"capture.serial":       "serial",
		"capture.adb":          "adb",
		"logging.level":        "log-level",
		"logging.file":         "log-file",
		"database.path":        "db",
		"files.tasks":          "tasks",
		"files.support_matrix": "matrix",
	}
	for key, name := range bind {
		if err := settings.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	settings.SetEnvPrefix("AUTOPILOT")
	settings.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	settings.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings reads the settings file, falling back to defaults when it
// does not exist, then applies flag and environment overrides.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings(cfgFile)
	if err != nil {
		if _, statErr := os.Stat(cfgFile); !errors.Is(statErr, os.ErrNotExist) {
			return nil, err
		}
		s = config.NewDefaultSettings()
	}
	if err := s.Override(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// setupLogging applies the log level and optional log file. The returned
// function closes the file.
func setupLogging(s *config.Settings) (func(), error) {
	logging.SetDefaultLevel(logging.ParseLevel(s.LogLevel))
	if s.LogFile == "" {
		return func() {}, nil
	}
	f, err := os.OpenFile(s.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.SetDefaultOutput(f)
	return func() { f.Close() }, nil
}

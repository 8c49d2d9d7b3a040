package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"jordanella.com/autopilot/internal/capture"
)

// Settings are the per-session knobs read from the settings INI file
type Settings struct {
	// [capture]
	Method      string
	WindowTitle string
	Window      uintptr
	ProcessName string
	ExePath     string
	Serial      string
	ADBPath     string
	CaptureMs   int

	// [timing]
	TickMs          int
	StartTimeoutSec int
	TaskTimeoutSec  int

	// [retry]
	CaptureRetryBudget int
	TaskRetryBudget    int
	ErrorThreshold     int

	// [session]
	RequireAdmin   bool
	AutoStartTasks bool

	// [logging]
	LogLevel       string
	LogFile        string
	LoggingEnabled bool

	// [database]
	DatabasePath    string
	HistoryEnabled  bool
	HistoryKeepDays int

	// [recognition]
	Engine        string
	BaseURL       string
	APIKey        string
	Model         string
	Prompt        string
	MaxTokens     int
	CacheDistance int

	// [status]
	StatusEnabled bool
	StatusAddr    string

	// [files]
	TasksFile   string
	MatrixFile  string
	TemplateDir string
}

// NewDefaultSettings creates settings with default values
func NewDefaultSettings() *Settings {
	return &Settings{
		Method:             "emulator",
		CaptureMs:          5000,
		TickMs:             500,
		StartTimeoutSec:    60,
		TaskTimeoutSec:     10,
		CaptureRetryBudget: 5,
		TaskRetryBudget:    100,
		ErrorThreshold:     3,
		AutoStartTasks:     true,
		LogLevel:           "INFO",
		LoggingEnabled:     true,
		DatabasePath:       "autopilot.db",
		HistoryEnabled:     true,
		HistoryKeepDays:    30,
		Engine:             "none",
		MaxTokens:          64,
		CacheDistance:      5,
		StatusAddr:         "127.0.0.1:8765",
		TasksFile:          "tasks.yaml",
		TemplateDir:        "templates",
	}
}

// LoadSettings loads settings from an INI file. Missing keys keep their defaults.
func LoadSettings(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings file: %w", err)
	}
	s := NewDefaultSettings()

	section := cfg.Section("capture")
	s.Method = section.Key("method").MustString(s.Method)
	s.WindowTitle = section.Key("windowTitle").MustString("")
	s.ProcessName = section.Key("processName").MustString("")
	s.ExePath = section.Key("exePath").MustString("")
	s.Serial = section.Key("serial").MustString("")
	s.ADBPath = section.Key("adbPath").MustString("")
	s.CaptureMs = section.Key("captureTimeoutMs").MustInt(s.CaptureMs)
	if raw := section.Key("window").MustString(""); raw != "" {
		if s.Window, err = parseHandle(raw); err != nil {
			return nil, err
		}
	}

	section = cfg.Section("timing")
	s.TickMs = section.Key("tickMs").MustInt(s.TickMs)
	s.StartTimeoutSec = section.Key("startTimeoutSec").MustInt(s.StartTimeoutSec)
	s.TaskTimeoutSec = section.Key("taskTimeoutSec").MustInt(s.TaskTimeoutSec)

	section = cfg.Section("retry")
	s.CaptureRetryBudget = section.Key("captureRetryBudget").MustInt(s.CaptureRetryBudget)
	s.TaskRetryBudget = section.Key("taskRetryBudget").MustInt(s.TaskRetryBudget)
	s.ErrorThreshold = section.Key("errorThreshold").MustInt(s.ErrorThreshold)

	section = cfg.Section("session")
	s.RequireAdmin = section.Key("requireAdmin").MustBool(false)
	s.AutoStartTasks = section.Key("autoStartTasks").MustBool(s.AutoStartTasks)

	section = cfg.Section("logging")
	s.LogLevel = section.Key("level").MustString(s.LogLevel)
	s.LogFile = section.Key("file").MustString("")
	s.LoggingEnabled = section.Key("enabled").MustBool(s.LoggingEnabled)

	section = cfg.Section("database")
	s.DatabasePath = section.Key("path").MustString(s.DatabasePath)
	s.HistoryEnabled = section.Key("history").MustBool(s.HistoryEnabled)
	s.HistoryKeepDays = section.Key("keepDays").MustInt(s.HistoryKeepDays)

	section = cfg.Section("recognition")
	s.Engine = section.Key("engine").MustString(s.Engine)
	s.BaseURL = section.Key("baseUrl").MustString("")
	s.APIKey = section.Key("apiKey").MustString("")
	s.Model = section.Key("model").MustString("")
	s.Prompt = section.Key("prompt").MustString("")
	s.MaxTokens = section.Key("maxTokens").MustInt(s.MaxTokens)
	s.CacheDistance = section.Key("cacheDistance").MustInt(s.CacheDistance)

	section = cfg.Section("status")
	s.StatusEnabled = section.Key("enabled").MustBool(false)
	s.StatusAddr = section.Key("addr").MustString(s.StatusAddr)

	section = cfg.Section("files")
	s.TasksFile = section.Key("tasks").MustString(s.TasksFile)
	s.MatrixFile = section.Key("supportMatrix").MustString("")
	s.TemplateDir = section.Key("templates").MustString(s.TemplateDir)

	return s, s.Check()
}

// SaveSettings writes settings to an INI file
func SaveSettings(s *Settings, path string) error {
	cfg := ini.Empty()

	section := cfg.Section("capture")
	section.Key("method").SetValue(s.Method)
	section.Key("windowTitle").SetValue(s.WindowTitle)
	if s.Window != 0 {
		section.Key("window").SetValue(fmt.Sprintf("0x%x", s.Window))
	}
	section.Key("processName").SetValue(s.ProcessName)
	section.Key("exePath").SetValue(s.ExePath)
	section.Key("serial").SetValue(s.Serial)
	section.Key("adbPath").SetValue(s.ADBPath)
	section.Key("captureTimeoutMs").SetValue(strconv.Itoa(s.CaptureMs))

	section = cfg.Section("timing")
	section.Key("tickMs").SetValue(strconv.Itoa(s.TickMs))
	section.Key("startTimeoutSec").SetValue(strconv.Itoa(s.StartTimeoutSec))
	section.Key("taskTimeoutSec").SetValue(strconv.Itoa(s.TaskTimeoutSec))

	section = cfg.Section("retry")
	section.Key("captureRetryBudget").SetValue(strconv.Itoa(s.CaptureRetryBudget))
	section.Key("taskRetryBudget").SetValue(strconv.Itoa(s.TaskRetryBudget))
	section.Key("errorThreshold").SetValue(strconv.Itoa(s.ErrorThreshold))

	section = cfg.Section("session")
	section.Key("requireAdmin").SetValue(strconv.FormatBool(s.RequireAdmin))
	section.Key("autoStartTasks").SetValue(strconv.FormatBool(s.AutoStartTasks))

	section = cfg.Section("logging")
	section.Key("level").SetValue(s.LogLevel)
	section.Key("file").SetValue(s.LogFile)
	section.Key("enabled").SetValue(strconv.FormatBool(s.LoggingEnabled))

	section = cfg.Section("database")
	section.Key("path").SetValue(s.DatabasePath)
	section.Key("history").SetValue(strconv.FormatBool(s.HistoryEnabled))
	section.Key("keepDays").SetValue(strconv.Itoa(s.HistoryKeepDays))

	section = cfg.Section("recognition")
	section.Key("engine").SetValue(s.Engine)
	section.Key("baseUrl").SetValue(s.BaseURL)
	section.Key("apiKey").SetValue(s.APIKey)
	section.Key("model").SetValue(s.Model)
	section.Key("prompt").SetValue(s.Prompt)
	section.Key("maxTokens").SetValue(strconv.Itoa(s.MaxTokens))
	section.Key("cacheDistance").SetValue(strconv.Itoa(s.CacheDistance))

	section = cfg.Section("status")
	section.Key("enabled").SetValue(strconv.FormatBool(s.StatusEnabled))
	section.Key("addr").SetValue(s.StatusAddr)

	section = cfg.Section("files")
	section.Key("tasks").SetValue(s.TasksFile)
	section.Key("supportMatrix").SetValue(s.MatrixFile)
	section.Key("templates").SetValue(s.TemplateDir)

	return cfg.SaveTo(path)
}

// Override applies values set on v (flags or AUTOPILOT_* variables).
// Keys use the "section.key" form, e.g. "capture.method".
func (s *Settings) Override(v *viper.Viper) error {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("capture.method", &s.Method)
	str("capture.title", &s.WindowTitle)
	str("capture.process", &s.ProcessName)
	str("capture.exe", &s.ExePath)
	str("capture.serial", &s.Serial)
	str("capture.adb", &s.ADBPath)
	num("timing.tick_ms", &s.TickMs)
	num("timing.start_timeout_sec", &s.StartTimeoutSec)
	num("retry.capture", &s.CaptureRetryBudget)
	flag("session.require_admin", &s.RequireAdmin)
	flag("session.auto_start", &s.AutoStartTasks)
	str("logging.level", &s.LogLevel)
	str("logging.file", &s.LogFile)
	str("database.path", &s.DatabasePath)
	flag("database.history", &s.HistoryEnabled)
	str("recognition.engine", &s.Engine)
	str("recognition.base_url", &s.BaseURL)
	str("recognition.api_key", &s.APIKey)
	str("recognition.model", &s.Model)
	flag("status.enabled", &s.StatusEnabled)
	str("status.addr", &s.StatusAddr)
	str("files.tasks", &s.TasksFile)
	str("files.support_matrix", &s.MatrixFile)
	str("files.templates", &s.TemplateDir)

	if v.IsSet("capture.window") {
		h, err := parseHandle(v.GetString("capture.window"))
		if err != nil {
			return err
		}
		s.Window = h
	}
	return s.Check()
}

// Check validates ranges and the capture method
func (s *Settings) Check() error {
	if _, err := capture.ParseKind(s.Method); err != nil {
		return err
	}
	switch {
	case s.TickMs <= 0:
		return fmt.Errorf("tick interval must be positive")
	case s.StartTimeoutSec <= 0:
		return fmt.Errorf("start timeout must be positive")
	case s.CaptureRetryBudget < 0 || s.TaskRetryBudget < 0:
		return fmt.Errorf("retry budgets cannot be negative")
	case s.ErrorThreshold <= 0:
		return fmt.Errorf("error threshold must be positive")
	}
	return nil
}

// Target builds the capture target described by the settings
func (s *Settings) Target() (capture.Target, error) {
	kind, err := capture.ParseKind(s.Method)
	if err != nil {
		return capture.Target{}, err
	}
	return capture.Target{
		Kind:        kind,
		Window:      s.Window,
		Title:       s.WindowTitle,
		ExePath:     s.ExePath,
		ProcessName: s.ProcessName,
		Serial:      s.Serial,
	}, nil
}

// TickInterval returns the capture loop period
func (s *Settings) TickInterval() time.Duration {
	return time.Duration(s.TickMs) * time.Millisecond
}

// StartTimeout returns how long to wait for a usable window
func (s *Settings) StartTimeout() time.Duration {
	return time.Duration(s.StartTimeoutSec) * time.Second
}

// CaptureTimeout returns the bound for a single capture
func (s *Settings) CaptureTimeout() time.Duration {
	return time.Duration(s.CaptureMs) * time.Millisecond
}

// TaskTimeout returns the bound for one task evaluation
func (s *Settings) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutSec) * time.Second
}

func parseHandle(raw string) (uintptr, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid window handle %q", raw)
	}
	return uintptr(v), nil
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/scheduler"
	"jordanella.com/autopilot/internal/validate"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(writeFile(t, "settings.ini", "[capture]\nmethod = adb\nserial = 127.0.0.1:16384\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s.TickInterval() != 500*time.Millisecond || s.StartTimeout() != time.Minute {
		t.Errorf("timing defaults = %v, %v", s.TickInterval(), s.StartTimeout())
	}
	if s.CaptureRetryBudget != 5 || s.ErrorThreshold != 3 || !s.AutoStartTasks {
		t.Errorf("defaults = %+v", s)
	}

	target, err := s.Target()
	if err != nil {
		t.Fatal(err)
	}
	if target.Kind != capture.KindAdbDevice || target.Serial != "127.0.0.1:16384" {
		t.Errorf("target = %+v", target)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := NewDefaultSettings()
	s.Method = "pc"
	s.ExePath = `C:\Games\game.exe`
	s.Window = 0x1a2b
	s.RequireAdmin = true
	s.TickMs = 250
	s.Engine = "openai"
	s.Model = "gpt-4o-mini"

	path := filepath.Join(t.TempDir(), "settings.ini")
	if err := SaveSettings(s, path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *s {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, s)
	}
}

func TestLoadSettingsRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"method": "[capture]\nmethod = vnc\n",
		"tick":   "[timing]\ntickMs = 0\n",
		"handle": "[capture]\nwindow = zz\n",
	}
	for name, content := range cases {
		if _, err := LoadSettings(writeFile(t, name+".ini", content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestOverride(t *testing.T) {
	s := NewDefaultSettings()
	v := viper.New()
	v.Set("capture.method", "pc")
	v.Set("capture.window", "0xBEEF")
	v.Set("timing.tick_ms", 100)
	v.Set("session.require_admin", true)

	if err := s.Override(v); err != nil {
		t.Fatal(err)
	}
	if s.Method != "pc" || s.Window != 0xbeef || s.TickMs != 100 || !s.RequireAdmin {
		t.Errorf("after override = %+v", s)
	}
	if s.StartTimeoutSec != 60 {
		t.Error("unset keys should keep their values")
	}

	v.Set("capture.method", "carrier-pigeon")
	if err := s.Override(v); err == nil {
		t.Error("invalid override should fail")
	}
}

const tasksYAML = `
tasks:
  - id: claim
    name: Claim reward
    enabled: true
    kind: trigger
    type: text
    fire_policy: per_frame
    params:
      - {key: text, value: Claim}
      - {key: action, value: tap}
  - id: open-menu
    enabled: false
    kind: once
    type: always
    retry_budget: 3
`

func TestParseTasks(t *testing.T) {
	cfgs, err := ParseTasks([]byte(tasksYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("got %d tasks", len(cfgs))
	}
	claim, menu := cfgs[0], cfgs[1]
	if claim.Kind != scheduler.KindTrigger || claim.FirePolicy != scheduler.FirePerFrame || claim.ParamOr("text", "") != "Claim" {
		t.Errorf("claim = %+v", claim)
	}
	if menu.Kind != scheduler.KindOneTime || menu.Name != "open-menu" || menu.Enabled || menu.RetryBudget != 3 {
		t.Errorf("menu = %+v", menu)
	}
	if menu.FirePolicy != scheduler.FirePerEvent {
		t.Errorf("default fire policy = %q", menu.FirePolicy)
	}
}

func TestParseTasksErrors(t *testing.T) {
	dup := "tasks:\n  - {id: a, kind: trigger}\n  - {id: a, kind: once}\n"
	if _, err := ParseTasks([]byte(dup)); !errors.Is(err, scheduler.ErrDuplicateTask) {
		t.Errorf("duplicate err = %v", err)
	}
	if _, err := ParseTasks([]byte("tasks:\n  - {kind: trigger}\n")); err == nil {
		t.Error("missing id should fail")
	}
	if _, err := ParseTasks([]byte("tasks: [")); err == nil {
		t.Error("bad yaml should fail")
	}
}

func TestLoadSupportMatrix(t *testing.T) {
	m, err := LoadSupportMatrix("")
	if err != nil || len(m[capture.KindAdbDevice]) != 3 {
		t.Fatalf("default matrix = %v, %v", m, err)
	}

	path := writeFile(t, "matrix.yaml", `
window:
  - ratio: "16:9"
    min_size: {width: 1600, height: 900}
adb:
  - {width: 1080, height: 1920, exact: true}
`)
	m, err = LoadSupportMatrix(path)
	if err != nil {
		t.Fatal(err)
	}
	pc := m[capture.KindProcessWindow]
	if len(pc) != 1 || pc[0].MinSize != (validate.Size{Width: 1600, Height: 900}) {
		t.Errorf("pc specs = %+v", pc)
	}
	if adb := m[capture.KindAdbDevice]; len(adb) != 1 || !adb[0].Exact {
		t.Errorf("adb specs = %+v", adb)
	}
	if _, ok := m[capture.KindEmulatorWindow]; ok {
		t.Error("emulator was not configured")
	}
}

func TestParseSupportMatrixErrors(t *testing.T) {
	cases := []string{
		"vnc:\n  - {ratio: \"4:3\"}\n",
		"pc:\n  - {ratio: \"16:9\"}\nwindow:\n  - {ratio: \"4:3\"}\n",
		"adb:\n  - {exact: true}\n",
	}
	for _, c := range cases {
		if _, err := ParseSupportMatrix([]byte(c)); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}

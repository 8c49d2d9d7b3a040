package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/scheduler"
	"jordanella.com/autopilot/internal/validate"
)

type tasksFile struct {
	Tasks []scheduler.TaskConfig `yaml:"tasks"`
}

// LoadTasks reads the ordered task list from a YAML file
func LoadTasks(path string) ([]scheduler.TaskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	return ParseTasks(data)
}

// ParseTasks decodes and normalizes a task list
func ParseTasks(data []byte) ([]scheduler.TaskConfig, error) {
	var file tasksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}

	out := make([]scheduler.TaskConfig, 0, len(file.Tasks))
	for i, cfg := range file.Tasks {
		norm, err := cfg.Normalize()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		out = append(out, norm)
	}

	dupes := lo.FindDuplicatesBy(out, func(c scheduler.TaskConfig) string { return c.ID })
	if len(dupes) > 0 {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrDuplicateTask, dupes[0].ID)
	}
	return out, nil
}

// LoadSupportMatrix reads a support matrix. An empty path returns the default.
//
//	pc:
//	  - ratio: "16:9"
//	    min_size: {width: 1280, height: 720}
//	adb:
//	  - {width: 1920, height: 1080, exact: true}
func LoadSupportMatrix(path string) (validate.SupportMatrix, error) {
	if path == "" {
		return validate.DefaultMatrix(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read support matrix: %w", err)
	}
	return ParseSupportMatrix(data)
}

// ParseSupportMatrix decodes a support matrix keyed by capture method name
func ParseSupportMatrix(data []byte) (validate.SupportMatrix, error) {
	var raw map[string][]validate.ResolutionSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse support matrix: %w", err)
	}

	names := lo.Keys(raw)
	sort.Strings(names)

	matrix := make(validate.SupportMatrix, len(raw))
	for _, name := range names {
		kind, err := capture.ParseKind(name)
		if err != nil {
			return nil, err
		}
		if _, seen := matrix[kind]; seen {
			return nil, fmt.Errorf("capture method %s listed twice", kind)
		}
		matrix[kind] = raw[name]
	}
	if err := matrix.Check(); err != nil {
		return nil, err
	}
	return matrix, nil
}

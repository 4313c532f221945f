// Package catalog holds the ordered list of maintenance task definitions.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"yumimaint/internal/domain"
)

//go:embed default.yml
var defaultCatalog []byte

type file struct {
	Tasks []entry `yaml:"tasks"`
}

type entry struct {
	Name          string   `yaml:"name"`
	Interval      Duration `yaml:"interval"`
	Message       string   `yaml:"message"`
	Prompt        string   `yaml:"prompt"`
	QRMessage     string   `yaml:"qr_message,omitempty"`
	QRCode        string   `yaml:"qr_code,omitempty"`
	Image         string   `yaml:"image,omitempty"`
	Priority      int      `yaml:"priority"`
	FirstRun      bool     `yaml:"first_run"`
	FirstRunDelay Duration `yaml:"first_run_delay,omitempty"`
}

// Default returns the built-in catalog.
func Default() []domain.Task {
	tasks, err := FromYAML(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return tasks
}

// Load reads the catalog at path, or the built-in catalog when path is empty.
func Load(path string) ([]domain.Task, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a catalog document.
func FromYAML(data []byte) ([]domain.Task, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	tasks := make([]domain.Task, 0, len(f.Tasks))
	for _, e := range f.Tasks {
		tasks = append(tasks, domain.Task{
			Name:          e.Name,
			Interval:      time.Duration(e.Interval),
			Message:       e.Message,
			Prompt:        e.Prompt,
			QRMessage:     e.QRMessage,
			QRCode:        e.QRCode,
			Image:         e.Image,
			Priority:      e.Priority,
			FirstRun:      e.FirstRun,
			FirstRunDelay: time.Duration(e.FirstRunDelay),
		})
	}
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Validate checks names are unique and durations usable.
func Validate(tasks []domain.Task) error {
	if len(tasks) == 0 {
		return errors.New("catalog has no tasks")
	}
	seen := map[string]bool{}
	for i, t := range tasks {
		if t.Name == "" {
			return fmt.Errorf("catalog task #%d has no name", i+1)
		}
		if seen[t.Name] {
			return fmt.Errorf("catalog task %s defined twice", t.Name)
		}
		seen[t.Name] = true
		if t.Interval <= 0 {
			return fmt.Errorf("catalog task %s: interval must be positive", t.Name)
		}
		if t.FirstRunDelay < 0 {
			return fmt.Errorf("catalog task %s: first_run_delay must not be negative", t.Name)
		}
		if t.Prompt == "" && t.Message == "" {
			return fmt.Errorf("catalog task %s: prompt or message is required", t.Name)
		}
	}
	return nil
}

// Encode renders tasks back to catalog YAML.
func Encode(tasks []domain.Task) ([]byte, error) {
	f := file{Tasks: make([]entry, 0, len(tasks))}
	for _, t := range tasks {
		f.Tasks = append(f.Tasks, entry{
			Name:          t.Name,
			Interval:      Duration(t.Interval),
			Message:       t.Message,
			Prompt:        t.Prompt,
			QRMessage:     t.QRMessage,
			QRCode:        t.QRCode,
			Image:         t.Image,
			Priority:      t.Priority,
			FirstRun:      t.FirstRun,
			FirstRunDelay: Duration(t.FirstRunDelay),
		})
	}
	return yaml.Marshal(f)
}

// Find returns the task named name.
func Find(tasks []domain.Task, name string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.Name == name {
			return t, true
		}
	}
	return domain.Task{}, false
}

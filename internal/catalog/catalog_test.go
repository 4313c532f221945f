package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultCatalog(t *testing.T) {
	tasks := Default()
	if len(tasks) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(tasks))
	}
	first := tasks[0]
	if first.Name != "oil_xy_axes" || first.Interval != 30*day || !first.FirstRun || first.FirstRunDelay != 90*time.Second {
		t.Fatalf("unexpected first task: %+v", first)
	}
	nozzle, ok := Find(tasks, "clean_nozzle")
	if !ok {
		t.Fatalf("clean_nozzle missing")
	}
	if nozzle.Interval != 14*day || nozzle.FirstRun || nozzle.Priority != 2 {
		t.Fatalf("unexpected clean_nozzle: %+v", nozzle)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30d":    30 * day,
		"1d12h":  36 * time.Hour,
		"336h":   336 * time.Hour,
		"90s":    90 * time.Second,
		" 2d ":   2 * day,
		"1h30m":  90 * time.Minute,
		"0d90s":  90 * time.Second,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
	for _, bad := range []string{"", "1month", "2weeks", "2w", "x d", "1.5d"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{30 * day, 36 * time.Hour, 90 * time.Second} {
		back, err := ParseDuration(FormatDuration(d))
		if err != nil || back != d {
			t.Fatalf("round trip %v: got %v, %v", d, back, err)
		}
	}
}

func TestFromYAMLValidation(t *testing.T) {
	dup := `tasks:
  - {name: a, interval: 1d, prompt: x}
  - {name: a, interval: 1d, prompt: y}
`
	if _, err := FromYAML([]byte(dup)); err == nil || !strings.Contains(err.Error(), "defined twice") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	noInterval := "tasks:\n  - {name: a, prompt: x}\n"
	if _, err := FromYAML([]byte(noInterval)); err == nil {
		t.Fatalf("expected interval error")
	}
	weeks := "tasks:\n  - {name: a, interval: 2weeks, prompt: x}\n"
	if _, err := FromYAML([]byte(weeks)); err == nil {
		t.Fatalf("expected unit error")
	}
	if _, err := FromYAML([]byte("tasks: []\n")); err == nil {
		t.Fatalf("expected empty catalog error")
	}
}

func TestLoadFileAndEncode(t *testing.T) {
	data, err := Encode(Default())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "catalog.yml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	tasks, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != len(Default()) {
		t.Fatalf("task count changed: %d", len(tasks))
	}
	for i, task := range tasks {
		if task != Default()[i] {
			t.Fatalf("task %d changed: %+v", i, task)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

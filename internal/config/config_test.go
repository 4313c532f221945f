package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Prompt.Title != "Maintenance Required" || cfg.Schedule.DueCheck != "@every 1h" || !cfg.Schedule.CheckOnReady {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Marker.Marker != "[yumi_maintenance]" {
		t.Fatalf("unexpected marker %q", cfg.Marker.Marker)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("prompt:\n  confirm_label: Done\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Prompt.ConfirmLabel != "Done" || cfg.Prompt.PostponeLabel != "Not Now" || cfg.Paths.Database == "" {
		t.Fatalf("partial yaml lost defaults: %+v", cfg.Prompt)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct{ doc, want string }{
		{"schedule:\n  due_check: every hour\n", "due_check"},
		{"logger:\n  level: loud\n", "logger.level"},
		{"paths:\n  database: \"\"\n", "database"},
		{"prompt:\n  confirm_label: Not Now\n", "must differ"},
		{"api:\n  enabled: true\n  addr: \"\"\n", "api.addr"},
		{"logger:\n  encoding: xml\n", "encoding"},
	}
	for _, tc := range cases {
		_, err := FromYAML([]byte(tc.doc))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%q: expected error containing %q, got %v", tc.doc, tc.want, err)
		}
	}
}

func TestLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "ym config init") {
		t.Fatalf("expected missing config hint, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("optional load: %v %v", cfg, err)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Resolve(dir)
	if cfg.Paths.Database != filepath.Join(dir, "database", "yumi_maintenance.db") {
		t.Fatalf("database path %q", cfg.Paths.Database)
	}
	if cfg.Paths.Catalog != "" {
		t.Fatalf("empty catalog path must stay empty, got %q", cfg.Paths.Catalog)
	}
	cfg.Paths.LogFile = "/var/log/m.log"
	cfg.Resolve(dir)
	if cfg.Paths.LogFile != "/var/log/m.log" {
		t.Fatalf("absolute path rewritten: %q", cfg.Paths.LogFile)
	}
}

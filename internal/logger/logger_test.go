package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"yumimaint/internal/config"
)

func TestNewWritesToOutputPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	log, err := New(config.LoggerConfig{Level: "debug", Encoding: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debugw("timer armed", "task", "oil_xy_axes")
	_ = log.Sync()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"task":"oil_xy_axes"`) || !strings.Contains(string(data), `"level":"DEBUG"`) {
		t.Fatalf("unexpected log output %s", data)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	log, err := New(config.LoggerConfig{Level: "loud", Encoding: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hidden")
	log.Info("shown")
	_ = log.Sync()
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Fatalf("unexpected output %s", data)
	}
}

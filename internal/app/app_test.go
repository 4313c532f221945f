package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"yumimaint/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Schedule.DueCheck = ""
	cfg.Resolve(dir)
	return cfg
}

func TestOpenInitializesHistory(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(context.Background(), cfg, nil, IO{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	states, err := a.Repo.ListStates(context.Background())
	if err != nil {
		t.Fatalf("list states: %v", err)
	}
	if len(states) != len(a.Tasks) || len(states) == 0 {
		t.Fatalf("expected %d states, got %d", len(a.Tasks), len(states))
	}
	data, err := os.ReadFile(cfg.Paths.LogFile)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "=== Module initialized at") {
		t.Fatalf("audit log missing init entry:\n%s", data)
	}
}

func TestOpenFailsOnBadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.Catalog = filepath.Join(t.TempDir(), "missing.yml")
	if _, err := Open(context.Background(), cfg, nil, IO{}); err == nil {
		t.Fatalf("expected error for missing catalog")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, b *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(b.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q:\n%s", want, b.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunKeepsHostAliveAfterConsoleEOF(t *testing.T) {
	cfg := testConfig(t)
	prompts := &syncBuffer{}
	a, err := Open(context.Background(), cfg, nil, IO{Prompt: prompts})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	in := strings.NewReader("MAINTENANCE_SHOW TASK=clean_nozzle\nMAINTENANCE_POSTPONE TASK=clean_nozzle\n")
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, in, out) }()

	waitFor(t, out, "// Maintenance clean_nozzle postponed.")
	for _, want := range []string{"// action:prompt_begin Maintenance Required", "// action:prompt_show", "// action:prompt_end"} {
		if !strings.Contains(prompts.String(), want) {
			t.Fatalf("prompt stream missing %q:\n%s", want, prompts.String())
		}
	}

	select {
	case err := <-done:
		t.Fatalf("host stopped after console EOF: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	armed := false
	for _, key := range a.Reactor.Pending() {
		if key == "oil_xy_axes" {
			armed = true
		}
	}
	if !armed {
		t.Fatalf("first-run reminder should stay armed, pending=%v", a.Reactor.Pending())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestOpenNoAuditLeavesLogUntouched(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(context.Background(), cfg, nil, IO{NoAudit: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if _, err := os.Stat(cfg.Paths.LogFile); !os.IsNotExist(err) {
		t.Fatalf("audit log should not exist, stat err=%v", err)
	}
}

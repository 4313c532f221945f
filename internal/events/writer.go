// Package events writes the maintenance audit trail: an append-only text file
// with one timestamped entry per line.
package events

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const TimeLayout = "2006-01-02 15:04:05"

type Writer struct {
	Path string
	Now  func() time.Time
	// Echo, when set, also receives every entry (the firmware console).
	Echo io.Writer
	Log  *zap.SugaredLogger

	mu sync.Mutex
}

type Entry struct {
	TS      string `json:"ts"`
	Message string `json:"message"`
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Writer) logger() *zap.SugaredLogger {
	if w.Log != nil {
		return w.Log
	}
	return zap.NewNop().Sugar()
}

// Append writes one entry. Write failures are reported to the operational log
// and otherwise dropped; callers never see them.
func (w *Writer) Append(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	msg = strings.ReplaceAll(strings.TrimRight(msg, "\n"), "\n", " | ")
	line := fmt.Sprintf("[%s] %s\n", w.now().Format(TimeLayout), msg)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Echo != nil {
		_, _ = io.WriteString(w.Echo, line)
	}
	if w.Path == "" {
		return
	}
	if err := w.write(line); err != nil {
		w.logger().Warnw("audit log write failed", "path", w.Path, "error", err)
	}
}

func (w *Writer) write(line string) error {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Tail returns the last n entries of the audit log at path, oldest first.
// A missing file yields no entries.
func Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	if n <= 0 {
		n = 20
	}
	ring := make([]Entry, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, parseLine(line))
	}
	return ring, scanner.Err()
}

func parseLine(line string) Entry {
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "] "); end > 0 {
			return Entry{TS: line[1:end], Message: line[end+2:]}
		}
	}
	return Entry{Message: line}
}

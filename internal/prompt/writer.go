package prompt

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives outbound prompt commands.
type Sink interface {
	Emit(cmds ...Command) error
}

// Writer writes commands as firmware console action lines ("// action:prompt_show").
type Writer struct {
	mu sync.Mutex
	W  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{W: w}
}

func (w *Writer) Emit(cmds ...Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range cmds {
		if _, err := fmt.Fprintf(w.W, "// action:%s\n", c.Encode()); err != nil {
			return err
		}
	}
	return nil
}

// Tee forwards every command to each sink in order and returns the first error.
type Tee []Sink

func (t Tee) Emit(cmds ...Command) error {
	var first error
	for _, s := range t {
		if err := s.Emit(cmds...); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Package host connects the firmware console to the maintenance engine.
package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"yumimaint/internal/engine"
	"yumimaint/internal/gcode"
	"yumimaint/internal/reactor"
)

// Response is the acknowledgement written back to the console.
type Response struct {
	Text  string `json:"text"`
	Error bool   `json:"error"`
}

// Dispatch runs a decoded command against the engine. It must be called from the
// reactor loop.
func Dispatch(ctx context.Context, e *engine.Engine, cmd gcode.Command) Response {
	switch cmd.Action {
	case gcode.ActionPostpone:
		ack, err := e.Postpone(cmd.Task)
		return ackOrError(ack, err, "postpone")
	case gcode.ActionConfirm:
		ack, err := e.Confirm(ctx, cmd.Task)
		return ackOrError(ack, err, "confirm")
	case gcode.ActionStatus:
		return Response{Text: e.StatusReport()}
	case gcode.ActionReset:
		ack, err := e.Reset(ctx)
		return ackOrError(ack, err, "reset")
	case gcode.ActionCheck:
		n := e.CheckDue()
		return Response{Text: fmt.Sprintf("Maintenance check: %d task(s) due", n)}
	case gcode.ActionShow:
		if err := e.Show(cmd.Task); err != nil {
			return ackOrError("", err, "show")
		}
		return Response{Text: "Maintenance " + cmd.Task + " requested."}
	default:
		return Response{Text: "Unknown command: " + cmd.Verb, Error: true}
	}
}

func ackOrError(ack string, err error, op string) Response {
	switch {
	case err == nil:
		return Response{Text: ack}
	case errors.Is(err, engine.ErrNotActive):
		return Response{Text: "No active prompt for this task"}
	case errors.Is(err, engine.ErrUnknownTask):
		return Response{Text: "Unknown maintenance task", Error: true}
	default:
		return Response{Text: fmt.Sprintf("Maintenance %s failed: %v", op, err), Error: true}
	}
}

// Console reads command lines and writes acknowledgements in firmware console
// form: "// " for information, "!! " for errors.
type Console struct {
	Engine  *engine.Engine
	Reactor *reactor.Reactor
	Out     io.Writer
	Log     *zap.SugaredLogger

	mu sync.Mutex
}

func (c *Console) log() *zap.SugaredLogger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop().Sugar()
}

// Execute parses line and runs it on the reactor.
func (c *Console) Execute(ctx context.Context, line string) (Response, error) {
	cmd, err := gcode.Parse(line)
	if err != nil {
		c.log().Debugw("ignoring console line", "line", line, "error", err)
		if errors.Is(err, gcode.ErrUnknownCommand) {
			return Response{Text: "Unknown command: " + cmd.Verb, Error: true}, nil
		}
		return Response{Text: err.Error(), Error: true}, nil
	}
	var resp Response
	if err := c.Reactor.Call(ctx, func() { resp = Dispatch(ctx, c.Engine, cmd) }); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// MaxLineBytes bounds one console line. Longer lines are dropped.
const MaxLineBytes = 64 * 1024

// Serve executes every line from r until EOF or a read error.
func (c *Console) Serve(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, tooLong, err := readLine(br, MaxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case tooLong:
			c.log().Warnw("dropping oversized console line", "limit", MaxLineBytes)
			c.Respond(Response{Text: "Command line too long", Error: true})
		case line == "", strings.HasPrefix(line, "#"), strings.HasPrefix(line, ";"):
		default:
			resp, execErr := c.Execute(ctx, line)
			if execErr != nil {
				return execErr
			}
			c.Respond(resp)
		}
		if err != nil {
			return nil
		}
	}
}

// readLine returns the next line without its terminator. A line longer than limit
// is consumed in full and reported with tooLong set.
func readLine(br *bufio.Reader, limit int) (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return string(buf), tooLong, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > limit {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

// Respond writes resp to Out.
func (c *Console) Respond(resp Response) {
	if c.Out == nil {
		return
	}
	prefix := "// "
	if resp.Error {
		prefix = "!! "
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range strings.Split(resp.Text, "\n") {
		fmt.Fprintln(c.Out, prefix+line)
	}
}

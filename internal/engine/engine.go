// Package engine implements the maintenance scheduler: due-date bookkeeping, the
// one-prompt-at-a-time display queue and the operator command handlers.
//
// An Engine is not safe for concurrent use. The host delivers timer and command
// callbacks one at a time (see the reactor package).
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yumimaint/internal/catalog"
	"yumimaint/internal/domain"
	"yumimaint/internal/events"
	"yumimaint/internal/gcode"
	"yumimaint/internal/prompt"
	"yumimaint/internal/repo"
)

// Timers arms one-shot callbacks keyed by name.
type Timers interface {
	Schedule(key string, at time.Time, fn func(key string))
}

type Options struct {
	Title         string
	PostponeLabel string
	ConfirmLabel  string
	TimeFormat    string
	Location      *time.Location
}

func DefaultOptions() Options {
	return Options{
		Title:         "Maintenance Required",
		PostponeLabel: "Not Now",
		ConfirmLabel:  "Confirm",
		TimeFormat:    events.TimeLayout,
		Location:      time.Local,
	}
}

type Engine struct {
	Repo    repo.Repo
	Events  *events.Writer
	UI      prompt.Sink
	Timers  Timers
	Log     *zap.SugaredLogger
	Now     func() time.Time
	Options Options

	tasks    []domain.Task
	states   map[string]domain.TaskState
	active   map[string]struct{}
	showing  bool
	pending  []domain.Task
	promptID string
	// firstRun is the timer table: task name -> task whose one-time reminder is armed.
	firstRun map[string]domain.Task
}

func New(r repo.Repo, tasks []domain.Task, opts Options) *Engine {
	return &Engine{
		Repo:     r,
		Options:  opts,
		Now:      time.Now,
		tasks:    append([]domain.Task(nil), tasks...),
		states:   map[string]domain.TaskState{},
		active:   map[string]struct{}{},
		firstRun: map[string]domain.Task{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() *zap.SugaredLogger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop().Sugar()
}

func (e *Engine) audit(format string, args ...any) {
	if e.Events != nil {
		e.Events.Append(format, args...)
	}
}

func (e *Engine) emit(cmds ...prompt.Command) {
	if e.UI == nil {
		return
	}
	if err := e.UI.Emit(cmds...); err != nil {
		e.log().Warnw("prompt output failed", "error", err)
	}
}

func (e *Engine) fmtTime(t time.Time) string {
	layout := e.Options.TimeFormat
	if layout == "" {
		layout = events.TimeLayout
	}
	loc := e.Options.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(layout)
}

// Init merges the catalog with persisted state. Tasks seen for the first time get a
// fresh state due one interval from now; existing states are kept as stored.
// Any store failure is returned as a *StoreError and should abort startup.
func (e *Engine) Init(ctx context.Context) error {
	stored, err := e.Repo.ListStates(ctx)
	if err != nil {
		return storeErr("load maintenance history", err)
	}
	now := e.now()
	states := make(map[string]domain.TaskState, len(e.tasks))
	for _, t := range e.tasks {
		st, ok := stored[t.Name]
		if ok && !st.NextCheck.IsZero() {
			states[t.Name] = st
			e.audit("Loaded history - %s: last done %s, next due %s", t.Name, e.fmtLastDone(st.LastDone, "never"), e.fmtTime(st.NextCheck))
			continue
		}
		if ok {
			st.NextCheck = now.Add(t.Interval)
		} else {
			st = domain.NewState(t, now)
		}
		if err := e.Repo.UpsertState(ctx, t.Name, st); err != nil {
			return storeErr("register task "+t.Name, err)
		}
		states[t.Name] = st
		e.audit("New task registered - %s: first due %s", t.Name, e.fmtTime(st.NextCheck))
	}
	e.states = states
	e.active = map[string]struct{}{}
	e.pending = nil
	e.showing = false
	e.promptID = ""
	e.audit("=== Module initialized at %s ===", e.fmtTime(now))
	return nil
}

// OnReady arms the one-time delayed reminder of every first-run task that has not
// been satisfied yet.
func (e *Engine) OnReady() {
	if e.Timers == nil {
		e.log().Warn("no timer source; first-run reminders disabled")
		return
	}
	now := e.now()
	for _, t := range e.tasks {
		if !t.FirstRun || e.states[t.Name].FirstDone {
			continue
		}
		e.firstRun[t.Name] = t
		e.Timers.Schedule(t.Name, now.Add(t.FirstRunDelay), e.fireFirstRun)
		e.audit("Task '%s' scheduled in %.0f seconds", t.Name, t.FirstRunDelay.Seconds())
	}
}

func (e *Engine) fireFirstRun(name string) {
	t, ok := e.firstRun[name]
	if !ok {
		return
	}
	delete(e.firstRun, name)
	if e.states[name].FirstDone {
		e.log().Debugw("first-run reminder already satisfied", "task", name)
		return
	}
	if e.isActive(name) || e.isPending(name) {
		e.log().Debugw("first-run reminder already on screen or queued", "task", name)
		return
	}
	e.requestDisplay(t)
}

// Show requests display of the named task's prompt.
func (e *Engine) Show(name string) error {
	t, ok := e.task(name)
	if !ok {
		return ErrUnknownTask
	}
	e.requestDisplay(t)
	return nil
}

// CheckDue requests display of every due task that is not already on screen or
// queued, in catalog order. It returns the number of requests made.
func (e *Engine) CheckDue() int {
	now := e.now()
	n := 0
	for _, t := range e.tasks {
		if !e.states[t.Name].Due(now) || e.isActive(t.Name) || e.isPending(t.Name) {
			continue
		}
		e.requestDisplay(t)
		n++
	}
	return n
}

func (e *Engine) requestDisplay(t domain.Task) {
	if e.isActive(t.Name) || e.showing {
		e.pending = append(e.pending, t)
		e.audit("Task queued: %s", t.Name)
		return
	}
	e.active[t.Name] = struct{}{}
	e.showing = true
	e.promptID = uuid.NewString()
	e.audit("Displaying maintenance prompt: %s (prompt %s)", t.Name, e.promptID)
	e.emit(e.promptCommands(t)...)
}

func (e *Engine) promptCommands(t domain.Task) []prompt.Command {
	text := t.Prompt
	if text == "" {
		text = t.Message
	}
	cmds := []prompt.Command{
		prompt.Begin(e.Options.Title),
		prompt.Text(text),
	}
	if t.Image != "" {
		cmds = append(cmds, prompt.Image(t.Image))
	}
	if t.QRCode != "" {
		if t.QRMessage != "" {
			cmds = append(cmds, prompt.Text(t.QRMessage))
		}
		cmds = append(cmds, prompt.QRCode(t.QRCode))
	}
	return append(cmds,
		prompt.FooterButton(e.Options.PostponeLabel, gcode.Callback(gcode.VerbPostpone, t.Name)),
		prompt.FooterButton(e.Options.ConfirmLabel, gcode.Callback(gcode.VerbConfirm, t.Name)),
		prompt.CloseOnClick(),
		prompt.Show(),
	)
}

func (e *Engine) advanceQueue() {
	e.showing = false
	e.promptID = ""
	if len(e.pending) == 0 {
		return
	}
	next := e.pending[0]
	e.pending = e.pending[1:]
	e.requestDisplay(next)
}

// Postpone closes the named prompt without touching its due date.
func (e *Engine) Postpone(name string) (string, error) {
	if !e.isActive(name) {
		e.audit("POSTPONE ATTEMPT FAILED - No active prompt for: %s", name)
		return "", ErrNotActive
	}
	delete(e.active, name)
	e.emit(prompt.End())
	e.audit("MAINTENANCE POSTPONED - Task: %s, Reason: User selected 'Postpone'", name)
	e.advanceQueue()
	return "Maintenance " + name + " postponed.", nil
}

// Confirm records completion of the named task. On a store failure the prompt
// stays open and nothing changes in memory.
func (e *Engine) Confirm(ctx context.Context, name string) (string, error) {
	if !e.isActive(name) {
		e.audit("CONFIRM ATTEMPT FAILED - No active prompt for: %s", name)
		return "", ErrNotActive
	}
	t, ok := e.task(name)
	if !ok {
		return "", ErrUnknownTask
	}
	now := e.now()
	prev := e.states[name]
	next := domain.TaskState{LastDone: &now, NextCheck: now.Add(t.Interval), FirstDone: true}
	if err := e.Repo.UpsertState(ctx, name, next); err != nil {
		e.audit("CONFIRM FAILED - Task: %s, Error: %v", name, err)
		return "", storeErr("save "+name, err)
	}
	delete(e.active, name)
	e.states[name] = next
	e.audit("MAINTENANCE CONFIRMED - Task: %s\nCompletion date: %s\nPrevious completion: %s\nNext due: %s",
		name, e.fmtTime(now), e.fmtLastDone(prev.LastDone, "First completion"), e.fmtTime(next.NextCheck))
	e.emit(prompt.End())
	e.advanceQueue()
	return "Maintenance " + name + " confirmed.", nil
}

// Reset wipes all history and starts every task over from now. If the store cannot
// be rewritten the in-memory state, queue included, is left as it was.
func (e *Engine) Reset(ctx context.Context) (string, error) {
	now := e.now()
	fresh := make(map[string]domain.TaskState, len(e.tasks))
	for _, t := range e.tasks {
		fresh[t.Name] = domain.NewState(t, now)
	}
	if err := e.Repo.ReplaceAll(ctx, fresh); err != nil {
		e.audit("RESET FAILED: %v", err)
		return "", storeErr("reset", err)
	}
	wasShowing := e.showing
	e.active = map[string]struct{}{}
	e.pending = nil
	e.showing = false
	e.promptID = ""
	e.states = fresh
	if wasShowing {
		e.emit(prompt.End())
	}
	e.audit("MAINTENANCE SYSTEM RESET - All history cleared")
	return "Maintenance system reset complete. All history cleared.", nil
}

// Status reports every task ordered by priority. It does not change any state.
func (e *Engine) Status() domain.Status {
	now := e.now()
	ordered := append([]domain.Task(nil), e.tasks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	out := domain.Status{GeneratedAt: now, Tasks: make([]domain.StatusEntry, 0, len(ordered))}
	for _, t := range ordered {
		st := e.states[t.Name]
		out.Tasks = append(out.Tasks, domain.StatusEntry{
			Name:      t.Name,
			Message:   t.Message,
			Priority:  t.Priority,
			Due:       st.Due(now),
			LastDone:  st.LastDone,
			NextCheck: st.NextCheck,
			FirstDone: st.FirstDone,
		})
	}
	return out
}

// StatusReport renders Status as console text and records it in the audit log.
func (e *Engine) StatusReport() string {
	report := e.FormatStatus(e.Status())
	e.audit("STATUS REQUESTED:\n%s", report)
	return report
}

func (e *Engine) FormatStatus(s domain.Status) string {
	out := "Maintenance status:"
	for _, t := range s.Tasks {
		state := "Up to date"
		if t.Due {
			state = "Required"
		}
		last := "never done"
		if t.LastDone != nil {
			last = "last done: " + e.fmtTime(*t.LastDone)
		}
		out += "\n" + t.Name + ": " + state + " (" + last + ", next due: " + e.fmtTime(t.NextCheck) + ")"
	}
	return out
}

func (e *Engine) fmtLastDone(t *time.Time, none string) string {
	if t == nil {
		return none
	}
	return e.fmtTime(*t)
}

// Snapshot copies the prompt queue state.
func (e *Engine) Snapshot() domain.Snapshot {
	s := domain.Snapshot{Showing: e.showing, PromptID: e.promptID, Active: []string{}, Pending: []string{}}
	for name := range e.active {
		s.Active = append(s.Active, name)
	}
	sort.Strings(s.Active)
	for _, t := range e.pending {
		s.Pending = append(s.Pending, t.Name)
	}
	return s
}

// State returns the in-memory state of a task.
func (e *Engine) State(name string) (domain.TaskState, bool) {
	st, ok := e.states[name]
	return st, ok
}

func (e *Engine) Tasks() []domain.Task {
	return append([]domain.Task(nil), e.tasks...)
}

func (e *Engine) task(name string) (domain.Task, bool) {
	return catalog.Find(e.tasks, name)
}

func (e *Engine) isActive(name string) bool {
	_, ok := e.active[name]
	return ok
}

func (e *Engine) isPending(name string) bool {
	for _, t := range e.pending {
		if t.Name == name {
			return true
		}
	}
	return false
}

// IsNotActive reports whether err is ErrNotActive.
func IsNotActive(err error) bool { return errors.Is(err, ErrNotActive) }

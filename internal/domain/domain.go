package domain

import "time"

// Task is a catalog entry. Only the runtime state in TaskState changes.
type Task struct {
	Name          string        `json:"name"`
	Interval      time.Duration `json:"interval"`
	Message       string        `json:"message"`
	Prompt        string        `json:"prompt"`
	QRMessage     string        `json:"qr_message,omitempty"`
	QRCode        string        `json:"qr_code,omitempty"`
	Image         string        `json:"image,omitempty"`
	Priority      int           `json:"priority"`
	FirstRun      bool          `json:"first_run"`
	FirstRunDelay time.Duration `json:"first_run_delay,omitempty"`
}

// TaskState is the persisted bookkeeping for one task, keyed by task name.
type TaskState struct {
	LastDone  *time.Time `json:"last_done,omitempty" format:"date-time"`
	NextCheck time.Time  `json:"next_check" format:"date-time"`
	FirstDone bool       `json:"first_done"`
}

// Due reports whether the task should be performed at now.
func (s TaskState) Due(now time.Time) bool {
	return !now.Before(s.NextCheck)
}

// NewState returns the state for a task that has never been done.
func NewState(t Task, now time.Time) TaskState {
	return TaskState{NextCheck: now.Add(t.Interval)}
}

type StatusEntry struct {
	Name      string     `json:"name"`
	Message   string     `json:"message"`
	Priority  int        `json:"priority"`
	Due       bool       `json:"due"`
	LastDone  *time.Time `json:"last_done,omitempty" format:"date-time"`
	NextCheck time.Time  `json:"next_check" format:"date-time"`
	FirstDone bool       `json:"first_done"`
}

type Status struct {
	GeneratedAt time.Time     `json:"generated_at" format:"date-time"`
	Tasks       []StatusEntry `json:"tasks"`
}

// Snapshot is a read-only copy of the prompt queue state.
type Snapshot struct {
	Active   []string `json:"active"`
	Showing  bool     `json:"showing"`
	Pending  []string `json:"pending"`
	PromptID string   `json:"prompt_id,omitempty"`
}

package server

import (
	"time"

	"yumimaint/internal/catalog"
	"yumimaint/internal/domain"
	"yumimaint/internal/engine"
	"yumimaint/internal/events"
	"yumimaint/internal/prompt"
)

// Response payloads

type AckResponse struct {
	Message string `json:"message" example:"Maintenance clean_nozzle confirmed."`
}

type CheckResponse struct {
	Requested int `json:"requested"`
}

type TaskStatusResponse struct {
	Name      string     `json:"name"`
	Message   string     `json:"message"`
	Priority  int        `json:"priority"`
	Interval  string     `json:"interval" example:"14d"`
	Due       bool       `json:"due"`
	LastDone  *time.Time `json:"last_done,omitempty" format:"date-time"`
	NextCheck time.Time  `json:"next_check" format:"date-time"`
	FirstDone bool       `json:"first_done"`
}

type StatusResponse struct {
	GeneratedAt time.Time            `json:"generated_at" format:"date-time"`
	Tasks       []TaskStatusResponse `json:"tasks"`
	Queue       domain.Snapshot      `json:"queue"`
}

type PromptResponse struct {
	Queue domain.Snapshot `json:"queue"`
	View  *prompt.View    `json:"view,omitempty"`
}

type LogResponse struct {
	Items []events.Entry `json:"items"`
}

func statusResponse(e *engine.Engine) StatusResponse {
	s := e.Status()
	intervals := map[string]time.Duration{}
	for _, t := range e.Tasks() {
		intervals[t.Name] = t.Interval
	}
	resp := StatusResponse{
		GeneratedAt: s.GeneratedAt,
		Tasks:       make([]TaskStatusResponse, 0, len(s.Tasks)),
		Queue:       e.Snapshot(),
	}
	for _, t := range s.Tasks {
		resp.Tasks = append(resp.Tasks, TaskStatusResponse{
			Name:      t.Name,
			Message:   t.Message,
			Priority:  t.Priority,
			Interval:  catalog.FormatDuration(intervals[t.Name]),
			Due:       t.Due,
			LastDone:  t.LastDone,
			NextCheck: t.NextCheck,
			FirstDone: t.FirstDone,
		})
	}
	return resp
}

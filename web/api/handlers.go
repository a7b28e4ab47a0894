package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// StatusResponse summarizes the queue
type StatusResponse struct {
	Pending int      `json:"pending"`
	Running int      `json:"running"`
	Active  []string `json:"active_tasks"`
}

// TaskResponse is one queue entry joined with its task snapshot
type TaskResponse struct {
	TaskID       string    `json:"task_id"`
	Title        string    `json:"title"`
	Kind         string    `json:"kind"`
	Priority     string    `json:"priority"`
	Status       string    `json:"status"`
	Attempt      int       `json:"attempt"`
	NextEligible time.Time `json:"next_eligible_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// TaskDetailResponse adds the attempt history to a task
type TaskDetailResponse struct {
	Task     *domain.Task         `json:"task"`
	History  []*artifact.Artifact `json:"history"`
	InQueue  bool                 `json:"in_queue"`
	Status   string               `json:"status,omitempty"`
	Attempt  int                  `json:"attempt,omitempty"`
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, running, err := s.store.Counts()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		active := []string{}
		if s.canceller != nil {
			active = s.canceller.Running()
		}
		writeJSON(w, StatusResponse{Pending: pending, Running: running, Active: active})
	}
}

func (s *Server) listTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.store.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		tasks := make([]TaskResponse, 0, len(entries))
		for _, e := range entries {
			resp := TaskResponse{
				TaskID:       e.TaskID,
				Priority:     string(e.Priority),
				Status:       string(e.Status),
				Attempt:      e.Attempt,
				NextEligible: e.NextEligible,
				CreatedAt:    e.CreatedAt,
			}
			if task, err := s.store.GetTask(e.TaskID); err == nil {
				resp.Title = task.Title
				resp.Kind = string(task.Kind)
			}
			tasks = append(tasks, resp)
		}
		writeJSON(w, tasks)
	}
}

// taskHandler serves /api/tasks/{id} and /api/tasks/{id}/cancel
func (s *Server) taskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		if rest == "" {
			writeError(w, http.StatusNotFound, "missing task id")
			return
		}

		if id, ok := strings.CutSuffix(rest, "/cancel"); ok {
			s.cancelTask(w, r, id)
			return
		}
		s.getTask(w, r, rest)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, id string) {
	detail := TaskDetailResponse{}

	task, err := s.store.GetTask(id)
	if err == nil {
		detail.Task = task
		detail.InQueue = true
	}

	history, err := s.history.List(id)
	if err == nil {
		detail.History = history
	}

	if detail.Task == nil && len(detail.History) == 0 {
		writeError(w, http.StatusNotFound, "unknown task "+id)
		return
	}
	// For archived tasks the snapshot lives in the last artifact
	if detail.Task == nil {
		last := detail.History[len(detail.History)-1]
		detail.Task = last.Task
		detail.Status = string(last.Status)
		detail.Attempt = last.Result.Attempt
	}
	writeJSON(w, detail)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.canceller == nil {
		writeError(w, http.StatusServiceUnavailable, "cancellation not available")
		return
	}
	if err := s.canceller.Cancel(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"task_id": id, "result": "cancelled"})
}

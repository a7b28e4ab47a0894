// Package api exposes a small read-mostly HTTP surface over the
// orchestrator: queue status, per-task detail with attempt history,
// cancellation, and a websocket stream of lifecycle events.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/queue"
)

// QueueView is the read/cancel surface the server needs from the queue
type QueueView interface {
	List() ([]*queue.Entry, error)
	GetTask(taskID string) (*domain.Task, error)
	Counts() (pending, running int, err error)
}

// History loads recorded artifacts for a task
type History interface {
	List(taskID string) ([]*artifact.Artifact, error)
}

// Canceller stops queued or running tasks
type Canceller interface {
	Cancel(taskID string) error
	Running() []string
}

// Server is the HTTP API server
type Server struct {
	store     QueueView
	history   History
	canceller Canceller
	addr      string
	mux       *http.ServeMux
	hub       *Hub
}

// NewServer creates a new API server
func NewServer(store QueueView, history History, canceller Canceller, addr string) *Server {
	s := &Server{
		store:     store,
		history:   history,
		canceller: canceller,
		addr:      addr,
		mux:       http.NewServeMux(),
		hub:       NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/tasks", s.listTasksHandler())
	s.mux.HandleFunc("/api/tasks/", s.taskHandler())
	s.mux.HandleFunc("/api/events", s.hub.Handler())
}

// Start runs the HTTP server until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.hub.Close()
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Broadcast pushes one lifecycle event to all websocket clients
func (s *Server) Broadcast(ev domain.Event) {
	s.hub.Broadcast(ev)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

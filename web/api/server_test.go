package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/queue"
)

type mockStore struct {
	entries []*queue.Entry
	tasks   map[string]*domain.Task
}

func (m *mockStore) List() ([]*queue.Entry, error) { return m.entries, nil }

func (m *mockStore) GetTask(taskID string) (*domain.Task, error) {
	if t, ok := m.tasks[taskID]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("no snapshot for %s", taskID)
}

func (m *mockStore) Counts() (int, int, error) {
	pending, running := 0, 0
	for _, e := range m.entries {
		if e.Status == domain.StatusRunning {
			running++
		} else {
			pending++
		}
	}
	return pending, running, nil
}

type mockHistory struct {
	artifacts map[string][]*artifact.Artifact
}

func (m *mockHistory) List(taskID string) ([]*artifact.Artifact, error) {
	return m.artifacts[taskID], nil
}

type mockCanceller struct {
	cancelled []string
	running   []string
	fail      bool
}

func (m *mockCanceller) Cancel(taskID string) error {
	if m.fail {
		return fmt.Errorf("no pending entry for %s", taskID)
	}
	m.cancelled = append(m.cancelled, taskID)
	return nil
}

func (m *mockCanceller) Running() []string { return m.running }

func testStore() *mockStore {
	return &mockStore{
		entries: []*queue.Entry{
			{TaskID: "task_a1b2c3d4", Attempt: 0, Status: domain.StatusQueued, Priority: domain.PriorityHigh, CreatedAt: time.Now()},
			{TaskID: "task_b2c3d4e5", Attempt: 1, Status: domain.StatusRunning, Priority: domain.PriorityNormal, CreatedAt: time.Now()},
		},
		tasks: map[string]*domain.Task{
			"task_a1b2c3d4": {ID: "task_a1b2c3d4", Kind: domain.KindFix, Title: "Fix the widget"},
			"task_b2c3d4e5": {ID: "task_b2c3d4e5", Kind: domain.KindCodeReview, Title: "Review the gadget"},
		},
	}
}

func TestStatusHandler(t *testing.T) {
	canceller := &mockCanceller{running: []string{"task_b2c3d4e5"}}
	server := NewServer(testStore(), &mockHistory{}, canceller, ":0")

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Pending != 1 || status.Running != 1 {
		t.Errorf("counts = %+v, want 1 pending 1 running", status)
	}
	if len(status.Active) != 1 || status.Active[0] != "task_b2c3d4e5" {
		t.Errorf("active = %v", status.Active)
	}
}

func TestListTasksHandler(t *testing.T) {
	server := NewServer(testStore(), &mockHistory{}, nil, ":0")

	req := httptest.NewRequest("GET", "/api/tasks", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	var tasks []TaskResponse
	if err := json.NewDecoder(w.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("task count = %d, want 2", len(tasks))
	}
	if tasks[0].Title != "Fix the widget" || tasks[0].Kind != "fix" {
		t.Errorf("tasks[0] = %+v, snapshot fields missing", tasks[0])
	}
}

func TestGetTaskHandler(t *testing.T) {
	hist := &mockHistory{artifacts: map[string][]*artifact.Artifact{
		"task_a1b2c3d4": {{
			SchemaVersion: artifact.SchemaVersion,
			Status:        domain.StatusRetrying,
			Task:          &domain.Task{ID: "task_a1b2c3d4"},
			Result:        &domain.ExecutionResult{TaskID: "task_a1b2c3d4", Attempt: 0},
		}},
	}}
	server := NewServer(testStore(), hist, nil, ":0")

	req := httptest.NewRequest("GET", "/api/tasks/task_a1b2c3d4", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var detail TaskDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if !detail.InQueue || detail.Task == nil || detail.Task.Title != "Fix the widget" {
		t.Errorf("detail = %+v", detail)
	}
	if len(detail.History) != 1 {
		t.Errorf("history length = %d, want 1", len(detail.History))
	}
}

func TestGetTaskArchivedOnly(t *testing.T) {
	// Task no longer queued; only artifacts remain.
	hist := &mockHistory{artifacts: map[string][]*artifact.Artifact{
		"task_gone1": {{
			Status: domain.StatusSucceeded,
			Task:   &domain.Task{ID: "task_gone1", Title: "Old work"},
			Result: &domain.ExecutionResult{TaskID: "task_gone1", Attempt: 2},
		}},
	}}
	server := NewServer(&mockStore{tasks: map[string]*domain.Task{}}, hist, nil, ":0")

	req := httptest.NewRequest("GET", "/api/tasks/task_gone1", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var detail TaskDetailResponse
	json.NewDecoder(w.Body).Decode(&detail)
	if detail.InQueue {
		t.Error("archived task should not be marked in queue")
	}
	if detail.Task == nil || detail.Task.Title != "Old work" || detail.Status != "succeeded" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestGetTaskUnknown(t *testing.T) {
	server := NewServer(&mockStore{tasks: map[string]*domain.Task{}}, &mockHistory{}, nil, ":0")

	req := httptest.NewRequest("GET", "/api/tasks/task_nope", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCancelHandler(t *testing.T) {
	canceller := &mockCanceller{}
	server := NewServer(testStore(), &mockHistory{}, canceller, ":0")

	req := httptest.NewRequest("POST", "/api/tasks/task_a1b2c3d4/cancel", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != "task_a1b2c3d4" {
		t.Errorf("cancelled = %v", canceller.cancelled)
	}
}

func TestCancelHandlerRequiresPost(t *testing.T) {
	server := NewServer(testStore(), &mockHistory{}, &mockCanceller{}, ":0")

	req := httptest.NewRequest("GET", "/api/tasks/task_a1b2c3d4/cancel", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestCancelHandlerConflict(t *testing.T) {
	server := NewServer(testStore(), &mockHistory{}, &mockCanceller{fail: true}, ":0")

	req := httptest.NewRequest("POST", "/api/tasks/task_a1b2c3d4/cancel", nil)
	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ts := httptest.NewServer(hub.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}

	hub.Broadcast(domain.NewEvent(domain.EventQueued, "task_a1b2c3d4", 0, nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != domain.EventQueued || ev.TaskID != "task_a1b2c3d4" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ts := httptest.NewServer(hub.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d, want 0 after close", hub.ClientCount())
	}
}

func TestHubDropsStalledClients(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ts := httptest.NewServer(hub.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}

	// Put the client into the state it reaches once it stops draining:
	// a send buffer with no free capacity and no writer taking from it.
	hub.mu.Lock()
	for c, send := range hub.clients {
		close(send)
		hub.clients[c] = make(chan domain.Event)
	}
	hub.mu.Unlock()

	done := make(chan struct{})
	go func() {
		hub.Broadcast(domain.NewEvent(domain.EventQueued, "task_a1b2c3d4", 0, nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a stalled client")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d, want 0 after overflow", hub.ClientCount())
	}
}

// Package orchestration owns in-process task state for the async ETL
// runs: submit a job, get back a task id, poll its status.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned when polling an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Status is the lifecycle state of a task.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Task is one asynchronous ETL run.
type Task struct {
	ID        string    `json:"task_id"`
	Job       string    `json:"job"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// JobFunc runs one ETL job to completion. The progress callback
// replaces the task's message; the final error decides the terminal
// status.
type JobFunc func(ctx context.Context, progress func(string)) error

// Manager owns the in-memory task registry. Tasks live for the process
// lifetime; a restart forgets them.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]Task
	log   *slog.Logger
}

// NewManager creates an empty task registry.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{tasks: make(map[string]Task), log: log}
}

// Submit registers a new task and runs the job on its own goroutine.
// It returns immediately with the task id.
func (m *Manager) Submit(job string, fn JobFunc) string {
	id := uuid.NewString()
	m.put(Task{
		ID:        id,
		Job:       job,
		Status:    StatusInProgress,
		StartedAt: time.Now().UTC(),
	})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.finish(id, StatusError, fmt.Sprintf("panic: %v", r))
				m.log.Error("job panicked", "job", job, "task_id", id, "panic", r)
			}
		}()

		progress := func(msg string) {
			m.update(id, func(t *Task) { t.Message = msg })
		}

		if err := fn(context.Background(), progress); err != nil {
			m.finish(id, StatusError, err.Error())
			m.log.Error("job failed", "job", job, "task_id", id, "error", err)
			return
		}
		m.finish(id, StatusCompleted, "")
		m.log.Info("job completed", "job", job, "task_id", id)
	}()

	return id
}

// Status returns a copy of the task's current state.
func (m *Manager) Status(id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (m *Manager) put(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
}

func (m *Manager) update(id string, fn func(*Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	fn(&t)
	m.tasks[id] = t
}

func (m *Manager) finish(id string, status Status, message string) {
	m.update(id, func(t *Task) {
		t.Status = status
		if message != "" {
			t.Message = message
		}
		t.EndedAt = time.Now().UTC()
	})
}

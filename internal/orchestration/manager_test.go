package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForTerminal(t *testing.T, m *Manager, id string) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := m.Status(id)
		require.NoError(t, err)
		if task.Status != StatusInProgress {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return Task{}
}

func TestSubmitReturnsImmediately(t *testing.T) {
	m := NewManager(nil)
	release := make(chan struct{})

	id := m.Submit("employees", func(ctx context.Context, progress func(string)) error {
		<-release
		return nil
	})
	require.NotEmpty(t, id)

	task, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, task.Status)
	assert.Equal(t, "employees", task.Job)

	close(release)
	task = waitForTerminal(t, m, id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.False(t, task.EndedAt.IsZero())
}

func TestFailedJobRecordsError(t *testing.T) {
	m := NewManager(nil)
	id := m.Submit("projects", func(ctx context.Context, progress func(string)) error {
		return errors.New("warehouse is down")
	})

	task := waitForTerminal(t, m, id)
	assert.Equal(t, StatusError, task.Status)
	assert.Equal(t, "warehouse is down", task.Message)
}

func TestPanickingJobRecordsError(t *testing.T) {
	m := NewManager(nil)
	id := m.Submit("time_entries", func(ctx context.Context, progress func(string)) error {
		panic("boom")
	})

	task := waitForTerminal(t, m, id)
	assert.Equal(t, StatusError, task.Status)
	assert.Contains(t, task.Message, "boom")
}

func TestProgressUpdatesMessage(t *testing.T) {
	m := NewManager(nil)
	reported := make(chan struct{})
	release := make(chan struct{})

	id := m.Submit("worked_hours", func(ctx context.Context, progress func(string)) error {
		progress("fetching page 3")
		close(reported)
		<-release
		return nil
	})

	<-reported
	task, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, "fetching page 3", task.Message)
	close(release)
	waitForTerminal(t, m, id)
}

func TestStatusUnknownTask(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Status("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

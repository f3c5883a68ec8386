package automation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampd/internal/store"
)

func cronAutomation(name string) *Automation {
	return &Automation{
		ProjectID: "proj-1",
		Name:      name,
		Message:   "do the thing",
		Schedule:  ScheduleConfig{TriggerCron, "0 9 * * *"},
		Enabled:   true,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	s := NewStore(t.TempDir())
	a := cronAutomation("morning")
	require.NoError(t, s.Create(a))
	require.NotEmpty(t, a.ID)

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "morning", got.Name)
	assert.Equal(t, TriggerCron, got.Schedule.Type)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStoreNameUniquePerProject(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Create(cronAutomation("daily")))

	err := s.Create(cronAutomation("daily"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	// Same name in another project is fine.
	other := cronAutomation("daily")
	other.ProjectID = "proj-2"
	assert.NoError(t, s.Create(other))
}

func TestStoreRejectsBadSchedule(t *testing.T) {
	s := NewStore(t.TempDir())
	a := cronAutomation("broken")
	a.Schedule = ScheduleConfig{TriggerInterval, "0s"}
	assert.ErrorIs(t, s.Create(a), store.ErrInvalid)
}

func TestStoreListFiltersByProject(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Create(cronAutomation("b-second")))
	require.NoError(t, s.Create(cronAutomation("a-first")))
	other := cronAutomation("elsewhere")
	other.ProjectID = "proj-2"
	require.NoError(t, s.Create(other))

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := s.List("proj-1")
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, "a-first", scoped[0].Name)
	assert.Equal(t, "b-second", scoped[1].Name)
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore(t.TempDir())
	a := cronAutomation("mutable")
	require.NoError(t, s.Create(a))

	a.Message = "updated message"
	a.Schedule = ScheduleConfig{TriggerInterval, "5m"}
	require.NoError(t, s.Update(a))

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated message", got.Message)
	assert.Equal(t, TriggerInterval, got.Schedule.Type)

	ghost := cronAutomation("ghost")
	ghost.ID = "nope"
	assert.ErrorIs(t, s.Update(ghost), store.ErrNotFound)
}

func TestStoreDeleteRemovesHistoryTransactionally(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	a := cronAutomation("doomed")
	require.NoError(t, s.Create(a))
	require.NoError(t, s.RecordExecution(&ExecutionRecord{
		AutomationID: a.ID,
		SessionID:    "auto_x",
		Status:       StatusSuccess,
	}))

	require.NoError(t, s.Delete(a.ID))

	_, err := s.Get(a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, statErr := os.Stat(filepath.Join(dir, "executions", a.ID+".jsonl"))
	assert.True(t, os.IsNotExist(statErr))

	assert.ErrorIs(t, s.Delete(a.ID), store.ErrNotFound)
}

func TestRecordExecutionUpdatesAutomation(t *testing.T) {
	s := NewStore(t.TempDir())
	a := cronAutomation("tracked")
	require.NoError(t, s.Create(a))

	require.NoError(t, s.RecordExecution(&ExecutionRecord{
		AutomationID: a.ID,
		SessionID:    "auto_1",
		Status:       StatusSuccess,
	}))
	require.NoError(t, s.RecordExecution(&ExecutionRecord{
		AutomationID: a.ID,
		SessionID:    "auto_2",
		Status:       StatusFailed,
		Error:        "provider down",
	}))

	records, err := s.Executions(a.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "auto_1", records[0].SessionID)
	assert.Equal(t, StatusFailed, records[1].Status)
	assert.Equal(t, "provider down", records[1].Error)

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastExecution)
	require.NotNil(t, got.NextExecution)
	assert.True(t, got.NextExecution.After(*got.LastExecution))
}

func TestExecutionsEmptyHistory(t *testing.T) {
	s := NewStore(t.TempDir())
	a := cronAutomation("quiet")
	require.NoError(t, s.Create(a))

	records, err := s.Executions(a.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSetEnabled(t *testing.T) {
	s := NewStore(t.TempDir())
	a := cronAutomation("toggle")
	require.NoError(t, s.Create(a))

	got, err := s.SetEnabled(a.ID, false)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	got, err = s.Get(a.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

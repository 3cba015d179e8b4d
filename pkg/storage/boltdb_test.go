package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmedic/flowmedic/pkg/types"
)

func newTestStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

// TestScheduleStateRoundTrip tests schedule state persistence
func TestScheduleStateRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	state := &types.WorkflowScheduleState{
		ProjectCode:        1,
		DefinitionCode:     100,
		WorkflowName:       "daily-load",
		CronExpression:     "0 0 2 * * ?",
		Status:             types.PeriodSucceeded,
		CurrentPeriodStart: time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutScheduleState(state))

	states, err := store.ListScheduleStates()
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "daily-load", states[0].WorkflowName)
	assert.Equal(t, types.PeriodSucceeded, states[0].Status)
	assert.True(t, states[0].CurrentPeriodStart.Equal(state.CurrentPeriodStart))
}

// TestRecoveryRecordLifecycle tests put, list, delete and delete-all
func TestRecoveryRecordLifecycle(t *testing.T) {
	store, _ := newTestStore(t)

	record := &types.RecoveryRecord{InstanceID: 42, WorkflowName: "daily-load", ProjectCode: 1}
	record.AddAttempt(time.Now(), true, "submitted")
	require.NoError(t, store.PutRecoveryRecord(record))
	require.NoError(t, store.PutRecoveryRecord(&types.RecoveryRecord{InstanceID: 43}))

	records, err := store.ListRecoveryRecords()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, store.DeleteRecoveryRecord(42))
	records, err = store.ListRecoveryRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(43), records[0].InstanceID)

	require.NoError(t, store.DeleteAllRecoveryRecords())
	records, err = store.ListRecoveryRecords()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestNotificationRecordRoundTrip tests notification history persistence
func TestNotificationRecordRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	record := &types.NotificationRecord{
		ProjectCode:    1,
		DefinitionCode: 100,
		WorkflowName:   "daily-load",
		Times:          []time.Time{time.Now().UTC()},
	}
	require.NoError(t, store.PutNotificationRecord(record))

	records, err := store.ListNotificationRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Times, 1)

	require.NoError(t, store.DeleteAllNotificationRecords())
	records, err = store.ListNotificationRecords()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestReopenKeepsData tests that a reopened store sees prior writes
func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.PutRecoveryRecord(&types.RecoveryRecord{InstanceID: 42}))
	require.NoError(t, store.Close())

	reopened, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.ListRecoveryRecords()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestCorruptDatabaseRecovers tests that an unreadable file is set aside
// and the store opens empty
func TestCorruptDatabaseRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, dbFileName)
	require.NoError(t, os.WriteFile(path, []byte("not a bolt database"), 0o600))

	store, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	records, err := store.ListRecoveryRecords()
	require.NoError(t, err)
	assert.Empty(t, records)

	_, statErr := os.Stat(path + ".corrupt")
	assert.NoError(t, statErr)
}

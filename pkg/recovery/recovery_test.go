package recovery

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmedic/flowmedic/pkg/config"
	"github.com/flowmedic/flowmedic/pkg/types"
	"github.com/flowmedic/flowmedic/pkg/validator"
)

// fakeAPI returns canned task data and counts recovery submissions.
type fakeAPI struct {
	tasks      []types.TaskInstance
	executions int
	executeOK  bool
	executeErr error
}

func (f *fakeAPI) ListProjects(ctx context.Context) ([]types.Project, error) { return nil, nil }

func (f *fakeAPI) ListDefinitions(ctx context.Context, projectCode int64) ([]types.WorkflowDefinition, error) {
	return nil, nil
}

func (f *fakeAPI) ListSchedules(ctx context.Context, projectCode int64) ([]types.ScheduleDefinition, error) {
	return nil, nil
}

func (f *fakeAPI) ListInstances(ctx context.Context, projectCode, definitionCode int64, stateFilter string) ([]types.WorkflowInstance, error) {
	return nil, nil
}

func (f *fakeAPI) ListFailedInstances(ctx context.Context, projectCode int64) ([]types.WorkflowInstance, error) {
	return nil, nil
}

func (f *fakeAPI) ListTasks(ctx context.Context, projectCode, instanceID int64) ([]types.TaskInstance, error) {
	return f.tasks, nil
}

func (f *fakeAPI) GetSubWorkflowInstance(ctx context.Context, projectCode, taskID int64) (*types.WorkflowInstance, error) {
	return nil, nil
}

func (f *fakeAPI) ExecuteRecovery(ctx context.Context, projectCode, instanceID int64) (bool, error) {
	f.executions++
	return f.executeOK, f.executeErr
}

func (f *fakeAPI) CheckConnection(ctx context.Context) error { return nil }

type memStore struct {
	records map[int64]*types.RecoveryRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[int64]*types.RecoveryRecord)}
}

func (m *memStore) PutRecoveryRecord(record *types.RecoveryRecord) error {
	snapshot := *record
	m.records[record.InstanceID] = &snapshot
	return nil
}

func (m *memStore) ListRecoveryRecords() ([]*types.RecoveryRecord, error) {
	out := make([]*types.RecoveryRecord, 0, len(m.records))
	for _, record := range m.records {
		snapshot := *record
		out = append(out, &snapshot)
	}
	return out, nil
}

func (m *memStore) DeleteRecoveryRecord(instanceID int64) error {
	delete(m.records, instanceID)
	return nil
}

func (m *memStore) DeleteAllRecoveryRecords() error {
	m.records = make(map[int64]*types.RecoveryRecord)
	return nil
}

func eligibleAPI() *fakeAPI {
	return &fakeAPI{
		tasks: []types.TaskInstance{
			{ID: 11, Name: "extract", State: types.StateFailure, RetryTimes: 2, MaxRetries: 2},
		},
		executeOK: true,
	}
}

func failedInstance() types.WorkflowInstance {
	return types.WorkflowInstance{ID: 42, Name: "daily-load", State: types.StateFailure}
}

func newTestHandler(api *fakeAPI, store Store, maxAttempts int, autoRecover bool) *Handler {
	val := validator.New(api, config.ValidationFullInspection, zerolog.Nop())
	return New(api, val, store, maxAttempts, autoRecover, zerolog.Nop())
}

// TestProcessSubmitsEligible tests the happy path
func TestProcessSubmitsEligible(t *testing.T) {
	api := eligibleAPI()
	h := newTestHandler(api, newMemStore(), 3, true)

	result := h.Process(context.Background(), 1, failedInstance())
	assert.True(t, result.Executed)
	assert.Equal(t, 1, result.AttemptCount)
	assert.Equal(t, 1, api.executions)
}

// TestProcessAttemptBudget tests that the fourth attempt is refused and the
// stored count stays at the ceiling
func TestProcessAttemptBudget(t *testing.T) {
	api := eligibleAPI()
	h := newTestHandler(api, newMemStore(), 3, true)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result := h.Process(ctx, 1, failedInstance())
		assert.True(t, result.Executed, "attempt %d", i)
		assert.Equal(t, i, result.AttemptCount)
	}

	result := h.Process(ctx, 1, failedInstance())
	assert.False(t, result.Executed)
	assert.Contains(t, result.Reason, "limit reached")
	assert.Equal(t, 3, result.AttemptCount)
	assert.Equal(t, 3, api.executions)

	record, ok := h.GetRecord(42)
	require.True(t, ok)
	assert.Equal(t, 3, record.AttemptCount)
	assert.Len(t, record.History, 3)
}

// TestProcessNotEligibleConsumesNoBudget tests that validation rejections
// leave the budget untouched
func TestProcessNotEligibleConsumesNoBudget(t *testing.T) {
	api := eligibleAPI()
	api.tasks = []types.TaskInstance{
		{ID: 11, Name: "extract", State: types.StateRunning},
	}
	h := newTestHandler(api, newMemStore(), 3, true)

	result := h.Process(context.Background(), 1, failedInstance())
	assert.False(t, result.Executed)
	assert.Zero(t, result.AttemptCount)
	assert.Zero(t, api.executions)
}

// TestProcessFailedSubmissionConsumesBudget tests that a transport failure
// still spends one attempt
func TestProcessFailedSubmissionConsumesBudget(t *testing.T) {
	api := eligibleAPI()
	api.executeOK = false
	api.executeErr = assert.AnError
	h := newTestHandler(api, newMemStore(), 3, true)

	result := h.Process(context.Background(), 1, failedInstance())
	assert.False(t, result.Executed)
	assert.True(t, result.Attempted)
	assert.Equal(t, 1, result.AttemptCount)

	record, ok := h.GetRecord(42)
	require.True(t, ok)
	require.Len(t, record.History, 1)
	assert.False(t, record.History[0].Success)
}

// TestProcessAutoRecoveryDisabled tests that eligibility without execution
// reports the disabled state
func TestProcessAutoRecoveryDisabled(t *testing.T) {
	api := eligibleAPI()
	h := newTestHandler(api, newMemStore(), 3, false)

	result := h.Process(context.Background(), 1, failedInstance())
	assert.False(t, result.Executed)
	assert.Contains(t, result.Reason, "disabled")
	assert.Zero(t, api.executions)
}

// TestForceSkipsValidation tests that the operator override submits without
// eligibility but honors the budget
func TestForceSkipsValidation(t *testing.T) {
	api := eligibleAPI()
	api.tasks = []types.TaskInstance{
		{ID: 11, Name: "extract", State: types.StateRunning},
	}
	h := newTestHandler(api, newMemStore(), 1, true)
	ctx := context.Background()

	result := h.Force(ctx, 1, failedInstance())
	assert.True(t, result.Executed)

	result = h.Force(ctx, 1, failedInstance())
	assert.False(t, result.Executed)
	assert.Contains(t, result.Reason, "limit reached")
}

// TestClearRecordResetsBudget tests operator record clearing
func TestClearRecordResetsBudget(t *testing.T) {
	api := eligibleAPI()
	store := newMemStore()
	h := newTestHandler(api, store, 1, true)
	ctx := context.Background()

	h.Process(ctx, 1, failedInstance())
	assert.False(t, h.Process(ctx, 1, failedInstance()).Executed)

	assert.True(t, h.ClearRecord(42))
	assert.False(t, h.ClearRecord(42))
	assert.Empty(t, store.records)

	result := h.Process(ctx, 1, failedInstance())
	assert.True(t, result.Executed)
	assert.Equal(t, 1, result.AttemptCount)
}

// TestPersistenceRoundTrip tests that a restarted handler still honors a
// spent budget
func TestPersistenceRoundTrip(t *testing.T) {
	api := eligibleAPI()
	store := newMemStore()
	h := newTestHandler(api, store, 1, true)
	h.Process(context.Background(), 1, failedInstance())

	reloaded := newTestHandler(api, store, 1, true)
	result := reloaded.Process(context.Background(), 1, failedInstance())
	assert.False(t, result.Executed)
	assert.Contains(t, result.Reason, "limit reached")
}

// TestGetStatistics tests the aggregate dump
func TestGetStatistics(t *testing.T) {
	api := eligibleAPI()
	h := newTestHandler(api, newMemStore(), 2, true)
	ctx := context.Background()

	h.Process(ctx, 1, failedInstance())
	h.Process(ctx, 1, failedInstance())
	h.Process(ctx, 1, types.WorkflowInstance{ID: 43, Name: "other", State: types.StateFailure})

	stats := h.GetStatistics()
	assert.Equal(t, 2, stats.TotalWorkflows)
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 1, stats.ExhaustedBudget)
	assert.False(t, stats.LastAttemptTimes[42].IsZero())
}

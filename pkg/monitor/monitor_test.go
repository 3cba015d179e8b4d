package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmedic/flowmedic/pkg/config"
	"github.com/flowmedic/flowmedic/pkg/notify"
	"github.com/flowmedic/flowmedic/pkg/recovery"
	"github.com/flowmedic/flowmedic/pkg/tracker"
	"github.com/flowmedic/flowmedic/pkg/types"
	"github.com/flowmedic/flowmedic/pkg/validator"
)

type fakeAPI struct {
	projects    []types.Project
	definitions []types.WorkflowDefinition
	schedules   []types.ScheduleDefinition
	failed      []types.WorkflowInstance
	instances   []types.WorkflowInstance
	tasks       map[int64][]types.TaskInstance
	executions  []int64
	executeErr  error
}

func (f *fakeAPI) ListProjects(ctx context.Context) ([]types.Project, error) {
	return f.projects, nil
}

func (f *fakeAPI) ListDefinitions(ctx context.Context, projectCode int64) ([]types.WorkflowDefinition, error) {
	return f.definitions, nil
}

func (f *fakeAPI) ListSchedules(ctx context.Context, projectCode int64) ([]types.ScheduleDefinition, error) {
	return f.schedules, nil
}

func (f *fakeAPI) ListInstances(ctx context.Context, projectCode, definitionCode int64, stateFilter string) ([]types.WorkflowInstance, error) {
	return f.instances, nil
}

func (f *fakeAPI) ListFailedInstances(ctx context.Context, projectCode int64) ([]types.WorkflowInstance, error) {
	return f.failed, nil
}

func (f *fakeAPI) ListTasks(ctx context.Context, projectCode, instanceID int64) ([]types.TaskInstance, error) {
	return f.tasks[instanceID], nil
}

func (f *fakeAPI) GetSubWorkflowInstance(ctx context.Context, projectCode, taskID int64) (*types.WorkflowInstance, error) {
	return nil, nil
}

func (f *fakeAPI) ExecuteRecovery(ctx context.Context, projectCode, instanceID int64) (bool, error) {
	f.executions = append(f.executions, instanceID)
	if f.executeErr != nil {
		return false, f.executeErr
	}
	return true, nil
}

func (f *fakeAPI) CheckConnection(ctx context.Context) error { return nil }

// Reference instant inside the execution window of "0 0 2 * * ?".
var testNow = time.Date(2026, 3, 10, 3, 0, 0, 0, time.Local)

func testConfig(threshold int) *config.Config {
	cfg := config.Default()
	cfg.Monitor.MaxFailuresForRecovery = threshold
	cfg.Monitor.TimeWindowHours = 24
	cfg.Projects = []config.ProjectConfig{{Name: "etl", MonitorAll: true}}
	return cfg
}

func exhaustedTasks() []types.TaskInstance {
	return []types.TaskInstance{
		{ID: 11, Name: "extract", State: types.StateFailure, RetryTimes: 2, MaxRetries: 2},
	}
}

func failedAt(id int64, defCode int64, start time.Time) types.WorkflowInstance {
	return types.WorkflowInstance{
		ID: id, Name: "daily-load", DefinitionCode: defCode,
		State: types.StateFailure, StartTime: start,
	}
}

func newTestMonitor(cfg *config.Config, api *fakeAPI) (*Monitor, *tracker.Tracker) {
	logger := zerolog.Nop()
	clock := func() time.Time { return testNow }

	val := validator.New(api, config.ValidationFullInspection, logger)
	trk := tracker.New(nil, cfg.Schedule.ExecutionWindowHours, cfg.Schedule.SuccessCooldownMinutes,
		logger, tracker.WithClock(clock))
	rec := recovery.New(api, val, nil, cfg.Retry.MaxRecoveryAttempts, cfg.Retry.AutoRecovery, logger,
		recovery.WithClock(clock))
	limiter := notify.NewRateLimiter(nil, cfg.Notification.RateLimit.TimeWindowHours,
		cfg.Notification.RateLimit.MaxNotifications, logger, notify.WithClock(clock))
	ntf := notify.NewManager(cfg.Notification, limiter, logger)

	mon := New(cfg, api, trk, rec, ntf, logger,
		WithClock(clock),
		WithSleeper(func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }))
	return mon, trk
}

func baseAPI() *fakeAPI {
	return &fakeAPI{
		projects:    []types.Project{{Code: 1, Name: "etl"}},
		definitions: []types.WorkflowDefinition{{Code: 100, Name: "daily-load", ProjectCode: 1}},
		schedules: []types.ScheduleDefinition{
			{DefinitionCode: 100, Crontab: "0 0 2 * * ?", ReleaseState: "ONLINE"},
		},
		tasks: make(map[int64][]types.TaskInstance),
	}
}

// TestTickRecoversUnderThreshold tests that a single recent failure goes
// through validation and recovery
func TestTickRecoversUnderThreshold(t *testing.T) {
	api := baseAPI()
	api.failed = []types.WorkflowInstance{failedAt(42, 100, testNow.Add(-time.Hour))}
	api.tasks[42] = exhaustedTasks()

	mon, trk := newTestMonitor(testConfig(1), api)
	summary := mon.RunOnce(context.Background())

	assert.Equal(t, 1, summary.Recovered)
	assert.Equal(t, []int64{42}, api.executions)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, ActionRecovered, summary.Outcomes[0].Action)

	state, ok := trk.GetState(1, 100)
	require.True(t, ok)
	assert.Equal(t, types.PeriodRecovered, state.Status)
}

// TestTickNotifiesOverThreshold tests that a definition with more failures
// than the threshold is never recovered, only notified
func TestTickNotifiesOverThreshold(t *testing.T) {
	api := baseAPI()
	api.failed = []types.WorkflowInstance{
		failedAt(41, 100, testNow.Add(-3*time.Hour)),
		failedAt(42, 100, testNow.Add(-2*time.Hour)),
		failedAt(43, 100, testNow.Add(-time.Hour)),
	}

	mon, trk := newTestMonitor(testConfig(1), api)
	summary := mon.RunOnce(context.Background())

	assert.Empty(t, api.executions)
	assert.Zero(t, summary.Recovered)
	require.Len(t, summary.Outcomes, 3)
	for _, outcome := range summary.Outcomes {
		assert.Equal(t, ActionNotified, outcome.Action)
		assert.Contains(t, outcome.Reason, "exceed threshold")
	}

	state, ok := trk.GetState(1, 100)
	require.True(t, ok)
	assert.Equal(t, types.PeriodFailed, state.Status)
}

// TestTickRecencyFilter tests that stale failures outside the time window
// are ignored
func TestTickRecencyFilter(t *testing.T) {
	api := baseAPI()
	api.failed = []types.WorkflowInstance{failedAt(42, 100, testNow.Add(-48*time.Hour))}

	mon, _ := newTestMonitor(testConfig(1), api)
	summary := mon.RunOnce(context.Background())

	assert.Empty(t, api.executions)
	assert.Zero(t, summary.FailedFound)
	assert.Empty(t, summary.Outcomes)
}

// TestTickTrackerGateSkips tests that a workflow already succeeded this
// period produces no API processing on the next tick
func TestTickTrackerGateSkips(t *testing.T) {
	api := baseAPI()
	api.instances = []types.WorkflowInstance{
		{ID: 42, DefinitionCode: 100, State: types.StateSuccess},
	}

	mon, trk := newTestMonitor(testConfig(1), api)

	summary := mon.RunOnce(context.Background())
	assert.Equal(t, 1, summary.WorkflowsChecked)

	state, ok := trk.GetState(1, 100)
	require.True(t, ok)
	assert.Equal(t, types.PeriodSucceeded, state.Status)

	summary = mon.RunOnce(context.Background())
	assert.Zero(t, summary.WorkflowsChecked)
	assert.Equal(t, 1, summary.WorkflowsSkipped)
}

// TestTickIneligibleNotRecovered tests that running tasks keep an instance
// out of recovery
func TestTickIneligibleNotRecovered(t *testing.T) {
	api := baseAPI()
	api.failed = []types.WorkflowInstance{failedAt(42, 100, testNow.Add(-time.Hour))}
	api.tasks[42] = []types.TaskInstance{
		{ID: 11, Name: "extract", State: types.StateRunning},
	}

	mon, _ := newTestMonitor(testConfig(1), api)
	summary := mon.RunOnce(context.Background())

	assert.Empty(t, api.executions)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, ActionNotEligible, summary.Outcomes[0].Action)
}

// TestTickSubmissionFailure tests that a failed recovery submission is
// reported as an error outcome and the period marked failed
func TestTickSubmissionFailure(t *testing.T) {
	api := baseAPI()
	api.failed = []types.WorkflowInstance{failedAt(42, 100, testNow.Add(-time.Hour))}
	api.tasks[42] = exhaustedTasks()
	api.executeErr = assert.AnError

	mon, trk := newTestMonitor(testConfig(1), api)
	summary := mon.RunOnce(context.Background())

	assert.Zero(t, summary.Recovered)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, ActionError, summary.Outcomes[0].Action)
	assert.Contains(t, summary.Outcomes[0].Reason, "submission failed")

	state, ok := trk.GetState(1, 100)
	require.True(t, ok)
	assert.Equal(t, types.PeriodFailed, state.Status)
}

// TestTickStopsOnCancel tests cooperative cancellation between iterations
func TestTickStopsOnCancel(t *testing.T) {
	api := baseAPI()
	mon, _ := newTestMonitor(testConfig(1), api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := mon.RunOnce(ctx)
	assert.Zero(t, summary.ProjectsChecked)
	assert.Empty(t, api.executions)
}

// TestTickUnknownProject tests that a misconfigured project name is an
// error, not a crash
func TestTickUnknownProject(t *testing.T) {
	api := baseAPI()
	cfg := testConfig(1)
	cfg.Projects = append(cfg.Projects, config.ProjectConfig{Name: "missing", MonitorAll: true})

	mon, _ := newTestMonitor(cfg, api)
	summary := mon.RunOnce(context.Background())

	assert.Equal(t, 1, summary.ProjectsChecked)
	assert.Equal(t, 1, summary.Errors)
}

// TestTickWorkflowFilter tests the explicit workflow list
func TestTickWorkflowFilter(t *testing.T) {
	api := baseAPI()
	api.definitions = append(api.definitions,
		types.WorkflowDefinition{Code: 101, Name: "ignored", ProjectCode: 1})
	api.failed = []types.WorkflowInstance{failedAt(42, 101, testNow.Add(-time.Hour))}

	cfg := testConfig(1)
	cfg.Projects = []config.ProjectConfig{{Name: "etl", Workflows: []string{"daily-load"}}}

	mon, _ := newTestMonitor(cfg, api)
	summary := mon.RunOnce(context.Background())

	// Failures on the unmonitored definition are untouched.
	assert.Empty(t, api.executions)
	assert.Zero(t, summary.FailedFound)
}

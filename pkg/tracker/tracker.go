package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/cronperiod"
	"github.com/flowmedic/flowmedic/pkg/types"
)

// Store is the persistence surface the tracker needs.
type Store interface {
	PutScheduleState(*types.WorkflowScheduleState) error
	ListScheduleStates() ([]*types.WorkflowScheduleState, error)
}

// Decision is the tracker's answer to "does this workflow need an API check
// this tick".
type Decision struct {
	ShouldQueryAPI bool
	Reason         string
	DefinitionCode int64
	WorkflowName   string
	Status         types.PeriodStatus
}

// Stats summarizes tracked workflows by period status.
type Stats struct {
	TotalWorkflows int
	ByStatus       map[types.PeriodStatus]int
	WindowHours    int
	CooldownMin    int
}

// Tracker owns one WorkflowScheduleState per (project, workflow-definition)
// pair and decides, per polling tick, whether the workflow needs a fresh
// state check from the orchestrator at all.
//
// The in-memory map is the source of truth for the process lifetime;
// persistence is best-effort and a write failure is logged, never propagated.
type Tracker struct {
	store    Store
	window   time.Duration
	cooldown time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.Mutex
	states map[types.ScheduleKey]*types.WorkflowScheduleState
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker and loads any previously persisted states. A load
// failure degrades to empty state, never an error.
func New(store Store, executionWindowHours, successCooldownMinutes int, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		window:   time.Duration(executionWindowHours) * time.Hour,
		cooldown: time.Duration(successCooldownMinutes) * time.Minute,
		now:      time.Now,
		logger:   logger,
		states:   make(map[types.ScheduleKey]*types.WorkflowScheduleState),
	}
	for _, opt := range opts {
		opt(t)
	}

	if store != nil {
		states, err := store.ListScheduleStates()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load schedule states, starting empty")
		}
		for _, state := range states {
			t.states[state.Key()] = state
		}
		if len(t.states) > 0 {
			logger.Debug().Int("count", len(t.states)).Msg("loaded schedule states")
		}
	}

	return t
}

// Register upserts the schedule state for a workflow. Re-registering an
// existing workflow only refreshes its cron expression.
func (t *Tracker) Register(projectCode int64, projectName string, definitionCode int64, workflowName, cronExpr string) {
	key := types.ScheduleKey{ProjectCode: projectCode, DefinitionCode: definitionCode}

	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[key]; ok {
		if state.CronExpression != cronExpr {
			state.CronExpression = cronExpr
			t.persist(state)
		}
		return
	}

	state := &types.WorkflowScheduleState{
		ProjectCode:    projectCode,
		ProjectName:    projectName,
		DefinitionCode: definitionCode,
		WorkflowName:   workflowName,
		CronExpression: cronExpr,
		Status:         types.PeriodPending,
	}
	t.states[key] = state
	t.persist(state)
	t.logger.Debug().Str("workflow", workflowName).Str("cron", cronExpr).Msg("registered workflow schedule")
}

// Decide recomputes the current period and answers whether the workflow
// needs an API check right now. It never returns an error: a cron parse
// failure fails open to "query".
func (t *Tracker) Decide(projectCode, definitionCode int64) Decision {
	key := types.ScheduleKey{ProjectCode: projectCode, DefinitionCode: definitionCode}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		// Fail open: an untracked workflow gets a full check.
		return Decision{
			ShouldQueryAPI: true,
			Reason:         "workflow not registered, performing full check",
			DefinitionCode: definitionCode,
			Status:         types.PeriodPending,
		}
	}

	expr, err := cronperiod.Parse(state.CronExpression)
	if err != nil {
		return Decision{
			ShouldQueryAPI: true,
			Reason:         fmt.Sprintf("cron parse failed (%v), performing full check", err),
			DefinitionCode: definitionCode,
			WorkflowName:   state.WorkflowName,
			Status:         state.Status,
		}
	}

	period := expr.SchedulePeriod(now, t.window)
	t.rolloverLocked(state, period)

	decision := Decision{
		DefinitionCode: definitionCode,
		WorkflowName:   state.WorkflowName,
		Status:         state.Status,
	}

	switch {
	case state.Status == types.PeriodSucceeded:
		decision.Reason = fmt.Sprintf("succeeded this period at %s, skipping",
			state.SuccessTime.Format(time.RFC3339))

	case state.Status == types.PeriodRecovered && !state.RecoveryTime.IsZero() &&
		now.Sub(state.RecoveryTime) < t.cooldown:
		remaining := t.cooldown - now.Sub(state.RecoveryTime)
		decision.Reason = fmt.Sprintf("recently recovered, cooling down (%d min left)",
			int(remaining.Minutes()))

	case !period.InExecutionWindow:
		decision.Reason = fmt.Sprintf("outside execution window, next firing %s",
			period.NextStart.Format("2006-01-02 15:04"))

	case state.Status == types.PeriodFailed:
		decision.ShouldQueryAPI = true
		decision.Reason = "failed this period, monitoring until resolved"

	default:
		decision.ShouldQueryAPI = true
		decision.Reason = "inside execution window, checking workflow state"
	}

	return decision
}

// rolloverLocked resets the state when the computed period start has moved
// forward. Caller holds t.mu.
func (t *Tracker) rolloverLocked(state *types.WorkflowScheduleState, period cronperiod.Period) {
	if state.CurrentPeriodStart.Equal(period.CurrentStart) {
		return
	}

	state.CurrentPeriodStart = period.CurrentStart
	state.CurrentPeriodEnd = period.CurrentEnd
	state.Status = types.PeriodPending
	state.LastInstanceID = 0
	state.LastInstanceState = ""
	state.SuccessTime = time.Time{}
	state.FailureTime = time.Time{}
	state.RecoveryTime = time.Time{}
	t.persist(state)

	t.logger.Debug().
		Str("workflow", state.WorkflowName).
		Time("period_start", period.CurrentStart).
		Msg("schedule period rollover")
}

// MarkSucceeded records a successful run for the current period; the
// workflow is skipped until rollover.
func (t *Tracker) MarkSucceeded(projectCode, definitionCode, instanceID int64) {
	t.mark(projectCode, definitionCode, instanceID, types.PeriodSucceeded)
}

// MarkFailed records a failed run; the workflow stays under active polling.
func (t *Tracker) MarkFailed(projectCode, definitionCode, instanceID int64) {
	t.mark(projectCode, definitionCode, instanceID, types.PeriodFailed)
}

// MarkRecovered records a successful recovery; polling pauses for the
// cooldown.
func (t *Tracker) MarkRecovered(projectCode, definitionCode, instanceID int64) {
	t.mark(projectCode, definitionCode, instanceID, types.PeriodRecovered)
}

func (t *Tracker) mark(projectCode, definitionCode, instanceID int64, status types.PeriodStatus) {
	key := types.ScheduleKey{ProjectCode: projectCode, DefinitionCode: definitionCode}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		return
	}

	state.Status = status
	state.LastInstanceID = instanceID
	state.LastCheckTime = now

	switch status {
	case types.PeriodSucceeded:
		state.SuccessTime = now
		state.LastInstanceState = types.StateSuccess.String()
	case types.PeriodFailed:
		state.FailureTime = now
		state.LastInstanceState = types.StateFailure.String()
	case types.PeriodRecovered:
		state.RecoveryTime = now
	}

	t.persist(state)
}

// persist writes one state through the store. Caller holds t.mu; failures
// are logged and swallowed, leaving memory authoritative.
func (t *Tracker) persist(state *types.WorkflowScheduleState) {
	if t.store == nil {
		return
	}
	snapshot := *state
	if err := t.store.PutScheduleState(&snapshot); err != nil {
		t.logger.Warn().Err(err).Str("workflow", state.WorkflowName).Msg("failed to persist schedule state")
	}
}

// GetState returns a copy of the tracked state, if any.
func (t *Tracker) GetState(projectCode, definitionCode int64) (types.WorkflowScheduleState, bool) {
	key := types.ScheduleKey{ProjectCode: projectCode, DefinitionCode: definitionCode}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		return types.WorkflowScheduleState{}, false
	}
	return *state, true
}

// GetStats summarizes tracked workflows by status.
func (t *Tracker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		TotalWorkflows: len(t.states),
		ByStatus:       make(map[types.PeriodStatus]int),
		WindowHours:    int(t.window.Hours()),
		CooldownMin:    int(t.cooldown.Minutes()),
	}
	for _, state := range t.states {
		stats.ByStatus[state.Status]++
	}
	return stats
}

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/client"
	"github.com/flowmedic/flowmedic/pkg/config"
	"github.com/flowmedic/flowmedic/pkg/metrics"
	"github.com/flowmedic/flowmedic/pkg/notify"
	"github.com/flowmedic/flowmedic/pkg/recovery"
	"github.com/flowmedic/flowmedic/pkg/tracker"
	"github.com/flowmedic/flowmedic/pkg/types"
)

// Action classifies what the loop did for one failed instance.
type Action string

const (
	ActionRecovered    Action = "recovered"
	ActionNotEligible  Action = "not_eligible"
	ActionLimitReached Action = "limit_reached"
	ActionNotified     Action = "notified"
	ActionSuppressed   Action = "suppressed"
	ActionError        Action = "error"
)

// InstanceOutcome is the per-instance result of one tick.
type InstanceOutcome struct {
	InstanceID   int64
	WorkflowName string
	ProjectName  string
	Action       Action
	Reason       string
}

// TickSummary aggregates one tick.
type TickSummary struct {
	TickID           string
	Started          time.Time
	Duration         time.Duration
	ProjectsChecked  int
	WorkflowsChecked int
	WorkflowsSkipped int
	FailedFound      int
	Recovered        int
	Notified         int
	Errors           int
	Outcomes         []InstanceOutcome
}

// Monitor is the polling loop tying tracker, validator, recovery and
// notifications together. Projects and workflows inside one tick are
// processed sequentially; a project-level error is counted and the tick
// moves on.
type Monitor struct {
	cfg      *config.Config
	api      client.API
	tracker  *tracker.Tracker
	recovery *recovery.Handler
	notifier *notify.Manager
	logger   zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the monitor's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithSleeper replaces the interruptible sleep used for recovery cooldowns
// and the inter-tick wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(m *Monitor) { m.sleep = sleep }
}

// New creates a monitor.
func New(cfg *config.Config, api client.API, trk *tracker.Tracker, rec *recovery.Handler, ntf *notify.Manager, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		api:      api,
		tracker:  trk,
		recovery: rec,
		notifier: ntf,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// sleepCtx waits for d or until ctx is done. Returns false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run executes ticks until ctx is cancelled, or exactly once when
// continuous mode is off.
func (m *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(m.cfg.Monitor.CheckIntervalSeconds) * time.Second

	for {
		summary := m.RunOnce(ctx)
		m.logSummary(summary)

		if !m.cfg.Monitor.ContinuousMode {
			return nil
		}
		if !m.sleep(ctx, interval) {
			m.logger.Info().Msg("monitor loop stopped")
			return ctx.Err()
		}
	}
}

// RunOnce executes a single tick across all configured projects.
func (m *Monitor) RunOnce(ctx context.Context) TickSummary {
	summary := TickSummary{
		TickID:  uuid.NewString()[:8],
		Started: m.now(),
	}
	logger := m.logger.With().Str("tick_id", summary.TickID).Logger()
	metrics.TicksTotal.Inc()
	defer func() {
		summary.Duration = m.now().Sub(summary.Started)
		metrics.TickDuration.Observe(summary.Duration.Seconds())
	}()

	projects, err := m.api.ListProjects(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list projects")
		metrics.TickErrorsTotal.Inc()
		summary.Errors++
		return summary
	}
	byName := make(map[string]types.Project, len(projects))
	for _, p := range projects {
		byName[p.Name] = p
	}

	for _, pc := range m.cfg.Projects {
		if ctx.Err() != nil {
			logger.Info().Msg("tick interrupted")
			return summary
		}

		project, ok := byName[pc.Name]
		if !ok {
			logger.Warn().Str("project", pc.Name).Msg("configured project not found")
			summary.Errors++
			continue
		}

		if err := m.checkProject(ctx, logger, project, pc, &summary); err != nil {
			logger.Error().Err(err).Str("project", pc.Name).Msg("project check failed")
			metrics.TickErrorsTotal.Inc()
			summary.Errors++
			continue
		}
		summary.ProjectsChecked++
	}

	return summary
}

// checkProject handles one project: refresh schedule registrations, then
// walk the monitored definitions through the tracker gate and the failure
// pipeline.
func (m *Monitor) checkProject(ctx context.Context, logger zerolog.Logger, project types.Project, pc config.ProjectConfig, summary *TickSummary) error {
	definitions, err := m.api.ListDefinitions(ctx, project.Code)
	if err != nil {
		return fmt.Errorf("list definitions: %w", err)
	}

	schedules, err := m.api.ListSchedules(ctx, project.Code)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	scheduled := make(map[int64]types.ScheduleDefinition, len(schedules))
	for _, s := range schedules {
		if s.Online() {
			scheduled[s.DefinitionCode] = s
		}
	}

	monitored := m.selectDefinitions(definitions, pc)
	for _, def := range monitored {
		if s, ok := scheduled[def.Code]; ok {
			m.tracker.Register(project.Code, project.Name, def.Code, def.Name, s.Crontab)
		}
	}

	failed, err := m.api.ListFailedInstances(ctx, project.Code)
	if err != nil {
		return fmt.Errorf("list failed instances: %w", err)
	}
	buckets := m.bucketRecentFailures(failed)

	for _, def := range monitored {
		if ctx.Err() != nil {
			return nil
		}

		decision := m.tracker.Decide(project.Code, def.Code)
		if !decision.ShouldQueryAPI {
			logger.Debug().
				Str("workflow", def.Name).
				Str("reason", decision.Reason).
				Msg("workflow skipped")
			summary.WorkflowsSkipped++
			continue
		}
		summary.WorkflowsChecked++

		bucket := buckets[def.Code]
		if len(bucket) == 0 {
			m.checkLatestInstance(ctx, project, def)
			continue
		}

		summary.FailedFound += len(bucket)
		metrics.FailedWorkflowsFound.Add(float64(len(bucket)))
		logger.Info().
			Str("project", project.Name).
			Str("workflow", def.Name).
			Int("failed", len(bucket)).
			Msg("failed instances found")

		if len(bucket) > m.cfg.Monitor.MaxFailuresForRecovery {
			m.notifyOverThreshold(ctx, project, def, bucket, summary)
			continue
		}
		m.recoverBucket(ctx, project, def, bucket, summary)
	}

	return nil
}

// selectDefinitions filters a project's definitions to the configured set.
func (m *Monitor) selectDefinitions(definitions []types.WorkflowDefinition, pc config.ProjectConfig) []types.WorkflowDefinition {
	if pc.MonitorAll {
		return definitions
	}
	wanted := make(map[string]bool, len(pc.Workflows))
	for _, name := range pc.Workflows {
		wanted[name] = true
	}
	var out []types.WorkflowDefinition
	for _, def := range definitions {
		if wanted[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

// bucketRecentFailures groups failed instances by definition code, keeping
// only those started inside the recency window. Grouping happens before any
// threshold decision so each definition is judged on its complete failure
// set for this tick.
func (m *Monitor) bucketRecentFailures(failed []types.WorkflowInstance) map[int64][]types.WorkflowInstance {
	cutoff := m.now().Add(-time.Duration(m.cfg.Monitor.TimeWindowHours) * time.Hour)
	buckets := make(map[int64][]types.WorkflowInstance)
	for _, inst := range failed {
		if inst.StartTime.Before(cutoff) {
			continue
		}
		buckets[inst.DefinitionCode] = append(buckets[inst.DefinitionCode], inst)
	}
	return buckets
}

// checkLatestInstance marks the tracker succeeded when the most recent run
// of a queried definition finished successfully.
func (m *Monitor) checkLatestInstance(ctx context.Context, project types.Project, def types.WorkflowDefinition) {
	instances, err := m.api.ListInstances(ctx, project.Code, def.Code, "")
	if err != nil || len(instances) == 0 {
		return
	}
	latest := instances[0]
	switch {
	case latest.State.IsSucceeded():
		m.tracker.MarkSucceeded(project.Code, def.Code, latest.ID)
	case latest.State.IsFailed():
		m.tracker.MarkFailed(project.Code, def.Code, latest.ID)
	}
}

// notifyOverThreshold handles a definition whose failure count exceeds the
// recovery threshold: notify-only, never recover.
func (m *Monitor) notifyOverThreshold(ctx context.Context, project types.Project, def types.WorkflowDefinition, bucket []types.WorkflowInstance, summary *TickSummary) {
	m.logger.Warn().
		Str("project", project.Name).
		Str("workflow", def.Name).
		Int("failed", len(bucket)).
		Int("threshold", m.cfg.Monitor.MaxFailuresForRecovery).
		Msg("failure threshold exceeded, skipping automatic recovery")

	m.tracker.MarkFailed(project.Code, def.Code, bucket[0].ID)

	msg := notify.FailureDetected(project.Name, def.Name, len(bucket), m.cfg.Monitor.MaxFailuresForRecovery, bucket)
	sent := m.notifier.Notify(ctx, project.Code, def.Code, def.Name, msg)

	for _, inst := range bucket {
		action := ActionNotified
		if !sent {
			action = ActionSuppressed
		}
		summary.Outcomes = append(summary.Outcomes, InstanceOutcome{
			InstanceID:   inst.ID,
			WorkflowName: inst.Name,
			ProjectName:  project.Name,
			Action:       action,
			Reason:       fmt.Sprintf("%d failures exceed threshold %d", len(bucket), m.cfg.Monitor.MaxFailuresForRecovery),
		})
	}
	if sent {
		summary.Notified++
	}
}

// recoverBucket walks an under-threshold bucket through validation and
// recovery, with a cooldown between successive submissions.
func (m *Monitor) recoverBucket(ctx context.Context, project types.Project, def types.WorkflowDefinition, bucket []types.WorkflowInstance, summary *TickSummary) {
	cooldown := time.Duration(m.cfg.Retry.RecoveryIntervalSeconds) * time.Second
	maxAttempts := m.cfg.Retry.MaxRecoveryAttempts

	for i, inst := range bucket {
		if ctx.Err() != nil {
			return
		}

		result := m.recovery.Process(ctx, project.Code, inst)
		outcome := InstanceOutcome{
			InstanceID:   inst.ID,
			WorkflowName: inst.Name,
			ProjectName:  project.Name,
			Reason:       result.Reason,
		}

		switch {
		case result.Executed:
			outcome.Action = ActionRecovered
			summary.Recovered++
			m.tracker.MarkRecovered(project.Code, def.Code, inst.ID)
			msg := notify.RecoverySubmitted(project.Name, inst, result.AttemptCount, maxAttempts)
			if m.notifier.Notify(ctx, project.Code, def.Code, def.Name, msg) {
				summary.Notified++
			}
			// Space out submissions so the orchestrator is not hammered.
			if i < len(bucket)-1 && !m.sleep(ctx, cooldown) {
				summary.Outcomes = append(summary.Outcomes, outcome)
				return
			}

		case result.AttemptCount >= maxAttempts:
			outcome.Action = ActionLimitReached
			m.tracker.MarkFailed(project.Code, def.Code, inst.ID)
			msg := notify.AttemptsExhausted(project.Name, inst, result.AttemptCount, maxAttempts)
			if m.notifier.Notify(ctx, project.Code, def.Code, def.Name, msg) {
				summary.Notified++
			}

		case result.Attempted:
			outcome.Action = ActionError
			m.tracker.MarkFailed(project.Code, def.Code, inst.ID)
			msg := notify.RecoveryFailed(project.Name, inst, result.AttemptCount, maxAttempts, result.Reason)
			if m.notifier.Notify(ctx, project.Code, def.Code, def.Name, msg) {
				summary.Notified++
			}

		default:
			outcome.Action = ActionNotEligible
			m.tracker.MarkFailed(project.Code, def.Code, inst.ID)
		}

		summary.Outcomes = append(summary.Outcomes, outcome)
	}
}

func (m *Monitor) logSummary(summary TickSummary) {
	m.logger.Info().
		Str("tick_id", summary.TickID).
		Dur("duration", summary.Duration).
		Int("projects", summary.ProjectsChecked).
		Int("checked", summary.WorkflowsChecked).
		Int("skipped", summary.WorkflowsSkipped).
		Int("failed_found", summary.FailedFound).
		Int("recovered", summary.Recovered).
		Int("notified", summary.Notified).
		Int("errors", summary.Errors).
		Msg("tick complete")
}

package types

import "time"

// PeriodStatus is the per-period lifecycle of a tracked workflow schedule.
//
//	pending -> {waiting, running} -> {succeeded | failed} -> recovered -> (rollover) -> pending
//
// succeeded is terminal for the period; recovered is terminal within the
// recovery cooldown; failed keeps the workflow under active polling until it
// resolves or the period rolls over.
type PeriodStatus string

const (
	PeriodPending   PeriodStatus = "pending"
	PeriodWaiting   PeriodStatus = "waiting"
	PeriodRunning   PeriodStatus = "running"
	PeriodSucceeded PeriodStatus = "succeeded"
	PeriodFailed    PeriodStatus = "failed"
	PeriodRecovered PeriodStatus = "recovered"
)

// WorkflowScheduleState is the persisted tracking record for one
// (project, workflow-definition) pair. It is keyed by ScheduleKey and safe
// to reconstruct from empty: losing it degrades to "treat as first
// observation".
type WorkflowScheduleState struct {
	ProjectCode    int64  `json:"projectCode"`
	ProjectName    string `json:"projectName"`
	DefinitionCode int64  `json:"definitionCode"`
	WorkflowName   string `json:"workflowName"`
	CronExpression string `json:"cronExpression"`

	CurrentPeriodStart time.Time    `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time    `json:"currentPeriodEnd"`
	Status             PeriodStatus `json:"status"`

	LastInstanceID    int64     `json:"lastInstanceId,omitempty"`
	LastInstanceState string    `json:"lastInstanceState,omitempty"`
	LastCheckTime     time.Time `json:"lastCheckTime"`

	SuccessTime  time.Time `json:"successTime"`
	FailureTime  time.Time `json:"failureTime"`
	RecoveryTime time.Time `json:"recoveryTime"`
}

// Key returns the record's store key.
func (s *WorkflowScheduleState) Key() ScheduleKey {
	return ScheduleKey{ProjectCode: s.ProjectCode, DefinitionCode: s.DefinitionCode}
}

// RecoveryAttempt is one entry in a recovery record's append-only history.
type RecoveryAttempt struct {
	Attempt int       `json:"attempt"`
	Time    time.Time `json:"time"`
	Success bool      `json:"success"`
	Message string    `json:"message"`
}

// RecoveryRecord is the persisted attempt history for one workflow instance.
// Created lazily on first recovery consideration; deleted only by operator
// command.
type RecoveryRecord struct {
	InstanceID      int64             `json:"workflowInstanceId"`
	WorkflowName    string            `json:"workflowName"`
	ProjectCode     int64             `json:"projectCode"`
	AttemptCount    int               `json:"attemptCount"`
	LastAttemptTime time.Time         `json:"lastAttemptTime"`
	History         []RecoveryAttempt `json:"recoveryHistory"`
}

// AddAttempt appends one attempt to the history and bumps the counter.
func (r *RecoveryRecord) AddAttempt(now time.Time, success bool, message string) {
	r.AttemptCount++
	r.LastAttemptTime = now
	r.History = append(r.History, RecoveryAttempt{
		Attempt: r.AttemptCount,
		Time:    now,
		Success: success,
		Message: message,
	})
}

// NotificationRecord is the persisted notification timestamp list for one
// (project, workflow-definition) pair. Timestamps older than the rolling
// window are pruned lazily by the rate limiter on read.
type NotificationRecord struct {
	ProjectCode    int64       `json:"projectCode"`
	DefinitionCode int64       `json:"definitionCode"`
	WorkflowName   string      `json:"workflowName"`
	Times          []time.Time `json:"notificationTimes"`
}

package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/types"
)

// Store is the persistence surface the rate limiter needs.
type Store interface {
	PutNotificationRecord(*types.NotificationRecord) error
	ListNotificationRecords() ([]*types.NotificationRecord, error)
	DeleteAllNotificationRecords() error
}

// RateLimiter caps outbound notifications per workflow definition inside a
// rolling time window. Expired timestamps are pruned lazily on access, so
// the limiter needs no background sweeper.
type RateLimiter struct {
	store  Store
	window time.Duration
	max    int
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	records map[types.ScheduleKey]*types.NotificationRecord
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock replaces the limiter's time source.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter creates a limiter allowing max notifications per window
// per workflow definition, loading persisted history. A load failure
// degrades to empty history.
func NewRateLimiter(store Store, windowHours, max int, logger zerolog.Logger, opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		store:   store,
		window:  time.Duration(windowHours) * time.Hour,
		max:     max,
		now:     time.Now,
		logger:  logger,
		records: make(map[types.ScheduleKey]*types.NotificationRecord),
	}
	for _, opt := range opts {
		opt(r)
	}

	if store != nil {
		records, err := store.ListNotificationRecords()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load notification records, starting empty")
		}
		for _, record := range records {
			key := types.ScheduleKey{ProjectCode: record.ProjectCode, DefinitionCode: record.DefinitionCode}
			r.records[key] = record
		}
	}

	return r
}

// CanNotify reports whether another notification for the workflow is still
// allowed inside the current window.
func (r *RateLimiter) CanNotify(projectCode, definitionCode int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(projectCode, definitionCode) < r.max
}

// RecordNotification appends a send timestamp for the workflow and persists
// the pruned record.
func (r *RateLimiter) RecordNotification(projectCode, definitionCode int64, workflowName string) {
	key := types.ScheduleKey{ProjectCode: projectCode, DefinitionCode: definitionCode}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		record = &types.NotificationRecord{
			ProjectCode:    projectCode,
			DefinitionCode: definitionCode,
		}
		r.records[key] = record
	}
	record.WorkflowName = workflowName
	record.Times = append(r.pruneLocked(record), r.now())

	if r.store != nil {
		snapshot := *record
		if err := r.store.PutNotificationRecord(&snapshot); err != nil {
			r.logger.Warn().Err(err).Str("workflow", workflowName).Msg("failed to persist notification record")
		}
	}
}

// Count returns how many notifications were sent for the workflow inside
// the current window.
func (r *RateLimiter) Count(projectCode, definitionCode int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(projectCode, definitionCode)
}

// Remaining returns how many notifications are still allowed for the
// workflow inside the current window.
func (r *RateLimiter) Remaining(projectCode, definitionCode int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.max - r.countLocked(projectCode, definitionCode)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset drops all notification history.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[types.ScheduleKey]*types.NotificationRecord)
	if r.store != nil {
		if err := r.store.DeleteAllNotificationRecords(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to delete notification records")
		}
	}
}

// Records returns a pruned snapshot of the per-workflow notification
// history, for operator inspection.
func (r *RateLimiter) Records() []types.NotificationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.NotificationRecord, 0, len(r.records))
	for _, record := range r.records {
		record.Times = r.pruneLocked(record)
		snapshot := *record
		snapshot.Times = append([]time.Time(nil), record.Times...)
		out = append(out, snapshot)
	}
	return out
}

// Max returns the configured per-workflow notification cap.
func (r *RateLimiter) Max() int { return r.max }

func (r *RateLimiter) countLocked(projectCode, definitionCode int64) int {
	key := types.ScheduleKey{ProjectCode: projectCode, DefinitionCode: definitionCode}
	record, ok := r.records[key]
	if !ok {
		return 0
	}
	record.Times = r.pruneLocked(record)
	return len(record.Times)
}

// pruneLocked returns the record's timestamps with anything older than the
// window dropped. Caller holds r.mu.
func (r *RateLimiter) pruneLocked(record *types.NotificationRecord) []time.Time {
	cutoff := r.now().Add(-r.window)
	kept := record.Times[:0]
	for _, ts := range record.Times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/client"
	"github.com/flowmedic/flowmedic/pkg/metrics"
	"github.com/flowmedic/flowmedic/pkg/types"
	"github.com/flowmedic/flowmedic/pkg/validator"
)

// Store is the persistence surface the handler needs.
type Store interface {
	PutRecoveryRecord(*types.RecoveryRecord) error
	ListRecoveryRecords() ([]*types.RecoveryRecord, error)
	DeleteRecoveryRecord(instanceID int64) error
	DeleteAllRecoveryRecords() error
}

// Result is the outcome of one recovery consideration.
type Result struct {
	Executed     bool
	Attempted    bool
	Reason       string
	AttemptCount int
	Validation   *validator.Result
}

// Statistics summarizes the persisted recovery history.
type Statistics struct {
	TotalWorkflows   int
	TotalAttempts    int
	ExhaustedBudget  int
	LastAttemptTimes map[int64]time.Time
}

// Handler drives recovery submission for failed workflow instances. Every
// instance carries a hard per-instance attempt budget; once spent, the
// handler refuses further submissions until an operator clears the record.
type Handler struct {
	api         client.API
	val         *validator.Validator
	store       Store
	maxAttempts int
	autoRecover bool
	now         func() time.Time
	logger      zerolog.Logger

	mu      sync.Mutex
	records map[int64]*types.RecoveryRecord
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock replaces the handler's time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a handler and loads any persisted attempt records. A load
// failure degrades to empty history, never an error.
func New(api client.API, val *validator.Validator, store Store, maxAttempts int, autoRecover bool, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		api:         api,
		val:         val,
		store:       store,
		maxAttempts: maxAttempts,
		autoRecover: autoRecover,
		now:         time.Now,
		logger:      logger,
		records:     make(map[int64]*types.RecoveryRecord),
	}
	for _, opt := range opts {
		opt(h)
	}

	if store != nil {
		records, err := store.ListRecoveryRecords()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load recovery records, starting empty")
		}
		for _, record := range records {
			h.records[record.InstanceID] = record
		}
		if len(h.records) > 0 {
			logger.Debug().Int("count", len(h.records)).Msg("loaded recovery records")
		}
	}

	return h
}

// Process validates a failed instance and, if eligible and within budget,
// submits a recovery. Only an actual API submission, successful or not,
// consumes budget.
func (h *Handler) Process(ctx context.Context, projectCode int64, instance types.WorkflowInstance) Result {
	logger := h.logger.With().
		Int64("instance_id", instance.ID).
		Str("workflow", instance.Name).
		Logger()

	validation := h.val.Validate(ctx, projectCode, instance, 0)
	if !validation.CanRecover() {
		logger.Info().
			Str("outcome", string(validation.Outcome)).
			Str("detail", validation.Message).
			Msg("instance not eligible for recovery")
		return Result{
			Reason:       fmt.Sprintf("not eligible: %s", validation.Message),
			AttemptCount: h.attemptCount(instance.ID),
			Validation:   validation,
		}
	}

	h.mu.Lock()
	record, ok := h.records[instance.ID]
	if !ok {
		record = &types.RecoveryRecord{
			InstanceID:   instance.ID,
			WorkflowName: instance.Name,
			ProjectCode:  projectCode,
		}
		h.records[instance.ID] = record
	}

	if record.AttemptCount >= h.maxAttempts {
		attempts := record.AttemptCount
		h.mu.Unlock()
		logger.Warn().
			Int("attempts", attempts).
			Int("max_attempts", h.maxAttempts).
			Msg("recovery attempt limit reached")
		metrics.RecoveryAttemptsTotal.WithLabelValues("limit_reached").Inc()
		return Result{
			Reason:       fmt.Sprintf("recovery limit reached (%d/%d attempts)", attempts, h.maxAttempts),
			AttemptCount: attempts,
			Validation:   validation,
		}
	}
	h.mu.Unlock()

	if !h.autoRecover {
		logger.Info().Msg("instance eligible but auto recovery is disabled")
		return Result{
			Reason:       "eligible but auto recovery disabled",
			AttemptCount: h.attemptCount(instance.ID),
			Validation:   validation,
		}
	}

	return h.submit(ctx, projectCode, instance, validation, logger)
}

// Force submits a recovery regardless of validation outcome. The attempt
// budget still applies. Used by the operator CLI.
func (h *Handler) Force(ctx context.Context, projectCode int64, instance types.WorkflowInstance) Result {
	logger := h.logger.With().
		Int64("instance_id", instance.ID).
		Str("workflow", instance.Name).
		Logger()

	h.mu.Lock()
	record, ok := h.records[instance.ID]
	if !ok {
		record = &types.RecoveryRecord{
			InstanceID:   instance.ID,
			WorkflowName: instance.Name,
			ProjectCode:  projectCode,
		}
		h.records[instance.ID] = record
	}
	if record.AttemptCount >= h.maxAttempts {
		attempts := record.AttemptCount
		h.mu.Unlock()
		return Result{
			Reason:       fmt.Sprintf("recovery limit reached (%d/%d attempts)", attempts, h.maxAttempts),
			AttemptCount: attempts,
		}
	}
	h.mu.Unlock()

	return h.submit(ctx, projectCode, instance, nil, logger)
}

func (h *Handler) submit(ctx context.Context, projectCode int64, instance types.WorkflowInstance, validation *validator.Result, logger zerolog.Logger) Result {
	submitted, err := h.api.ExecuteRecovery(ctx, projectCode, instance.ID)
	now := h.now()

	h.mu.Lock()
	record := h.records[instance.ID]
	switch {
	case err != nil:
		record.AddAttempt(now, false, fmt.Sprintf("submission failed: %v", err))
	case !submitted:
		record.AddAttempt(now, false, "orchestrator rejected recovery request")
	default:
		record.AddAttempt(now, true, "recovery submitted from failed tasks")
	}
	attempts := record.AttemptCount
	h.persistLocked(record)
	h.mu.Unlock()

	if err != nil || !submitted {
		logger.Error().Err(err).Int("attempts", attempts).Msg("recovery submission failed")
		metrics.RecoveryAttemptsTotal.WithLabelValues("failed").Inc()
		reason := "orchestrator rejected recovery request"
		if err != nil {
			reason = fmt.Sprintf("submission failed: %v", err)
		}
		return Result{
			Attempted:    true,
			Reason:       reason,
			AttemptCount: attempts,
			Validation:   validation,
		}
	}

	logger.Info().Int("attempts", attempts).Int("max_attempts", h.maxAttempts).Msg("recovery submitted")
	metrics.RecoveryAttemptsTotal.WithLabelValues("submitted").Inc()
	return Result{
		Executed:     true,
		Attempted:    true,
		Reason:       fmt.Sprintf("recovery submitted (attempt %d/%d)", attempts, h.maxAttempts),
		AttemptCount: attempts,
		Validation:   validation,
	}
}

func (h *Handler) attemptCount(instanceID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if record, ok := h.records[instanceID]; ok {
		return record.AttemptCount
	}
	return 0
}

// GetRecord returns a copy of the attempt record for one instance.
func (h *Handler) GetRecord(instanceID int64) (types.RecoveryRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.records[instanceID]
	if !ok {
		return types.RecoveryRecord{}, false
	}
	return *record, true
}

// ClearRecord drops the attempt history of one instance, resetting its
// budget.
func (h *Handler) ClearRecord(instanceID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.records[instanceID]; !ok {
		return false
	}
	delete(h.records, instanceID)
	if h.store != nil {
		if err := h.store.DeleteRecoveryRecord(instanceID); err != nil {
			h.logger.Warn().Err(err).Int64("instance_id", instanceID).Msg("failed to delete recovery record")
		}
	}
	return true
}

// ClearAll drops every attempt record.
func (h *Handler) ClearAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cleared := len(h.records)
	h.records = make(map[int64]*types.RecoveryRecord)
	if h.store != nil {
		if err := h.store.DeleteAllRecoveryRecords(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to delete recovery records")
		}
	}
	return cleared
}

// GetStatistics summarizes the attempt history across all instances.
func (h *Handler) GetStatistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Statistics{
		TotalWorkflows:   len(h.records),
		LastAttemptTimes: make(map[int64]time.Time),
	}
	for id, record := range h.records {
		stats.TotalAttempts += record.AttemptCount
		if record.AttemptCount >= h.maxAttempts {
			stats.ExhaustedBudget++
		}
		if !record.LastAttemptTime.IsZero() {
			stats.LastAttemptTimes[id] = record.LastAttemptTime
		}
	}
	return stats
}

// persistLocked writes one record through the store. Caller holds h.mu;
// failures are logged and swallowed, leaving memory authoritative.
func (h *Handler) persistLocked(record *types.RecoveryRecord) {
	if h.store == nil {
		return
	}
	snapshot := *record
	if err := h.store.PutRecoveryRecord(&snapshot); err != nil {
		h.logger.Warn().Err(err).Int64("instance_id", record.InstanceID).Msg("failed to persist recovery record")
	}
}

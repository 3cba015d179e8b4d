package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/client"
	"github.com/flowmedic/flowmedic/pkg/config"
	"github.com/flowmedic/flowmedic/pkg/types"
)

// Outcome classifies a workflow instance's eligibility for automated
// recovery.
type Outcome string

const (
	// ReadyForRecovery: every failed task has exhausted its retries and
	// nothing is still running; the instance may be recovered.
	ReadyForRecovery Outcome = "ready_for_recovery"
	// TasksStillRunning: at least one task (directly or in a nested
	// sub-workflow) is in flight; recovery must wait.
	TasksStillRunning Outcome = "tasks_still_running"
	// RetriesNotExhausted: a failed task still has orchestrator-side retry
	// budget; external recovery would race the orchestrator's own retry.
	RetriesNotExhausted Outcome = "retries_not_exhausted"
	// NoFailedTasks: nothing to recover.
	NoFailedTasks Outcome = "no_failed_tasks"
	// MixedStates: reserved for payloads whose task states contradict the
	// instance state; current decision paths never produce it.
	MixedStates Outcome = "mixed_states"
	// ValidationError: the snapshot could not be judged (no tasks in
	// full-inspection mode, task fetch failure, nesting too deep).
	ValidationError Outcome = "validation_error"
)

// MaxNestingDepth caps sub-workflow recursion. Exceeding it yields
// ValidationError rather than chasing cyclic or pathological nesting.
const MaxNestingDepth = 10

// Result is the outcome of validating one workflow instance, including the
// recursive results of any nested sub-workflows.
type Result struct {
	Instance types.WorkflowInstance
	Outcome  Outcome
	Message  string

	TotalTasks              int
	FailedTasks             int
	RunningTasks            int
	SucceededTasks          int
	TasksWithRetryRemaining int

	Nested []*Result
}

// CanRecover reports whether the instance is eligible for recovery.
func (r *Result) CanRecover() bool { return r.Outcome == ReadyForRecovery }

// Validator decides recovery eligibility from task snapshots. The mode is a
// deployment-wide configuration choice: status-only trusts the orchestrator's
// instance state, full-inspection walks every task including nested
// sub-workflows.
type Validator struct {
	api    client.API
	mode   config.ValidationMode
	logger zerolog.Logger
}

// New creates a validator in the given mode.
func New(api client.API, mode config.ValidationMode, logger zerolog.Logger) *Validator {
	return &Validator{api: api, mode: mode, logger: logger}
}

// Mode returns the active validation mode.
func (v *Validator) Mode() config.ValidationMode { return v.mode }

// Validate judges one workflow instance. depth is the current sub-workflow
// nesting level; callers pass 0.
func (v *Validator) Validate(ctx context.Context, projectCode int64, instance types.WorkflowInstance, depth int) *Result {
	v.logger.Debug().
		Int64("instance_id", instance.ID).
		Str("state", instance.State.String()).
		Int("depth", depth).
		Msg("validating workflow instance")

	if depth > MaxNestingDepth {
		return &Result{
			Instance: instance,
			Outcome:  ValidationError,
			Message:  fmt.Sprintf("sub-workflow nesting exceeds %d levels", MaxNestingDepth),
		}
	}

	if !instance.IsFailed() {
		return &Result{
			Instance: instance,
			Outcome:  NoFailedTasks,
			Message:  fmt.Sprintf("workflow state is %s, not FAILURE", instance.State),
		}
	}

	if v.mode == config.ValidationStatusOnly {
		// The orchestrator's own recovery routine determines which tasks to
		// re-run, so a FAILURE instance state is sufficient here.
		return &Result{
			Instance: instance,
			Outcome:  ReadyForRecovery,
			Message:  "workflow state is FAILURE",
		}
	}

	return v.inspectTasks(ctx, projectCode, instance, depth)
}

func (v *Validator) inspectTasks(ctx context.Context, projectCode int64, instance types.WorkflowInstance, depth int) *Result {
	tasks, err := v.api.ListTasks(ctx, projectCode, instance.ID)
	if err != nil {
		return &Result{
			Instance: instance,
			Outcome:  ValidationError,
			Message:  fmt.Sprintf("failed to fetch tasks: %v", err),
		}
	}
	if len(tasks) == 0 {
		return &Result{
			Instance: instance,
			Outcome:  ValidationError,
			Message:  "workflow instance has no task records",
		}
	}

	result := &Result{Instance: instance, TotalTasks: len(tasks)}

	var running, retryRemaining []string
	nestedError := ""

	for i := range tasks {
		task := &tasks[i]

		if task.IsSubWorkflow() {
			nested := v.validateSubWorkflow(ctx, projectCode, task, depth)
			if nested != nil {
				result.Nested = append(result.Nested, nested)
				switch nested.Outcome {
				case TasksStillRunning:
					running = append(running, task.Name)
					continue
				case RetriesNotExhausted:
					result.FailedTasks++
					retryRemaining = append(retryRemaining, task.Name)
					continue
				case ReadyForRecovery:
					result.FailedTasks++
					continue
				case ValidationError:
					nestedError = fmt.Sprintf("sub-workflow %s: %s", task.Name, nested.Message)
					continue
				}
				// NoFailedTasks: nothing to recover inside; the launcher
				// task's own state below still counts (it may be running).
			}
		}

		switch {
		case task.IsRunning():
			result.RunningTasks++
			running = append(running, task.Name)
		case task.IsSucceeded():
			result.SucceededTasks++
		case task.IsFailed():
			result.FailedTasks++
			if !task.RetriesExhausted() {
				result.TasksWithRetryRemaining++
				retryRemaining = append(retryRemaining, task.Name)
			}
		}
	}

	// Most restrictive first: running blocks everything, then unexhausted
	// retries, then the ready determination.
	switch {
	case len(running) > 0:
		result.Outcome = TasksStillRunning
		result.Message = "tasks still running: " + summarize(running)
	case nestedError != "":
		result.Outcome = ValidationError
		result.Message = nestedError
	case result.FailedTasks == 0:
		result.Outcome = NoFailedTasks
		result.Message = "no failed tasks found"
	case len(retryRemaining) > 0:
		result.Outcome = RetriesNotExhausted
		result.Message = "retries not exhausted: " + summarize(retryRemaining)
	default:
		result.Outcome = ReadyForRecovery
		result.Message = fmt.Sprintf("%d failed task(s) with retries exhausted", result.FailedTasks)
	}

	return result
}

func (v *Validator) validateSubWorkflow(ctx context.Context, projectCode int64, task *types.TaskInstance, depth int) *Result {
	if depth >= MaxNestingDepth {
		return &Result{
			Outcome: ValidationError,
			Message: fmt.Sprintf("sub-workflow nesting exceeds %d levels", MaxNestingDepth),
		}
	}

	sub, err := v.api.GetSubWorkflowInstance(ctx, projectCode, task.ID)
	if err != nil {
		v.logger.Warn().Err(err).Str("task", task.Name).Msg("failed to resolve sub-workflow instance")
		return nil
	}
	if sub == nil {
		return nil
	}
	return v.Validate(ctx, projectCode, *sub, depth+1)
}

// summarize renders a task-name list, truncating long ones to the first
// three entries with a "+N more" suffix.
func summarize(names []string) string {
	if len(names) <= 3 {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(names[:3], ", "), len(names)-3)
}

package client

import (
	"context"

	"github.com/flowmedic/flowmedic/pkg/types"
)

// API is the orchestrator surface the decision core consumes. The HTTP
// implementation, the TTL cache and the metrics decorator all satisfy it, so
// cross-cutting concerns compose around the transport without touching
// business logic.
type API interface {
	// ListProjects returns all projects visible to the token.
	ListProjects(ctx context.Context) ([]types.Project, error)

	// ListDefinitions returns the workflow definitions of a project.
	ListDefinitions(ctx context.Context, projectCode int64) ([]types.WorkflowDefinition, error)

	// ListSchedules returns the cron schedules of a project, online or not.
	ListSchedules(ctx context.Context, projectCode int64) ([]types.ScheduleDefinition, error)

	// ListInstances returns workflow instances, optionally filtered by
	// definition code (0 = all) and state name ("" = all).
	ListInstances(ctx context.Context, projectCode, definitionCode int64, stateFilter string) ([]types.WorkflowInstance, error)

	// ListFailedInstances returns instances currently in the FAILURE state.
	ListFailedInstances(ctx context.Context, projectCode int64) ([]types.WorkflowInstance, error)

	// ListTasks returns the task instances of one workflow instance.
	ListTasks(ctx context.Context, projectCode, instanceID int64) ([]types.TaskInstance, error)

	// GetSubWorkflowInstance resolves the nested workflow instance launched
	// by a sub-workflow task. Returns (nil, nil) when absent.
	GetSubWorkflowInstance(ctx context.Context, projectCode, taskID int64) (*types.WorkflowInstance, error)

	// ExecuteRecovery asks the orchestrator to restart the instance from its
	// failed node. The request is idempotent on the orchestrator side.
	ExecuteRecovery(ctx context.Context, projectCode, instanceID int64) (bool, error)

	// CheckConnection verifies the API is reachable with the configured
	// token.
	CheckConnection(ctx context.Context) error
}

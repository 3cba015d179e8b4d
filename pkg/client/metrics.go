package client

import (
	"context"
	"time"

	"github.com/flowmedic/flowmedic/pkg/metrics"
	"github.com/flowmedic/flowmedic/pkg/types"
)

// InstrumentedClient wraps an API and records call counts and durations in
// Prometheus collectors. Compose it outside the cache so only real requests
// are counted.
type InstrumentedClient struct {
	next API
}

// NewInstrumentedClient wraps next with call metrics.
func NewInstrumentedClient(next API) *InstrumentedClient {
	return &InstrumentedClient{next: next}
}

func observe(call string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.APIRequestsTotal.WithLabelValues(call, status).Inc()
	metrics.APIRequestDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

func (m *InstrumentedClient) ListProjects(ctx context.Context) (out []types.Project, err error) {
	start := time.Now()
	defer func() { observe("list_projects", start, err) }()
	return m.next.ListProjects(ctx)
}

func (m *InstrumentedClient) ListDefinitions(ctx context.Context, projectCode int64) (out []types.WorkflowDefinition, err error) {
	start := time.Now()
	defer func() { observe("list_definitions", start, err) }()
	return m.next.ListDefinitions(ctx, projectCode)
}

func (m *InstrumentedClient) ListSchedules(ctx context.Context, projectCode int64) (out []types.ScheduleDefinition, err error) {
	start := time.Now()
	defer func() { observe("list_schedules", start, err) }()
	return m.next.ListSchedules(ctx, projectCode)
}

func (m *InstrumentedClient) ListInstances(ctx context.Context, projectCode, definitionCode int64, stateFilter string) (out []types.WorkflowInstance, err error) {
	start := time.Now()
	defer func() { observe("list_instances", start, err) }()
	return m.next.ListInstances(ctx, projectCode, definitionCode, stateFilter)
}

func (m *InstrumentedClient) ListFailedInstances(ctx context.Context, projectCode int64) (out []types.WorkflowInstance, err error) {
	start := time.Now()
	defer func() { observe("list_failed_instances", start, err) }()
	return m.next.ListFailedInstances(ctx, projectCode)
}

func (m *InstrumentedClient) ListTasks(ctx context.Context, projectCode, instanceID int64) (out []types.TaskInstance, err error) {
	start := time.Now()
	defer func() { observe("list_tasks", start, err) }()
	return m.next.ListTasks(ctx, projectCode, instanceID)
}

func (m *InstrumentedClient) GetSubWorkflowInstance(ctx context.Context, projectCode, taskID int64) (out *types.WorkflowInstance, err error) {
	start := time.Now()
	defer func() { observe("get_sub_workflow", start, err) }()
	return m.next.GetSubWorkflowInstance(ctx, projectCode, taskID)
}

func (m *InstrumentedClient) ExecuteRecovery(ctx context.Context, projectCode, instanceID int64) (ok bool, err error) {
	start := time.Now()
	defer func() { observe("execute_recovery", start, err) }()
	return m.next.ExecuteRecovery(ctx, projectCode, instanceID)
}

func (m *InstrumentedClient) CheckConnection(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe("check_connection", start, err) }()
	return m.next.CheckConnection(ctx)
}

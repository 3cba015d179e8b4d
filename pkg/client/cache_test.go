package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmedic/flowmedic/pkg/types"
)

// countingAPI counts upstream calls per method.
type countingAPI struct {
	projects   int
	instances  int
	executions int
}

func (c *countingAPI) ListProjects(ctx context.Context) ([]types.Project, error) {
	c.projects++
	return []types.Project{{Code: 1, Name: "etl"}}, nil
}

func (c *countingAPI) ListDefinitions(ctx context.Context, projectCode int64) ([]types.WorkflowDefinition, error) {
	return nil, nil
}

func (c *countingAPI) ListSchedules(ctx context.Context, projectCode int64) ([]types.ScheduleDefinition, error) {
	return nil, nil
}

func (c *countingAPI) ListInstances(ctx context.Context, projectCode, definitionCode int64, stateFilter string) ([]types.WorkflowInstance, error) {
	c.instances++
	return nil, nil
}

func (c *countingAPI) ListFailedInstances(ctx context.Context, projectCode int64) ([]types.WorkflowInstance, error) {
	c.instances++
	return nil, nil
}

func (c *countingAPI) ListTasks(ctx context.Context, projectCode, instanceID int64) ([]types.TaskInstance, error) {
	return nil, nil
}

func (c *countingAPI) GetSubWorkflowInstance(ctx context.Context, projectCode, taskID int64) (*types.WorkflowInstance, error) {
	return nil, nil
}

func (c *countingAPI) ExecuteRecovery(ctx context.Context, projectCode, instanceID int64) (bool, error) {
	c.executions++
	return true, nil
}

func (c *countingAPI) CheckConnection(ctx context.Context) error { return nil }

// TestCacheHitsMetadata tests that repeated metadata reads hit the cache
func TestCacheHitsMetadata(t *testing.T) {
	upstream := &countingAPI{}
	cached := NewCachedClient(upstream, time.Minute)
	ctx := context.Background()

	first, err := cached.ListProjects(ctx)
	require.NoError(t, err)
	second, err := cached.ListProjects(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, upstream.projects)
	assert.Equal(t, first, second)
}

// TestCacheExpiry tests TTL-based refresh
func TestCacheExpiry(t *testing.T) {
	upstream := &countingAPI{}
	cached := NewCachedClient(upstream, time.Nanosecond)
	ctx := context.Background()

	_, err := cached.ListProjects(ctx)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = cached.ListProjects(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, upstream.projects)
}

// TestCacheBypassesVolatileReads tests that instance queries are never
// cached
func TestCacheBypassesVolatileReads(t *testing.T) {
	upstream := &countingAPI{}
	cached := NewCachedClient(upstream, time.Minute)
	ctx := context.Background()

	cached.ListFailedInstances(ctx, 1)
	cached.ListFailedInstances(ctx, 1)
	cached.ListInstances(ctx, 1, 100, "")

	assert.Equal(t, 3, upstream.instances)
}

// TestCacheClear tests operator invalidation
func TestCacheClear(t *testing.T) {
	upstream := &countingAPI{}
	cached := NewCachedClient(upstream, time.Minute)
	ctx := context.Background()

	cached.ListProjects(ctx)
	cached.Clear()
	cached.ListProjects(ctx)

	assert.Equal(t, 2, upstream.projects)
}

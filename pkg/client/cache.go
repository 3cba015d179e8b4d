package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmedic/flowmedic/pkg/metrics"
	"github.com/flowmedic/flowmedic/pkg/types"
)

// CachedClient wraps an API with a TTL cache for the slow-changing listings
// (projects, definitions, schedules). Instance and task queries always pass
// through: their answers go stale within one tick.
type CachedClient struct {
	next API
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int64
	misses  int64
}

type cacheEntry struct {
	value    any
	expireAt time.Time
}

// NewCachedClient wraps next with a cache whose entries live for ttl.
func NewCachedClient(next API, ttl time.Duration) *CachedClient {
	return &CachedClient{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedClient) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expireAt) {
		delete(c.entries, key)
		c.misses++
		metrics.APICacheMisses.Inc()
		return nil, false
	}
	c.hits++
	metrics.APICacheHits.Inc()
	return entry.value, true
}

func (c *CachedClient) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expireAt: time.Now().Add(c.ttl)}
}

// Clear drops every cached entry.
func (c *CachedClient) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats reports cache size and hit/miss counts.
func (c *CachedClient) Stats() (size int, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.hits, c.misses
}

func (c *CachedClient) ListProjects(ctx context.Context) ([]types.Project, error) {
	if v, ok := c.get("projects"); ok {
		return v.([]types.Project), nil
	}
	projects, err := c.next.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	c.put("projects", projects)
	return projects, nil
}

func (c *CachedClient) ListDefinitions(ctx context.Context, projectCode int64) ([]types.WorkflowDefinition, error) {
	key := fmt.Sprintf("definitions:%d", projectCode)
	if v, ok := c.get(key); ok {
		return v.([]types.WorkflowDefinition), nil
	}
	defs, err := c.next.ListDefinitions(ctx, projectCode)
	if err != nil {
		return nil, err
	}
	c.put(key, defs)
	return defs, nil
}

func (c *CachedClient) ListSchedules(ctx context.Context, projectCode int64) ([]types.ScheduleDefinition, error) {
	key := fmt.Sprintf("schedules:%d", projectCode)
	if v, ok := c.get(key); ok {
		return v.([]types.ScheduleDefinition), nil
	}
	schedules, err := c.next.ListSchedules(ctx, projectCode)
	if err != nil {
		return nil, err
	}
	c.put(key, schedules)
	return schedules, nil
}

func (c *CachedClient) ListInstances(ctx context.Context, projectCode, definitionCode int64, stateFilter string) ([]types.WorkflowInstance, error) {
	return c.next.ListInstances(ctx, projectCode, definitionCode, stateFilter)
}

func (c *CachedClient) ListFailedInstances(ctx context.Context, projectCode int64) ([]types.WorkflowInstance, error) {
	return c.next.ListFailedInstances(ctx, projectCode)
}

func (c *CachedClient) ListTasks(ctx context.Context, projectCode, instanceID int64) ([]types.TaskInstance, error) {
	return c.next.ListTasks(ctx, projectCode, instanceID)
}

func (c *CachedClient) GetSubWorkflowInstance(ctx context.Context, projectCode, taskID int64) (*types.WorkflowInstance, error) {
	return c.next.GetSubWorkflowInstance(ctx, projectCode, taskID)
}

func (c *CachedClient) ExecuteRecovery(ctx context.Context, projectCode, instanceID int64) (bool, error) {
	return c.next.ExecuteRecovery(ctx, projectCode, instanceID)
}

func (c *CachedClient) CheckConnection(ctx context.Context) error {
	return c.next.CheckConnection(ctx)
}

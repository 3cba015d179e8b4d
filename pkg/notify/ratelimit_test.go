package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmedic/flowmedic/pkg/types"
)

type memStore struct {
	records map[types.ScheduleKey]*types.NotificationRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[types.ScheduleKey]*types.NotificationRecord)}
}

func (m *memStore) PutNotificationRecord(record *types.NotificationRecord) error {
	snapshot := *record
	key := types.ScheduleKey{ProjectCode: record.ProjectCode, DefinitionCode: record.DefinitionCode}
	m.records[key] = &snapshot
	return nil
}

func (m *memStore) ListNotificationRecords() ([]*types.NotificationRecord, error) {
	out := make([]*types.NotificationRecord, 0, len(m.records))
	for _, record := range m.records {
		snapshot := *record
		out = append(out, &snapshot)
	}
	return out, nil
}

func (m *memStore) DeleteAllNotificationRecords() error {
	m.records = make(map[types.ScheduleKey]*types.NotificationRecord)
	return nil
}

func newTestLimiter(t *testing.T, store Store, max int, at time.Time) (*RateLimiter, func(time.Time)) {
	t.Helper()
	current := at
	limiter := NewRateLimiter(store, 24, max, zerolog.Nop(),
		WithClock(func() time.Time { return current }))
	return limiter, func(ts time.Time) { current = ts }
}

// TestRateLimiterCapsPerWindow tests that the cap applies inside the
// rolling window
func TestRateLimiterCapsPerWindow(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	limiter, _ := newTestLimiter(t, newMemStore(), 3, start)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.CanNotify(1, 100), "send %d", i)
		limiter.RecordNotification(1, 100, "daily-load")
	}

	assert.False(t, limiter.CanNotify(1, 100))
	assert.Equal(t, 3, limiter.Count(1, 100))
	assert.Zero(t, limiter.Remaining(1, 100))
}

// TestRateLimiterWorkflowsIndependent tests that one workflow's sends
// never affect another's budget
func TestRateLimiterWorkflowsIndependent(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	limiter, _ := newTestLimiter(t, newMemStore(), 1, start)

	limiter.RecordNotification(1, 100, "daily-load")
	assert.False(t, limiter.CanNotify(1, 100))
	assert.True(t, limiter.CanNotify(1, 101))
	assert.True(t, limiter.CanNotify(2, 100))
}

// TestRateLimiterWindowExpiry tests that old sends age out of the window
func TestRateLimiterWindowExpiry(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	limiter, advance := newTestLimiter(t, newMemStore(), 2, start)

	limiter.RecordNotification(1, 100, "daily-load")
	advance(start.Add(12 * time.Hour))
	limiter.RecordNotification(1, 100, "daily-load")
	assert.False(t, limiter.CanNotify(1, 100))

	// First send falls out of the 24h window; one slot frees up.
	advance(start.Add(25 * time.Hour))
	assert.True(t, limiter.CanNotify(1, 100))
	assert.Equal(t, 1, limiter.Count(1, 100))
	assert.Equal(t, 1, limiter.Remaining(1, 100))
}

// TestRateLimiterPersistenceRoundTrip tests that history survives a
// restart
func TestRateLimiterPersistenceRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	limiter, _ := newTestLimiter(t, store, 1, start)
	limiter.RecordNotification(1, 100, "daily-load")

	reloaded, _ := newTestLimiter(t, store, 1, start.Add(time.Minute))
	assert.False(t, reloaded.CanNotify(1, 100))
}

// TestRateLimiterReset tests operator history clearing
func TestRateLimiterReset(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	limiter, _ := newTestLimiter(t, store, 1, start)
	limiter.RecordNotification(1, 100, "daily-load")

	limiter.Reset()
	assert.True(t, limiter.CanNotify(1, 100))
	assert.Empty(t, store.records)
}

// TestRecordsSnapshot tests the pruned inspection dump
func TestRecordsSnapshot(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	limiter, advance := newTestLimiter(t, newMemStore(), 5, start)

	limiter.RecordNotification(1, 100, "daily-load")
	advance(start.Add(30 * time.Hour))
	limiter.RecordNotification(1, 100, "daily-load")

	records := limiter.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "daily-load", records[0].WorkflowName)
	assert.Len(t, records[0].Times, 1)
}

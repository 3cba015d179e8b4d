package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmedic/flowmedic/pkg/types"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(server.URL, "test-token", zerolog.Nop(),
		WithMaxRetries(2), WithBackoff(time.Millisecond))
}

// TestListProjects tests envelope decoding and the token header
func TestListProjects(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/list", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("token"))
		w.Write([]byte(`{"code":0,"msg":"success","data":[{"id":1,"code":123,"name":"etl"}]}`))
	}))

	projects, err := c.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, int64(123), projects[0].Code)
	assert.Equal(t, "etl", projects[0].Name)
}

// TestListInstancesNormalization tests wire-format normalization: string
// timestamps and string-or-numeric states
func TestListInstancesNormalization(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/123/process-instances", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("processDefineCode"))
		assert.Equal(t, "FAILURE", r.URL.Query().Get("stateType"))
		w.Write([]byte(`{"code":0,"data":{"totalList":[
			{"id":42,"name":"daily-load","processDefinitionCode":100,"state":6,
			 "startTime":"2026-03-10 02:00:05","endTime":"2026-03-10 02:15:00"},
			{"id":43,"name":"daily-load","processDefinitionCode":100,"state":"FAILURE",
			 "startTime":"","endTime":""}
		]}}`))
	}))

	instances, err := c.ListInstances(context.Background(), 123, 100, "FAILURE")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, types.StateFailure, instances[0].State)
	assert.Equal(t, types.StateFailure, instances[1].State)
	assert.Equal(t, int64(123), instances[0].ProjectCode)
	assert.Equal(t,
		time.Date(2026, 3, 10, 2, 0, 5, 0, time.Local), instances[0].StartTime)
	assert.True(t, instances[1].StartTime.IsZero())
}

// TestListTasksFieldFallback tests the taskList/totalList field fallback
func TestListTasksFieldFallback(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "taskList field", data: `{"taskList":[{"id":11,"name":"extract","state":7}]}`},
		{name: "totalList fallback", data: `{"totalList":[{"id":11,"name":"extract","state":7}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"code":0,"data":` + tt.data + `}`))
			}))

			tasks, err := c.ListTasks(context.Background(), 123, 42)
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, "extract", tasks[0].Name)
			assert.Equal(t, int64(42), tasks[0].InstanceID)
		})
	}
}

// TestGetSubWorkflowInstanceAbsent tests that a null payload means no
// sub-workflow, not an error
func TestGetSubWorkflowInstanceAbsent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":null}`))
	}))

	sub, err := c.GetSubWorkflowInstance(context.Background(), 123, 21)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

// TestExecuteRecovery tests the form-encoded execute request
func TestExecuteRecovery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/123/executors/execute", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("processInstanceId"))
		assert.Equal(t, "START_FAILURE_TASK_PROCESS", r.PostForm.Get("executeType"))
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))

	ok, err := c.ExecuteRecovery(context.Background(), 123, 42)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestAPIErrorEnvelope tests that a non-zero envelope code surfaces as an
// error
func TestAPIErrorEnvelope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":10001,"msg":"token invalid"}`))
	}))

	_, err := c.ListProjects(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token invalid")
}

// TestTransientRetry tests that 5xx responses are retried until success
func TestTransientRetry(t *testing.T) {
	attempts := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"code":0,"data":[]}`))
	}))

	_, err := c.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestRetryBudgetExhausted tests the terminal error after the retry budget
func TestRetryBudgetExhausted(t *testing.T) {
	attempts := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.ListProjects(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

// TestClientErrorNotRetried tests that 4xx responses fail immediately
func TestClientErrorNotRetried(t *testing.T) {
	attempts := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.ListProjects(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

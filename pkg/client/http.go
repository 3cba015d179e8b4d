package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

// HTTPClient talks to the DolphinScheduler REST API. Transient failures
// (connection errors, 429, 5xx) are retried with exponential backoff before
// an error is surfaced.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithMaxRetries sets the per-request retry budget for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// WithBackoff sets the initial retry backoff; it doubles per attempt.
func WithBackoff(d time.Duration) Option {
	return func(c *HTTPClient) { c.backoff = d }
}

// NewHTTPClient creates a client for the given API base URL and token.
func NewHTTPClient(baseURL, token string, logger zerolog.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the orchestrator's uniform response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *HTTPClient) request(ctx context.Context, method, endpoint string, params url.Values, body url.Values) (json.RawMessage, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = strings.NewReader(body.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("token", c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, endpoint)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(data)))
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
		}
		if env.Code != 0 {
			return nil, fmt.Errorf("API error from %s: %s", endpoint, env.Msg)
		}
		return env.Data, nil
	}

	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", endpoint, c.maxRetries+1, lastErr)
}

// wire DTOs: the API reports timestamps as "2006-01-02 15:04:05" strings and
// states as string-or-number, so payloads land here before normalization.

type wireInstance struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	DefinitionCode int64       `json:"processDefinitionCode"`
	State          types.State `json:"state"`
	RunTimes       int         `json:"runTimes"`
	StartTime      string      `json:"startTime"`
	EndTime        string      `json:"endTime"`
}

func (w *wireInstance) toInstance(projectCode int64) types.WorkflowInstance {
	return types.WorkflowInstance{
		ID:             w.ID,
		Name:           w.Name,
		DefinitionCode: w.DefinitionCode,
		ProjectCode:    projectCode,
		State:          w.State,
		RunTimes:       w.RunTimes,
		StartTime:      parseTime(w.StartTime),
		EndTime:        parseTime(w.EndTime),
	}
}

type wireTask struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	TaskType   string      `json:"taskType"`
	State      types.State `json:"state"`
	RetryTimes int         `json:"retryTimes"`
	MaxRetries int         `json:"maxRetryTimes"`
	StartTime  string      `json:"startTime"`
	EndTime    string      `json:"endTime"`
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(timeLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]types.Project, error) {
	data, err := c.request(ctx, http.MethodGet, "/projects/list", nil, nil)
	if err != nil {
		return nil, err
	}
	var projects []types.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	return projects, nil
}

func (c *HTTPClient) ListDefinitions(ctx context.Context, projectCode int64) ([]types.WorkflowDefinition, error) {
	params := url.Values{"pageNo": {"1"}, "pageSize": {"100"}}
	data, err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/process-definition", projectCode), params, nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		TotalList []types.WorkflowDefinition `json:"totalList"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode definitions: %w", err)
	}
	for i := range page.TotalList {
		page.TotalList[i].ProjectCode = projectCode
	}
	return page.TotalList, nil
}

func (c *HTTPClient) ListSchedules(ctx context.Context, projectCode int64) ([]types.ScheduleDefinition, error) {
	params := url.Values{"pageNo": {"1"}, "pageSize": {"100"}}
	data, err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/schedules", projectCode), params, nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		TotalList []types.ScheduleDefinition `json:"totalList"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode schedules: %w", err)
	}
	return page.TotalList, nil
}

func (c *HTTPClient) ListInstances(ctx context.Context, projectCode, definitionCode int64, stateFilter string) ([]types.WorkflowInstance, error) {
	params := url.Values{"pageNo": {"1"}, "pageSize": {"20"}}
	if definitionCode != 0 {
		params.Set("processDefineCode", strconv.FormatInt(definitionCode, 10))
	}
	if stateFilter != "" {
		params.Set("stateType", stateFilter)
	}

	data, err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/process-instances", projectCode), params, nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		TotalList []wireInstance `json:"totalList"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode instances: %w", err)
	}

	instances := make([]types.WorkflowInstance, 0, len(page.TotalList))
	for i := range page.TotalList {
		instances = append(instances, page.TotalList[i].toInstance(projectCode))
	}
	return instances, nil
}

func (c *HTTPClient) ListFailedInstances(ctx context.Context, projectCode int64) ([]types.WorkflowInstance, error) {
	return c.ListInstances(ctx, projectCode, 0, "FAILURE")
}

func (c *HTTPClient) ListTasks(ctx context.Context, projectCode, instanceID int64) ([]types.TaskInstance, error) {
	params := url.Values{"pageNo": {"1"}, "pageSize": {"1000"}}
	data, err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/process-instances/%d/tasks", projectCode, instanceID), params, nil)
	if err != nil {
		return nil, err
	}

	// 3.1.x nests tasks under taskList; older servers used totalList.
	var page struct {
		TaskList  []wireTask `json:"taskList"`
		TotalList []wireTask `json:"totalList"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	records := page.TaskList
	if records == nil {
		records = page.TotalList
	}

	tasks := make([]types.TaskInstance, 0, len(records))
	for _, t := range records {
		tasks = append(tasks, types.TaskInstance{
			ID:         t.ID,
			Name:       t.Name,
			TaskType:   t.TaskType,
			State:      t.State,
			RetryTimes: t.RetryTimes,
			MaxRetries: t.MaxRetries,
			InstanceID: instanceID,
			StartTime:  parseTime(t.StartTime),
			EndTime:    parseTime(t.EndTime),
		})
	}
	return tasks, nil
}

func (c *HTTPClient) GetSubWorkflowInstance(ctx context.Context, projectCode, taskID int64) (*types.WorkflowInstance, error) {
	params := url.Values{"taskId": {strconv.FormatInt(taskID, 10)}}
	data, err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/process-instances/query-sub-by-parent", projectCode), params, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var w wireInstance
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode sub-workflow instance: %w", err)
	}
	instance := w.toInstance(projectCode)
	return &instance, nil
}

func (c *HTTPClient) ExecuteRecovery(ctx context.Context, projectCode, instanceID int64) (bool, error) {
	body := url.Values{
		"processInstanceId": {strconv.FormatInt(instanceID, 10)},
		"executeType":       {"START_FAILURE_TASK_PROCESS"},
	}
	_, err := c.request(ctx, http.MethodPost,
		fmt.Sprintf("/projects/%d/executors/execute", projectCode), nil, body)
	if err != nil {
		c.logger.Error().Err(err).Int64("instance_id", instanceID).Msg("recovery request failed")
		return false, err
	}
	return true, nil
}

// CheckConnection verifies the API is reachable with the configured token.
func (c *HTTPClient) CheckConnection(ctx context.Context) error {
	_, err := c.ListProjects(ctx)
	return err
}

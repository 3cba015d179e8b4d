package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the normalized execution state shared by workflow and task
// instances. The orchestrator API reports states either as numeric codes or
// as symbolic names depending on version; both forms normalize to this
// enumeration at the ingestion boundary so core logic never sees the raw
// form.
type State int

const (
	StateSubmitted          State = 0
	StateRunning            State = 1
	StateReadyPause         State = 2
	StatePause              State = 3
	StateReadyStop          State = 4
	StateStop               State = 5
	StateFailure            State = 6
	StateSuccess            State = 7
	StateNeedFaultTolerance State = 8
	StateKill               State = 9
	StateWaitingThread      State = 10
	StateWaitingDepend      State = 11
	StateDelayExecution     State = 12
	StateForcedSuccess      State = 13
	StateSerialWait         State = 14
	StateDispatch           State = 15
	StateReadyBlock         State = 16
	StateBlock              State = 17

	// StateUnknown marks a state the normalizer could not map. Predicates
	// all report false for it, so an unknown state is never treated as
	// failed, running, or succeeded.
	StateUnknown State = -1
)

var stateNames = map[string]State{
	"SUBMITTED_SUCCESS":    StateSubmitted,
	"RUNNING_EXECUTION":    StateRunning,
	"READY_PAUSE":          StateReadyPause,
	"PAUSE":                StatePause,
	"READY_STOP":           StateReadyStop,
	"STOP":                 StateStop,
	"FAILURE":              StateFailure,
	"SUCCESS":              StateSuccess,
	"NEED_FAULT_TOLERANCE": StateNeedFaultTolerance,
	"KILL":                 StateKill,
	"WAITING_THREAD":       StateWaitingThread,
	"WAITING_DEPEND":       StateWaitingDepend,
	"DELAY_EXECUTION":      StateDelayExecution,
	"FORCED_SUCCESS":       StateForcedSuccess,
	"SERIAL_WAIT":          StateSerialWait,
	"DISPATCH":             StateDispatch,
	"READY_BLOCK":          StateReadyBlock,
	"BLOCK":                StateBlock,
}

// ParseState normalizes a symbolic state name, case-insensitively.
func ParseState(name string) State {
	if s, ok := stateNames[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return s
	}
	return StateUnknown
}

// String returns the symbolic name for the state.
func (s State) String() string {
	for name, st := range stateNames {
		if st == s {
			return name
		}
	}
	return "UNKNOWN"
}

// UnmarshalJSON accepts either a numeric code or a symbolic name.
func (s *State) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		if code < 0 || code > int(StateBlock) {
			*s = StateUnknown
			return nil
		}
		*s = State(code)
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("state is neither number nor string: %s", data)
	}
	*s = ParseState(name)
	return nil
}

// MarshalJSON emits the symbolic name so persisted records stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsFailed reports whether the state counts as a failure for remediation.
// Tasks additionally treat KILL and NEED_FAULT_TOLERANCE as failed; workflow
// instances only ever arrive here with FAILURE when listed by state filter,
// so the broader set is safe for both.
func (s State) IsFailed() bool {
	switch s {
	case StateFailure, StateKill, StateNeedFaultTolerance:
		return true
	}
	return false
}

// IsRunning reports whether the state means work is still in flight.
func (s State) IsRunning() bool {
	switch s {
	case StateRunning, StateSubmitted, StateDelayExecution,
		StateDispatch, StateWaitingThread, StateWaitingDepend:
		return true
	}
	return false
}

// IsSucceeded reports whether the state is a terminal success.
func (s State) IsSucceeded() bool {
	return s == StateSuccess || s == StateForcedSuccess
}

// WorkflowInstance is an immutable snapshot of one workflow run as fetched
// from the orchestrator. The core never mutates a snapshot, only replaces it
// with a fresher fetch.
type WorkflowInstance struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DefinitionCode int64     `json:"processDefinitionCode"`
	ProjectCode    int64     `json:"projectCode"`
	State          State     `json:"state"`
	RunTimes       int       `json:"runTimes"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
}

func (w *WorkflowInstance) IsFailed() bool    { return w.State == StateFailure }
func (w *WorkflowInstance) IsRunning() bool   { return w.State == StateRunning || w.State == StateSubmitted }
func (w *WorkflowInstance) IsSucceeded() bool { return w.State.IsSucceeded() }

// SubWorkflowTaskType is the task-type tag denoting a nested workflow
// launcher task.
const SubWorkflowTaskType = "SUB_PROCESS"

// TaskInstance is an immutable snapshot of one task run inside a workflow
// instance.
type TaskInstance struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	TaskType   string    `json:"taskType"`
	State      State     `json:"state"`
	RetryTimes int       `json:"retryTimes"`
	MaxRetries int       `json:"maxRetryTimes"`
	InstanceID int64     `json:"processInstanceId"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

func (t *TaskInstance) IsFailed() bool    { return t.State.IsFailed() }
func (t *TaskInstance) IsRunning() bool   { return t.State.IsRunning() }
func (t *TaskInstance) IsSucceeded() bool { return t.State.IsSucceeded() }

// RetriesExhausted reports whether the orchestrator's own retry budget for
// the task is spent. A failed task with retries remaining must not be
// recovered externally; the orchestrator will retry it itself.
func (t *TaskInstance) RetriesExhausted() bool { return t.RetryTimes >= t.MaxRetries }

// IsSubWorkflow reports whether the task launches a nested workflow.
func (t *TaskInstance) IsSubWorkflow() bool {
	return strings.EqualFold(t.TaskType, SubWorkflowTaskType)
}

// Project is an orchestrator project.
type Project struct {
	ID   int64  `json:"id"`
	Code int64  `json:"code"`
	Name string `json:"name"`
}

// WorkflowDefinition is an orchestrator workflow definition (the template a
// WorkflowInstance is a run of).
type WorkflowDefinition struct {
	ID          int64  `json:"id"`
	Code        int64  `json:"code"`
	Name        string `json:"name"`
	ProjectCode int64  `json:"projectCode"`
}

// ScheduleDefinition is the cron schedule attached to a workflow definition.
// Only online definitions participate in schedule-aware tracking.
type ScheduleDefinition struct {
	ID             int64  `json:"id"`
	DefinitionCode int64  `json:"processDefinitionCode"`
	DefinitionName string `json:"processDefinitionName"`
	ProjectName    string `json:"projectName"`
	Crontab        string `json:"crontab"`
	TimezoneID     string `json:"timezoneId"`
	ReleaseState   string `json:"releaseState"`
}

// Online reports whether the schedule is released.
func (s *ScheduleDefinition) Online() bool {
	return strings.EqualFold(s.ReleaseState, "ONLINE")
}

// ScheduleKey identifies one tracked (project, workflow-definition) pair.
// It keys both schedule state and notification records.
type ScheduleKey struct {
	ProjectCode    int64
	DefinitionCode int64
}

// String renders the stable persisted form of the key.
func (k ScheduleKey) String() string {
	return fmt.Sprintf("%d_%d", k.ProjectCode, k.DefinitionCode)
}

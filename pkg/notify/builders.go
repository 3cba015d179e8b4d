package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowmedic/flowmedic/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

// FailureDetected builds the alert for workflows whose failure count passed
// the recovery threshold, so they get notified instead of auto-recovered.
func FailureDetected(projectName, workflowName string, failureCount, threshold int, instances []types.WorkflowInstance) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "- Project: %s\n", projectName)
	fmt.Fprintf(&b, "- Workflow: %s\n", workflowName)
	fmt.Fprintf(&b, "- Failed instances: %d (threshold %d)\n", failureCount, threshold)
	b.WriteString("- Automatic recovery skipped, manual intervention required\n")
	for i, inst := range instances {
		if i >= 5 {
			fmt.Fprintf(&b, "- ... and %d more\n", len(instances)-5)
			break
		}
		fmt.Fprintf(&b, "- Instance %d (%s) failed at %s\n", inst.ID, inst.Name, formatTime(inst.EndTime))
	}
	return Message{
		Title: fmt.Sprintf("Workflow failure: %s", workflowName),
		Body:  b.String(),
	}
}

// RecoverySubmitted builds the alert for a successfully submitted recovery.
func RecoverySubmitted(projectName string, instance types.WorkflowInstance, attempt, maxAttempts int) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "- Project: %s\n", projectName)
	fmt.Fprintf(&b, "- Workflow: %s\n", instance.Name)
	fmt.Fprintf(&b, "- Instance: %d\n", instance.ID)
	fmt.Fprintf(&b, "- Failed at: %s\n", formatTime(instance.EndTime))
	fmt.Fprintf(&b, "- Recovery attempt: %d/%d\n", attempt, maxAttempts)
	b.WriteString("- Restarted from failed tasks\n")
	return Message{
		Title: fmt.Sprintf("Recovery submitted: %s", instance.Name),
		Body:  b.String(),
	}
}

// RecoveryFailed builds the alert for a recovery submission the
// orchestrator rejected or that errored.
func RecoveryFailed(projectName string, instance types.WorkflowInstance, attempt, maxAttempts int, reason string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "- Project: %s\n", projectName)
	fmt.Fprintf(&b, "- Workflow: %s\n", instance.Name)
	fmt.Fprintf(&b, "- Instance: %d\n", instance.ID)
	fmt.Fprintf(&b, "- Recovery attempt: %d/%d\n", attempt, maxAttempts)
	fmt.Fprintf(&b, "- Reason: %s\n", reason)
	return Message{
		Title: fmt.Sprintf("Recovery failed: %s", instance.Name),
		Body:  b.String(),
	}
}

// AttemptsExhausted builds the alert sent once a workflow instance has
// spent its whole recovery budget.
func AttemptsExhausted(projectName string, instance types.WorkflowInstance, attempts, maxAttempts int) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "- Project: %s\n", projectName)
	fmt.Fprintf(&b, "- Workflow: %s\n", instance.Name)
	fmt.Fprintf(&b, "- Instance: %d\n", instance.ID)
	fmt.Fprintf(&b, "- Attempts used: %d/%d\n", attempts, maxAttempts)
	b.WriteString("- No further automatic recovery, manual intervention required\n")
	return Message{
		Title: fmt.Sprintf("Recovery attempts exhausted: %s", instance.Name),
		Body:  b.String(),
	}
}

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flowmedic/flowmedic/pkg/types"
	"github.com/flowmedic/flowmedic/pkg/validator"
)

func resolveProject(ctx context.Context, a *app, name string) (types.Project, error) {
	projects, err := a.api.ListProjects(ctx)
	if err != nil {
		return types.Project{}, fmt.Errorf("list projects: %w", err)
	}
	for _, p := range projects {
		if p.Name == name {
			return p, nil
		}
	}
	return types.Project{}, fmt.Errorf("project %q not found", name)
}

func findInstance(ctx context.Context, a *app, projectCode, instanceID int64) (types.WorkflowInstance, error) {
	instances, err := a.api.ListInstances(ctx, projectCode, 0, "")
	if err != nil {
		return types.WorkflowInstance{}, fmt.Errorf("list instances: %w", err)
	}
	for _, inst := range instances {
		if inst.ID == instanceID {
			return inst, nil
		}
	}
	return types.WorkflowInstance{}, fmt.Errorf("instance %d not found in project", instanceID)
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Verify the orchestrator API is reachable with the configured token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.api.CheckConnection(ctx); err != nil {
			return fmt.Errorf("connection check failed: %w", err)
		}
		fmt.Printf("Connected to %s\n", a.cfg.Orchestrator.APIURL)
		return nil
	},
}

var listWorkflowsCmd = &cobra.Command{
	Use:   "list-workflows [project]",
	Short: "List workflow definitions and their schedules",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		projects, err := a.api.ListProjects(ctx)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}

		for _, p := range projects {
			if len(args) == 1 && p.Name != args[0] {
				continue
			}
			fmt.Printf("Project: %s (code %d)\n", p.Name, p.Code)

			definitions, err := a.api.ListDefinitions(ctx, p.Code)
			if err != nil {
				fmt.Printf("  error: %v\n", err)
				continue
			}
			schedules, err := a.api.ListSchedules(ctx, p.Code)
			if err != nil {
				fmt.Printf("  error: %v\n", err)
				continue
			}
			byDef := make(map[int64]types.ScheduleDefinition, len(schedules))
			for _, s := range schedules {
				byDef[s.DefinitionCode] = s
			}

			for _, def := range definitions {
				if s, ok := byDef[def.Code]; ok {
					state := "offline"
					if s.Online() {
						state = "online"
					}
					fmt.Printf("  %-40s code=%d cron=%q (%s)\n", def.Name, def.Code, s.Crontab, state)
				} else {
					fmt.Printf("  %-40s code=%d (unscheduled)\n", def.Name, def.Code)
				}
			}
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <project> <instance-id>",
	Short: "Validate one workflow instance for recovery eligibility",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		instanceID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid instance id %q", args[1])
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		project, err := resolveProject(ctx, a, args[0])
		if err != nil {
			return err
		}
		instance, err := findInstance(ctx, a, project.Code, instanceID)
		if err != nil {
			return err
		}

		val := validator.New(a.api, a.cfg.Retry.ValidationMode, a.logger)
		result := val.Validate(ctx, project.Code, instance, 0)
		printValidation(result, 0)
		return nil
	},
}

func printValidation(result *validator.Result, indent int) {
	pad := ""
	for i := 0; i < indent; i++ {
		pad += "  "
	}
	fmt.Printf("%sInstance %d (%s): %s\n", pad, result.Instance.ID, result.Instance.Name, result.Outcome)
	fmt.Printf("%s  state=%s failed=%d running=%d retry_remaining=%d\n",
		pad, result.Instance.State, result.FailedTasks, result.RunningTasks, result.TasksWithRetryRemaining)
	if result.Message != "" {
		fmt.Printf("%s  %s\n", pad, result.Message)
	}
	for _, nested := range result.Nested {
		printValidation(nested, indent+1)
	}
}

var decideCmd = &cobra.Command{
	Use:   "decide <project> <workflow>",
	Short: "Show the tracker's polling decision for one workflow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		project, err := resolveProject(ctx, a, args[0])
		if err != nil {
			return err
		}
		definitions, err := a.api.ListDefinitions(ctx, project.Code)
		if err != nil {
			return fmt.Errorf("list definitions: %w", err)
		}

		var code int64
		for _, def := range definitions {
			if def.Name == args[1] {
				code = def.Code
				break
			}
		}
		if code == 0 {
			return fmt.Errorf("workflow %q not found in project %s", args[1], project.Name)
		}

		decision := a.tracker.Decide(project.Code, code)
		fmt.Printf("Workflow: %s (code %d)\n", args[1], code)
		fmt.Printf("  Query API: %v\n", decision.ShouldQueryAPI)
		fmt.Printf("  Status:    %s\n", decision.Status)
		fmt.Printf("  Reason:    %s\n", decision.Reason)

		if state, ok := a.tracker.GetState(project.Code, code); ok {
			fmt.Printf("  Period:    %s .. %s\n",
				state.CurrentPeriodStart.Format("2006-01-02 15:04"),
				state.CurrentPeriodEnd.Format("2006-01-02 15:04"))
			fmt.Printf("  Cron:      %q\n", state.CronExpression)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Dump tracker, recovery and notification statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		trackerStats := a.tracker.GetStats()
		fmt.Printf("Schedule tracker: %d workflows (window %dh, cooldown %dm)\n",
			trackerStats.TotalWorkflows, trackerStats.WindowHours, trackerStats.CooldownMin)
		for status, count := range trackerStats.ByStatus {
			fmt.Printf("  %-10s %d\n", status, count)
		}

		recoveryStats := a.recovery.GetStatistics()
		fmt.Printf("Recovery: %d instances, %d attempts, %d with budget exhausted\n",
			recoveryStats.TotalWorkflows, recoveryStats.TotalAttempts, recoveryStats.ExhaustedBudget)

		records := a.limiter.Records()
		fmt.Printf("Notifications (max %d per window): %d workflows with recent sends\n",
			a.limiter.Max(), len(records))
		for _, record := range records {
			fmt.Printf("  %-40s %d sent, %d remaining\n",
				record.WorkflowName, len(record.Times),
				a.limiter.Remaining(record.ProjectCode, record.DefinitionCode))
		}
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := yaml.Marshal(a.cfg.Redacted())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

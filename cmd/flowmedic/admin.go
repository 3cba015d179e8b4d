package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var recoverForce bool

var recoverCmd = &cobra.Command{
	Use:   "recover <project> <instance-id>",
	Short: "Validate and recover one workflow instance",
	Long: `Validate a failed workflow instance and submit recovery when it is
eligible. With --force, validation is skipped; the attempt budget still
applies either way.`,
	Args: cobra.ExactArgs(2),
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

		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		project, err := resolveProject(ctx, a, args[0])
		if err != nil {
			return err
		}
		instance, err := findInstance(ctx, a, project.Code, instanceID)
		if err != nil {
			return err
		}

		result := a.recovery.Process(ctx, project.Code, instance)
		if recoverForce && !result.Executed {
			result = a.recovery.Force(ctx, project.Code, instance)
		}

		if result.Executed {
			fmt.Printf("Recovery submitted for instance %d (%s), attempt %d\n",
				instance.ID, instance.Name, result.AttemptCount)
		} else {
			fmt.Printf("Recovery not executed for instance %d (%s): %s\n",
				instance.ID, instance.Name, result.Reason)
		}
		return nil
	},
}

var (
	clearInstanceID   int64
	clearNotification bool
)

var clearRecordsCmd = &cobra.Command{
	Use:   "clear-records",
	Short: "Clear recovery attempt records, resetting attempt budgets",
	Long: `Clear persisted recovery attempt records. Without flags, every
record is dropped. With --instance-id, only that instance's budget resets.
With --notifications, notification rate-limit history is cleared too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if clearInstanceID != 0 {
			if a.recovery.ClearRecord(clearInstanceID) {
				fmt.Printf("Cleared recovery record for instance %d\n", clearInstanceID)
			} else {
				fmt.Printf("No recovery record for instance %d\n", clearInstanceID)
			}
		} else {
			cleared := a.recovery.ClearAll()
			fmt.Printf("Cleared %d recovery records\n", cleared)
		}

		if clearNotification {
			a.limiter.Reset()
			fmt.Println("Cleared notification history")
		}
		return nil
	},
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverForce, "force", false, "Submit recovery even when validation says not eligible")
	clearRecordsCmd.Flags().Int64Var(&clearInstanceID, "instance-id", 0, "Clear only this instance's record")
	clearRecordsCmd.Flags().BoolVar(&clearNotification, "notifications", false, "Also clear notification rate-limit history")
}

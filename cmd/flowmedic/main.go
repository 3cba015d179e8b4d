package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flowmedic/flowmedic/pkg/api"
	"github.com/flowmedic/flowmedic/pkg/client"
	"github.com/flowmedic/flowmedic/pkg/config"
	"github.com/flowmedic/flowmedic/pkg/log"
	"github.com/flowmedic/flowmedic/pkg/monitor"
	"github.com/flowmedic/flowmedic/pkg/notify"
	"github.com/flowmedic/flowmedic/pkg/recovery"
	"github.com/flowmedic/flowmedic/pkg/storage"
	"github.com/flowmedic/flowmedic/pkg/tracker"
	"github.com/flowmedic/flowmedic/pkg/validator"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowmedic",
	Short: "Flowmedic - auto-recovery monitor for DolphinScheduler workflows",
	Long: `Flowmedic watches scheduled DolphinScheduler workflows, validates
failed runs, and restarts them from their failed tasks - with per-instance
attempt budgets, schedule-aware polling, and rate-limited notifications.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Flowmedic version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(testConnectionCmd)
	rootCmd.AddCommand(listWorkflowsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearRecordsCmd)
	rootCmd.AddCommand(showConfigCmd)
}

// app is the assembled component graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *storage.BoltStore
	api      client.API
	tracker  *tracker.Tracker
	recovery *recovery.Handler
	limiter  *notify.RateLimiter
	notifier *notify.Manager
	monitor  *monitor.Monitor
}

// newApp loads config and wires the full pipeline. Callers must Close.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.New(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
		Output:     os.Stderr,
	})

	store, err := storage.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	var api client.API = client.NewHTTPClient(cfg.Orchestrator.APIURL, cfg.Orchestrator.Token, logger)
	api = client.NewCachedClient(api, 5*time.Minute)
	api = client.NewInstrumentedClient(api)

	val := validator.New(api, cfg.Retry.ValidationMode, logger)
	trk := tracker.New(store, cfg.Schedule.ExecutionWindowHours, cfg.Schedule.SuccessCooldownMinutes, logger)
	rec := recovery.New(api, val, store, cfg.Retry.MaxRecoveryAttempts, cfg.Retry.AutoRecovery, logger)
	limiter := notify.NewRateLimiter(store, cfg.Notification.RateLimit.TimeWindowHours, cfg.Notification.RateLimit.MaxNotifications, logger)
	notifier := notify.NewManager(cfg.Notification, limiter, logger)
	mon := monitor.New(cfg, api, trk, rec, notifier, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		api:      api,
		tracker:  trk,
		recovery: rec,
		limiter:  limiter,
		notifier: notifier,
		monitor:  mon,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close state store")
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor loop",
	Long: `Run the monitor loop at the configured interval, or exactly once
when continuous mode is disabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if addr := a.cfg.Metrics.ListenAddr; addr != "" {
			hs := api.NewHealthServer(a.api, Version, a.logger)
			go func() {
				if err := hs.Start(addr); err != nil {
					a.logger.Error().Err(err).Msg("health server failed")
				}
			}()
		}

		a.logger.Info().
			Str("version", Version).
			Str("api_url", a.cfg.Orchestrator.APIURL).
			Bool("continuous", a.cfg.Monitor.ContinuousMode).
			Int("interval_s", a.cfg.Monitor.CheckIntervalSeconds).
			Msg("flowmedic starting")

		if err := a.monitor.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single monitoring tick and print the outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		summary := a.monitor.RunOnce(ctx)

		fmt.Printf("Tick %s finished in %s\n", summary.TickID, summary.Duration.Round(time.Millisecond))
		fmt.Printf("  Projects checked:  %d\n", summary.ProjectsChecked)
		fmt.Printf("  Workflows checked: %d (skipped %d)\n", summary.WorkflowsChecked, summary.WorkflowsSkipped)
		fmt.Printf("  Failures found:    %d\n", summary.FailedFound)
		fmt.Printf("  Recoveries:        %d\n", summary.Recovered)
		fmt.Printf("  Notifications:     %d\n", summary.Notified)
		fmt.Printf("  Errors:            %d\n", summary.Errors)
		for _, o := range summary.Outcomes {
			fmt.Printf("  - [%s] %s/%s instance %d: %s\n", o.Action, o.ProjectName, o.WorkflowName, o.InstanceID, o.Reason)
		}
		return nil
	},
}


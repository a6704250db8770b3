package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perchlabs/roost/pkg/api"
	"github.com/perchlabs/roost/pkg/events"
	"github.com/perchlabs/roost/pkg/log"
	"github.com/perchlabs/roost/pkg/metrics"
	"github.com/perchlabs/roost/pkg/scheduler"
	"github.com/perchlabs/roost/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "roost",
	Short: "Roost - follow scheduler for a fleet of worker accounts",
	Long: `Roost drives a fleet of credentialed worker accounts through
rate-limited follow actions: group-based time sharing, per-account
quotas and pacing, proxy-routed upstream calls, and persistent
at-most-once progress tracking.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Roost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serverCmd.Flags().String("config", "", "Path to roost.yaml")
	serverCmd.Flags().String("listen", "", "Admin API listen address (overrides config)")
	serverCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serverCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	statusCmd.Flags().String("addr", "127.0.0.1:7433", "Admin API address of the running node")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(statusCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the scheduler node",
	Long: `Run the store, the scheduler, and the admin API as a single process.

The scheduler stays idle until settings enable it (PUT /v1/settings with
is_active=true, or POST /v1/control/start after enabling).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.ListenAddr = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			cfg.Log.Level = v
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}

		broker := events.NewBroker()
		broker.Start()

		sched := scheduler.New(store, broker)

		collector := metrics.NewCollector(store)
		collector.Start()

		apiServer := api.NewServer(store, sched, broker)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- err
			}
		}()

		// Resume scheduling when settings were left enabled
		if settings, err := store.GetSettings(); err == nil && settings.Active {
			if err := sched.Start(); err != nil {
				log.Errorf("scheduler did not resume", err)
			}
		}

		log.Info("roost is running, press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			log.Errorf("admin API failed", err)
		}

		// In-flight follows record their outcomes before the loop exits
		if err := sched.Stop(); err != nil {
			log.Errorf("scheduler shutdown failed", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Errorf("admin API shutdown failed", err)
		}

		collector.Stop()
		broker.Stop()

		if err := store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet statistics from a running node",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/v1/stats", addr))
		if err != nil {
			return fmt.Errorf("failed to reach %s: %w", addr, err)
		}
		defer resp.Body.Close()

		var stats struct {
			Running          bool           `json:"running"`
			ActiveGroup      int            `json:"active_group"`
			NextRotation     *time.Time     `json:"next_rotation"`
			Accounts         int            `json:"accounts"`
			ActiveAccounts   int            `json:"active_accounts"`
			FollowsToday     int            `json:"follows_today"`
			FollowsTotal     int            `json:"follows_total"`
			InternalTargets  int            `json:"internal_targets"`
			ExternalTargets  int            `json:"external_targets"`
			ProgressByStatus map[string]int `json:"progress_by_status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return fmt.Errorf("failed to decode stats: %w", err)
		}

		state := "stopped"
		if stats.Running {
			state = "running"
		}
		fmt.Printf("Scheduler:        %s\n", state)
		fmt.Printf("Active group:     %d\n", stats.ActiveGroup)
		if stats.NextRotation != nil {
			fmt.Printf("Next rotation:    %s\n", stats.NextRotation.Format(time.RFC3339))
		}
		fmt.Printf("Accounts:         %d (%d active)\n", stats.Accounts, stats.ActiveAccounts)
		fmt.Printf("Follows today:    %d\n", stats.FollowsToday)
		fmt.Printf("Follows total:    %d\n", stats.FollowsTotal)
		fmt.Printf("Targets:          %d internal, %d external\n", stats.InternalTargets, stats.ExternalTargets)
		if len(stats.ProgressByStatus) > 0 {
			fmt.Println("Progress:")
			for _, status := range []string{"pending", "in_progress", "completed", "failed"} {
				if n, ok := stats.ProgressByStatus[status]; ok {
					fmt.Printf("  %-12s %d\n", status, n)
				}
			}
		}
		return nil
	},
}

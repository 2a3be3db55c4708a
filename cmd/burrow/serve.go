package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/metrics"
	"github.com/burrowhq/burrow/pkg/orchestrator"
	"github.com/burrowhq/burrow/pkg/runtime"
	"github.com/burrowhq/burrow/pkg/storage"
	"github.com/burrowhq/burrow/pkg/types"
	"github.com/burrowhq/burrow/pkg/workload"
)

const shutdownSyncDeadline = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool orchestrator on this node",
	Long: `Start the orchestrator: load workload specs, recover persisted state,
warm the pools and serve until interrupted. Each workload gets a pool named
after its id unless one already exists from a previous run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workloadsPath, _ := cmd.Flags().GetString("workloads")
		logLevel, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json")

		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: jsonLogs})
		metrics.SetVersion(Version)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		specs, err := loadWorkloads(workloadsPath)
		if err != nil {
			return err
		}
		workloads := workload.NewRegistry()
		for _, w := range specs {
			if err := workloads.Register(w); err != nil {
				return err
			}
		}

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		store, err := storage.NewSQLiteStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		metrics.RegisterComponent("store", true, "")

		driver, err := runtime.NewContainerdDriver(cfg.ContainerdSocket, filepath.Join(cfg.DataDir, "resolv"))
		if err != nil {
			store.Close()
			return fmt.Errorf("failed to connect to containerd: %w", err)
		}
		metrics.RegisterComponent("containerd", true, "")

		orch := orchestrator.New(cfg, store, driver, workloads, nil)

		ctx := context.Background()
		if err := orch.Start(ctx); err != nil {
			store.Close()
			return err
		}

		// One pool per workload; pools from a previous run were already
		// restored from the store.
		for _, w := range specs {
			if _, err := orch.Pools().CreatePool(ctx, w.ID, w.ID); err != nil {
				if err == types.ErrPoolExists {
					continue
				}
				orch.Shutdown(shutdownSyncDeadline)
				return err
			}
		}

		collector := metrics.NewCollector(orch.Pools())
		collector.Start()

		metricsServer := metrics.NewServer(cfg.MetricsAddr)
		errCh := make(chan error, 1)
		go func() {
			if err := metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()

		log.Logger.Info().
			Str("version", Version).
			Str("metrics_addr", cfg.MetricsAddr).
			Int("workloads", workloads.Count()).
			Msg("Burrow is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("Shutting down")
		case err := <-errCh:
			log.Errorf("Metrics server failed: %v", err)
		}

		collector.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Errorf("Failed to stop metrics server: %v", err)
		}

		orch.Shutdown(shutdownSyncDeadline)
		driver.Close()
		return nil
	},
}

// loadWorkloads accepts a YAML file or a directory of YAML files.
func loadWorkloads(path string) ([]*types.WorkloadSpec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workloads path: %w", err)
	}
	if info.IsDir() {
		return workload.LoadDir(path)
	}
	return workload.LoadFile(path)
}

func init() {
	serveCmd.Flags().String("workloads", "/etc/burrow/workloads.yaml", "Workload spec file or directory")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("json", false, "Log JSON instead of console output")
}

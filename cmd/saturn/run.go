package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"cobalt-hq/saturn/pkg/audit"
	"cobalt-hq/saturn/pkg/collab"
	"cobalt-hq/saturn/pkg/config"
	"cobalt-hq/saturn/pkg/dsl/source"
	"cobalt-hq/saturn/pkg/rules/registry"
	"cobalt-hq/saturn/pkg/store"
	"cobalt-hq/saturn/pkg/telemetry/health"
	"cobalt-hq/saturn/pkg/telemetry/logging"
	"cobalt-hq/saturn/pkg/telemetry/metrics"
	"cobalt-hq/saturn/pkg/workflow"
	"cobalt-hq/saturn/pkg/workflow/instance"
)

var runFlags struct {
	logLevel string
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Saturn engine",
	Long: `Start the Saturn engine with the specified configuration.

Definitions are loaded from the configured directory into the definition
store; the directory is watched so edits land without a restart. The
engine then accepts workflow instances and progresses them until shutdown.

Examples:
  # Start with defaults
  saturn run --config config.yaml

  # Validate config and definitions without starting
  saturn run --config config.yaml --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and definitions without starting")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores.
	defs, instances, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer defs.Close()
	defer instances.Close()

	// Definition loading and hot reload.
	rules := registry.New(defs, logger)
	loader := source.NewLoader(defs, rules, logger)
	if _, err := os.Stat(cfg.Definitions.Dir); err == nil {
		report, err := loader.LoadDir(ctx, cfg.Definitions.Dir)
		if err != nil {
			return err
		}
		if len(report.Errors) > 0 && runFlags.dryRun {
			return fmt.Errorf("%d definition file(s) rejected", len(report.Errors))
		}
	} else {
		logger.Warn("definition directory missing, starting empty", "dir", cfg.Definitions.Dir)
	}

	if runFlags.dryRun {
		fmt.Println("configuration and definitions valid")
		return nil
	}

	if cfg.Definitions.Watch {
		watcher, err := source.NewWatcher(loader, cfg.Definitions.Dir, cfg.Definitions.DebounceInterval, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Error("definition watcher exited", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	// Collaborators and the progression stack.
	agents := collab.NewAgentRegistry(logger)
	collab.RegisterBuiltinAgents(agents)
	ai := collab.NewStaticAIService()

	invoker := workflow.NewInvoker(cfg.Institution, agents, ai, rules, cfg.Collaborators, logger)
	machine := workflow.NewMachine(invoker, collab.NewLogSink(logger), logger)
	manager := instance.NewManager(defs, instances, machine, logger)
	if len(cfg.Settings) > 0 {
		manager.SetInstitutionSettings(cfg.Settings)
	}

	// Metrics.
	if cfg.Metrics.Enabled {
		prometheusRegistry := prometheus.NewRegistry()
		invoker.Engine().SetMetrics(metrics.NewEngineMetrics(prometheusRegistry))
		wm := metrics.NewWorkflowMetrics(prometheusRegistry)
		machine.SetMetrics(wm)
		manager.SetMetrics(wm)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}))

		checker := health.New(0)
		checker.RegisterCheck("definitions", defs.Ping)
		checker.RegisterCheck("instances", instances.Ping)
		health.Register(mux, checker)
		metricsServer := &http.Server{
			Addr:        cfg.Metrics.ListenAddress,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "address", cfg.Metrics.ListenAddress)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// Event delivery and retention.
	pool := instance.NewPool(manager, cfg.Workers.Count, cfg.Workers.QueueDepth, logger)
	defer pool.Shutdown()

	scheduler := audit.NewScheduler(audit.NewPruner(instances, cfg.Retention, logger))
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	logger.Info("saturn started",
		"institution", cfg.Institution,
		"definitions", cfg.Definitions.Dir,
		"storage", cfg.Storage.Backend,
		"workers", cfg.Workers.Count,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func openStores(cfg *config.Config, logger *slog.Logger) (store.DefinitionStore, store.InstanceStore, error) {
	if cfg.Storage.Backend == "memory" {
		mem := store.NewMemory()
		return mem, mem, nil
	}

	defs, err := store.NewSQLiteDefinitions(cfg.Storage.DefinitionsPath, logger)
	if err != nil {
		return nil, nil, err
	}
	instances, err := store.NewSQLiteInstances(cfg.Storage.InstancesPath, logger)
	if err != nil {
		defs.Close()
		return nil, nil, err
	}
	return defs, instances, nil
}

package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/uptime/internal/control"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and every configured worker",
	RunE:  runAll,
}

var pusherCmd = &cobra.Command{
	Use:   "pusher",
	Short: "Run only the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Scheduler.Enabled = true
		cfg.Worker.Enabled = false
		return serve(cmd.Context())
	},
}

var workerRegions []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Scheduler.Enabled = false
		cfg.Worker.Enabled = true
		if len(workerRegions) > 0 {
			cfg.Worker.Regions = workerRegions
		}
		return serve(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().StringSliceVar(&workerRegions, "region", nil, "region(s) to probe from, overrides worker.regions")
	rootCmd.AddCommand(runCmd, pusherCmd, workerCmd)
}

func runAll(cmd *cobra.Command, args []string) error {
	return serve(cmd.Context())
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// NewApp waits for an unreachable store, so a signal must be able to
	// interrupt it.
	initCtx, stopInit := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	app, err := control.NewApp(initCtx, cfg)
	stopInit()
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start", "error", err)
		return err
	}

	slog.Info("Uptime started",
		"config", cfgPath,
		"scheduler", cfg.Scheduler.Enabled,
		"regions", len(app.Workers()),
	)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case <-parent.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		return err
	}
	slog.Info("Uptime stopped gracefully")
	return nil
}

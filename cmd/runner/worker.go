package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waldiez/runner/internal/config"
	"github.com/waldiez/runner/internal/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run task workers without serving HTTP/WebSocket traffic",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return wrapStartup(err)
	}

	d, err := newDeps(cfg)
	if err != nil {
		return wrapStartup(err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("worker: dispatch loop starting", "max_jobs", cfg.MaxJobs)
		errCh <- d.sched.Run(ctx)
	}()

	select {
	case <-sigCh:
		logger.Info("worker: shutdown signal received")
		cancel()
	case err := <-errCh:
		return err
	}
	return nil
}

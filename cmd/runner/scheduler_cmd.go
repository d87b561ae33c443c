package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waldiez/runner/internal/config"
	"github.com/waldiez/runner/internal/logger"
	"github.com/waldiez/runner/internal/reconciler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run only the periodic orphaned-task reconciler",
	RunE:  runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, _ []string) error {
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

	recon := reconciler.New(d.taskStore, d.registry)
	go func() {
		logger.Info("scheduler: reconciler starting", "interval", reconciler.DefaultInterval)
		recon.Run(ctx)
	}()

	<-sigCh
	logger.Info("scheduler: shutdown signal received")
	recon.Stop()
	cancel()
	return nil
}

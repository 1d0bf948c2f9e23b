package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/metrics"
)

func newWorkerCmd() *cobra.Command {
	var configPath string
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the dispatch worker pool",
		Long:  "Claims queued dispatch jobs, performs provider sends with retries, and requeues work lost to crashed workers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath, workers)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().IntVarP(&workers, "workers", "n", 0, "worker count (overrides config)")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string, workers int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = cfg.Dispatch.Workers
	}

	m := metrics.New()
	dispatcher, queue, err := buildDispatcher(cfg, gormDB, m, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return dispatch.RunWorkers(ctx, dispatch.WorkerOpts{
		Dispatcher:   dispatcher,
		Queue:        queue,
		Workers:      workers,
		ReapSchedule: cfg.Dispatch.ReapSchedule,
		Out:          out,
	})
}

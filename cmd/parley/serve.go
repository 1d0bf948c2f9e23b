package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/ingest"
	"github.com/parleyhq/parley/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway",
		Long:  "Receives provider webhooks, updates conversation state, evaluates bot scenarios and enqueues replies for the dispatch workers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	dispatcher, _, err := buildDispatcher(cfg, gormDB, m, out)
	if err != nil {
		return err
	}
	handler, err := ingest.New(ingest.Opts{
		DB:         gormDB,
		Dispatcher: dispatcher,
		Metrics:    m,
		Out:        out,
	})
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

	return ingest.Start(ctx, ingest.StartOpts{
		DB:          gormDB,
		Handler:     handler,
		AppSecret:   os.Getenv(cfg.Provider.AppSecretEnv),
		Port:        cfg.Server.Port,
		WebhookPath: cfg.Server.WebhookPath,
		Out:         out,
	})
}

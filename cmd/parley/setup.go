package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/alert"
	"github.com/parleyhq/parley/internal/alert/discord"
	"github.com/parleyhq/parley/internal/alert/slack"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/db"
	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/vault"
)

// connectFromConfig loads the config file and opens the database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// openVault builds the credential vault from the configured key variable.
// A missing key is not an error here; vault operations report it when a
// credential is actually needed.
func openVault(cfg *config.Config) (*vault.Vault, error) {
	return vault.New(os.Getenv(cfg.Vault.KeyEnv))
}

// buildNotifier creates the configured alert sink, or a no-op one.
func buildNotifier(cfg *config.Config) (alert.Notifier, error) {
	switch cfg.Alerts.Platform {
	case "slack":
		return slack.New(slack.Opts{
			BotToken:  os.Getenv(cfg.Alerts.Slack.BotTokenEnv),
			ChannelID: cfg.Alerts.Slack.ChannelID,
		})
	case "discord":
		return discord.New(discord.Opts{
			BotToken:  os.Getenv(cfg.Alerts.Discord.TokenEnv),
			ChannelID: cfg.Alerts.Discord.ChannelID,
		})
	default:
		return alert.Nop{}, nil
	}
}

// buildDispatcher wires the queue, vault, alerts and metrics into one
// Dispatcher. Both serve and worker use the same wiring so an enqueue
// from either process lands in the same durable queue.
func buildDispatcher(cfg *config.Config, gormDB *gorm.DB, m *metrics.Metrics, out io.Writer) (*dispatch.Dispatcher, *dispatch.Queue, error) {
	v, err := openVault(cfg)
	if err != nil {
		return nil, nil, err
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return nil, nil, err
	}

	queue := dispatch.NewQueue(gormDB, time.Duration(cfg.Dispatch.LeaseSec)*time.Second)
	d, err := dispatch.New(dispatch.Opts{
		DB:          gormDB,
		Queue:       queue,
		Vault:       v,
		APIURL:      cfg.Provider.APIURL,
		Timeout:     time.Duration(cfg.Provider.TimeoutSec) * time.Second,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Backoff: dispatch.Backoff{
			Base: time.Duration(cfg.Dispatch.BaseDelaySec) * time.Second,
			Max:  time.Duration(cfg.Dispatch.MaxDelaySec) * time.Second,
		},
		Alerts:  notifier,
		Metrics: m,
		Out:     out,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build dispatcher: %w", err)
	}
	return d, queue, nil
}

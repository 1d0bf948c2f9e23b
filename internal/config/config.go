// Package config provides YAML-based configuration loading for Parley.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Parley configuration, loaded from parley.yaml.
// Secrets are never stored in the file; the *Env fields name environment
// variables that hold them.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	DB       DBConfig        `yaml:"db"`
	Provider ProviderConfig  `yaml:"provider"`
	Vault    VaultConfig     `yaml:"vault"`
	Dispatch DispatchConfig  `yaml:"dispatch"`
	Alerts   AlertConfig     `yaml:"alerts"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ServerConfig holds webhook gateway settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	WebhookPath string `yaml:"webhook_path"`
}

// DBConfig holds connection settings for the conversation store.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite only
}

// ProviderConfig holds settings for the outbound provider API.
type ProviderConfig struct {
	APIURL       string `yaml:"api_url"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	AppSecretEnv string `yaml:"app_secret_env"`
}

// VaultConfig names the environment variable holding the credential
// encryption key.
type VaultConfig struct {
	KeyEnv string `yaml:"key_env"`
}

// DispatchConfig holds worker-pool and retry-policy settings. The retry
// numbers are deployment policy, not product requirements.
type DispatchConfig struct {
	Workers      int    `yaml:"workers"`
	MaxAttempts  int    `yaml:"max_attempts"`
	BaseDelaySec int    `yaml:"base_delay_sec"`
	MaxDelaySec  int    `yaml:"max_delay_sec"`
	LeaseSec     int    `yaml:"lease_sec"`
	ReapSchedule string `yaml:"reap_schedule"` // 5-field cron expression
}

// AlertConfig selects the operator alert sink.
type AlertConfig struct {
	Platform string             `yaml:"platform"` // "", "slack", "discord"
	Slack    SlackAlertConfig   `yaml:"slack"`
	Discord  DiscordAlertConfig `yaml:"discord"`
}

// SlackAlertConfig holds Slack alert sink settings.
type SlackAlertConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	ChannelID   string `yaml:"channel_id"`
}

// DiscordAlertConfig holds Discord alert sink settings.
type DiscordAlertConfig struct {
	TokenEnv  string `yaml:"token_env"`
	ChannelID string `yaml:"channel_id"`
}

// ChannelConfig seeds a provider sending number at migration time.
type ChannelConfig struct {
	PhoneNumber      string `yaml:"phone_number"`
	DisplayName      string `yaml:"display_name"`
	ProviderNumberID string `yaml:"provider_number_id"`
	VerifyToken      string `yaml:"verify_token"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = "/webhooks/provider"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "mysql"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Database == "" {
		c.DB.Database = "parley"
	}
	if c.DB.Path == "" {
		c.DB.Path = "parley.db"
	}
	if c.Provider.APIURL == "" {
		c.Provider.APIURL = "https://graph.facebook.com/v19.0"
	}
	if c.Provider.TimeoutSec == 0 {
		c.Provider.TimeoutSec = 30
	}
	if c.Provider.AppSecretEnv == "" {
		c.Provider.AppSecretEnv = "PARLEY_APP_SECRET"
	}
	if c.Vault.KeyEnv == "" {
		c.Vault.KeyEnv = "PARLEY_VAULT_KEY"
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.BaseDelaySec == 0 {
		c.Dispatch.BaseDelaySec = 60
	}
	if c.Dispatch.MaxDelaySec == 0 {
		c.Dispatch.MaxDelaySec = 300
	}
	if c.Dispatch.LeaseSec == 0 {
		c.Dispatch.LeaseSec = 120
	}
	if c.Dispatch.ReapSchedule == "" {
		c.Dispatch.ReapSchedule = "* * * * *"
	}
	if c.Alerts.Slack.BotTokenEnv == "" {
		c.Alerts.Slack.BotTokenEnv = "PARLEY_SLACK_TOKEN"
	}
	if c.Alerts.Discord.TokenEnv == "" {
		c.Alerts.Discord.TokenEnv = "PARLEY_DISCORD_TOKEN"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (mysql, sqlite)", c.DB.Driver))
	}
	switch c.Alerts.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("alerts.platform %q is not supported (slack, discord)", c.Alerts.Platform))
	}
	if c.Alerts.Platform == "slack" && c.Alerts.Slack.ChannelID == "" {
		errs = append(errs, "alerts.slack.channel_id is required when alerts.platform is slack")
	}
	if c.Alerts.Platform == "discord" && c.Alerts.Discord.ChannelID == "" {
		errs = append(errs, "alerts.discord.channel_id is required when alerts.platform is discord")
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "dispatch.max_attempts must be at least 1")
	}
	for i, ch := range c.Channels {
		if ch.PhoneNumber == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].phone_number is required", i))
		}
		if ch.ProviderNumberID == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].provider_number_id is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

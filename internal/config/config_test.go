package config

import (
	"strings"
	"testing"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
db:
  driver: sqlite
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WebhookPath != "/webhooks/provider" {
		t.Errorf("webhook path = %q", cfg.Server.WebhookPath)
	}
	if cfg.Provider.APIURL == "" || cfg.Provider.TimeoutSec != 30 {
		t.Errorf("provider defaults = %+v", cfg.Provider)
	}
	if cfg.Vault.KeyEnv != "PARLEY_VAULT_KEY" {
		t.Errorf("vault key env = %q", cfg.Vault.KeyEnv)
	}
	if cfg.Dispatch.Workers != 4 || cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("dispatch defaults = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.BaseDelaySec != 60 || cfg.Dispatch.MaxDelaySec != 300 {
		t.Errorf("retry defaults = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.ReapSchedule != "* * * * *" {
		t.Errorf("reap schedule = %q", cfg.Dispatch.ReapSchedule)
	}
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9090
  webhook_path: /hooks/wa
db:
  driver: mysql
  host: db.internal
  port: 3307
  database: parley_prod
provider:
  api_url: https://graph.example.com/v19.0
  timeout_sec: 10
dispatch:
  workers: 8
  max_attempts: 5
  base_delay_sec: 30
  max_delay_sec: 600
alerts:
  platform: slack
  slack:
    channel_id: C123
channels:
  - phone_number: "15550001111"
    display_name: Support
    provider_number_id: pn-1
    verify_token: tok
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.WebhookPath != "/hooks/wa" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.DB.Host != "db.internal" || cfg.DB.Port != 3307 {
		t.Errorf("db = %+v", cfg.DB)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Errorf("max attempts = %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Alerts.Platform != "slack" || cfg.Alerts.Slack.ChannelID != "C123" {
		t.Errorf("alerts = %+v", cfg.Alerts)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].ProviderNumberID != "pn-1" {
		t.Errorf("channels = %+v", cfg.Channels)
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad driver",
			yaml: "db:\n  driver: postgres\n",
			want: "db.driver",
		},
		{
			name: "bad alert platform",
			yaml: "alerts:\n  platform: pager\n",
			want: "alerts.platform",
		},
		{
			name: "slack without channel",
			yaml: "alerts:\n  platform: slack\n",
			want: "alerts.slack.channel_id",
		},
		{
			name: "channel without number",
			yaml: "channels:\n  - provider_number_id: pn-1\n",
			want: "phone_number",
		},
		{
			name: "channel without provider id",
			yaml: "channels:\n  - phone_number: \"15550001111\"\n",
			want: "provider_number_id",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

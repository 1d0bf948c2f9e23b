package slack

import (
	"context"
	"errors"
	"testing"

	slackapi "github.com/slack-go/slack"

	"github.com/parleyhq/parley/internal/alert"
)

// mockClient records PostMessage calls.
type mockClient struct {
	channelIDs []string
	options    [][]slackapi.MsgOption
	err        error
}

func (m *mockClient) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.channelIDs = append(m.channelIDs, channelID)
	m.options = append(m.options, options)
	return "C1", "123.456", m.err
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C1"}); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := New(Opts{BotToken: "xoxb-1"}); err == nil {
		t.Fatal("expected error without channel")
	}
}

func TestNotifyPostsToChannel(t *testing.T) {
	mock := &mockClient{}
	n, err := New(Opts{ChannelID: "C-alerts", Client: mock})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ev := alert.Event{Title: "Delivery retries exhausted", Body: "job j-1", Severity: alert.SeverityError}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(mock.channelIDs) != 1 || mock.channelIDs[0] != "C-alerts" {
		t.Errorf("posted to %v", mock.channelIDs)
	}
	if len(mock.options[0]) == 0 {
		t.Error("no message options attached")
	}
}

func TestNotifyPropagatesError(t *testing.T) {
	mock := &mockClient{err: errors.New("rate limited")}
	n, _ := New(Opts{ChannelID: "C-alerts", Client: mock})

	err := n.Notify(context.Background(), alert.Event{Title: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

// Package discord posts operator alerts to a Discord channel.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/parleyhq/parley/internal/alert"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts alert events as embeds.
type Notifier struct {
	sess      session
	channelID string
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	BotToken  string // Discord bot token
	ChannelID string // channel to post alerts to
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier. Alerts go over the REST API; no gateway
// connection is opened.
func New(opts Opts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	n := &Notifier{channelID: opts.ChannelID}
	if opts.Session != nil {
		n.sess = opts.Session
	} else {
		sess, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		n.sess = sess
	}
	return n, nil
}

// Notify implements alert.Notifier.
func (n *Notifier) Notify(ctx context.Context, ev alert.Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       ev.Title,
		Description: ev.Body,
		Color:       embedColor(ev.Severity),
	}
	_, err := n.sess.ChannelMessageSendEmbed(n.channelID, embed,
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: post alert: %w", err)
	}
	return nil
}

// embedColor converts the shared hex color hint to Discord's int form.
func embedColor(severity string) int {
	hex := strings.TrimPrefix(alert.Color(severity), "#")
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

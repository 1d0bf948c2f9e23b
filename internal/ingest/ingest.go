// Package ingest receives provider webhook traffic and drives it through
// conversation state, scenario evaluation and outbound dispatch.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/scenario"
	"github.com/parleyhq/parley/internal/store"
	"gorm.io/gorm"
)

// Opts holds parameters for creating a Handler.
type Opts struct {
	DB         *gorm.DB
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Out        io.Writer // defaults to io.Discard
}

// Handler processes parsed webhook events. Entries are isolated: a failure
// in one never blocks the others, since the provider retries the whole
// delivery and the idempotency key absorbs the overlap.
type Handler struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	out        io.Writer
}

// New creates a Handler.
func New(opts Opts) (*Handler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ingest: db is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("ingest: dispatcher is required")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Handler{
		db:         opts.DB,
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
		out:        opts.Out,
	}, nil
}

// HandleEvent processes every entry of a webhook delivery. Only storage
// unavailability propagates, so the HTTP layer can ask the provider to
// redeliver; everything else is logged and absorbed. Any error that is not
// a domain sentinel counts as unavailability: a driver or connection
// failure means the message is unpersisted and redelivery can save it.
func (h *Handler) HandleEvent(ev *Event) error {
	var unavailable bool
	for _, entry := range ev.Entry {
		for _, change := range entry.Changes {
			if err := h.handleValue(change.Value); err != nil {
				if store.IsUnavailable(err) {
					unavailable = true
				}
				log.Printf("ingest: entry %s: %v", entry.ID, err)
			}
		}
	}
	if unavailable {
		return store.ErrStoreUnavailable
	}
	return nil
}

func (h *Handler) handleValue(v Value) error {
	var channel models.Channel
	err := h.db.Where("provider_number_id = ? AND active = ?", v.Metadata.PhoneNumberID, true).
		First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Traffic for a number this deployment does not serve.
		log.Printf("ingest: no channel for provider number %q", v.Metadata.PhoneNumberID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: find channel: %w", err)
	}

	var firstErr error
	for _, msg := range v.Messages {
		if err := h.handleMessage(&channel, v, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range v.Statuses {
		if err := h.handleReceipt(&channel, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleMessage records one inbound message and, when the bot still owns
// the conversation, evaluates the channel's scenario and enqueues replies.
func (h *Handler) handleMessage(channel *models.Channel, v Value, pm ProviderMessage) error {
	if pm.From == "" || pm.ID == "" {
		// Malformed payloads cannot be repaired by redelivery.
		log.Printf("ingest: message without sender or id on %s dropped", channel.PhoneNumber)
		return nil
	}

	conv, err := store.ResolveConversation(h.db, pm.From, v.SenderName(pm.From), channel.ID)
	if err != nil {
		return err
	}

	kind, content, mediaID, caption := pm.Classify()
	_, err = store.RecordInbound(h.db, conv, store.InboundMessage{
		ProviderMessageID: pm.ID,
		Kind:              kind,
		Content:           content,
		MediaID:           mediaID,
		MediaCaption:      caption,
		Timestamp:         pm.Time(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Redelivered webhook; the first delivery already replied.
		if h.metrics != nil {
			h.metrics.InboundDuplicates.Inc()
		}
		return nil
	}
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.InboundReceived.WithLabelValues(kind).Inc()
	}
	fmt.Fprintf(h.out, "ingest: message %s from %s on %s\n", pm.ID, pm.From, channel.PhoneNumber)

	if !conv.BotActive {
		return nil
	}
	return h.respond(channel, conv, content, pm.intent())
}

// respond runs the channel's active scenario against the inbound content
// and applies the resulting actions in order. A conversation parked at a
// question node resumes there instead of re-matching an entry trigger.
func (h *Handler) respond(channel *models.Channel, conv *models.Conversation, content, intent string) error {
	bot, script, err := scenario.ActiveScript(h.db, channel.ID)
	if err != nil {
		log.Printf("ingest: scenario for channel %d: %v", channel.ID, err)
	}
	if bot == nil {
		return nil
	}

	var actions []scenario.Action
	var resumed bool
	if script != nil {
		in := scenario.Input{
			Content:      content,
			Intent:       intent,
			CustomerName: conv.Customer.Name,
			Handle:       conv.Customer.Handle,
			Attributes:   customerAttributes(conv.Customer.Attributes),
		}
		var diags []string
		if conv.CurrentNodeID != "" {
			actions, resumed, diags = script.Resume(conv.CurrentNodeID, in)
			for _, d := range diags {
				log.Printf("ingest: scenario channel %d: %s", channel.ID, d)
			}
			// The walk re-parks via AskQuestion if another question follows.
			if err := store.SetCurrentNode(h.db, conv.ID, ""); err != nil {
				return err
			}
		}
		if !resumed {
			actions, diags = script.Evaluate(in)
			for _, d := range diags {
				log.Printf("ingest: scenario channel %d: %s", channel.ID, d)
			}
		}
	}
	if !resumed && len(actions) == 0 && bot.DefaultResponse != "" {
		actions = []scenario.Action{scenario.SendText{Text: bot.DefaultResponse}}
	}

	for _, act := range actions {
		if h.metrics != nil {
			h.metrics.ActionsProduced.WithLabelValues(fmt.Sprintf("%T", act)).Inc()
		}
		switch a := act.(type) {
		case scenario.Takeover:
			if err := store.Takeover(h.db, conv.ID); err != nil {
				return err
			}
			fmt.Fprintf(h.out, "ingest: conversation %d handed to a human\n", conv.ID)
			return nil
		case scenario.TagCustomer:
			if err := store.TagCustomer(h.db, conv.CustomerID, a.Tag); err != nil {
				return err
			}
		case scenario.SaveField:
			if err := store.SaveCustomerField(h.db, conv.CustomerID, a.Field, a.Value); err != nil {
				return err
			}
		case scenario.AskQuestion:
			if _, err := h.dispatcher.Enqueue(conv.ID, scenario.SendText{Text: a.Text}, true); err != nil {
				return err
			}
			if err := store.SetCurrentNode(h.db, conv.ID, a.NodeID); err != nil {
				return err
			}
		default:
			if _, err := h.dispatcher.Enqueue(conv.ID, act, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleReceipt routes one delivery receipt. Receipts for unknown
// messages, and stale out-of-order ones, are logged and dropped; only a
// store failure propagates, so the provider redelivers the receipt.
func (h *Handler) handleReceipt(channel *models.Channel, r Receipt) error {
	status, ok := receiptStatus(r.Status)
	if !ok {
		log.Printf("ingest: unknown receipt status %q for %s", r.Status, r.ID)
		return nil
	}
	err := store.MarkStatusByProviderID(h.db, channel.ID, r.ID, status)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrUnknownMessage):
		if h.metrics != nil {
			h.metrics.ReceiptsDropped.Inc()
		}
		log.Printf("ingest: receipt for unknown message %s dropped", r.ID)
	case errors.Is(err, store.ErrInvalidTransition):
		log.Printf("ingest: stale receipt %s (%s) dropped", r.ID, r.Status)
	default:
		return err
	}
	return nil
}

// receiptStatus maps the provider's receipt vocabulary onto stored states.
func receiptStatus(s string) (string, bool) {
	switch s {
	case "sent":
		return models.StatusSent, true
	case "delivered":
		return models.StatusDelivered, true
	case "read":
		return models.StatusRead, true
	case "failed":
		return models.StatusFailed, true
	}
	return "", false
}

// intent extracts a machine-readable intent tag from structured replies:
// the button payload or the tapped reply's id.
func (m ProviderMessage) intent() string {
	if m.Button != nil {
		return m.Button.Payload
	}
	if m.Interactive != nil {
		if r := m.Interactive.ButtonReply; r != nil {
			return r.ID
		}
		if r := m.Interactive.ListReply; r != nil {
			return r.ID
		}
	}
	return ""
}

// customerAttributes decodes the stored attribute map, tolerating legacy
// or hand-edited rows.
func customerAttributes(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil
	}
	return attrs
}

// Package store owns all writes to Customer, Conversation and Message rows.
// Every multi-row effect runs in one transaction; conflicting writers are
// retried a bounded number of times before ErrStoreUnavailable surfaces.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by store operations.
var (
	ErrDuplicate         = errors.New("store: duplicate provider message id")
	ErrInvalidTransition = errors.New("store: invalid status transition")
	ErrStoreUnavailable  = errors.New("store: unavailable after retries")
	ErrUnknownMessage    = errors.New("store: unknown message")
)

// maxConflictRetries bounds retry-on-conflict loops for concurrent writers.
const maxConflictRetries = 3

// IsUnavailable reports whether err is an infrastructure failure of the
// store itself rather than a domain condition. Everything that is not one
// of the domain sentinels or a plain record-not-found counts: a driver or
// connection error means a retry can succeed once the store is back.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrUnknownMessage),
		errors.Is(err, gorm.ErrRecordNotFound):
		return false
	}
	return true
}

// InboundMessage carries the fields of one parsed inbound provider message.
type InboundMessage struct {
	ProviderMessageID string
	Kind              string
	Content           string
	MediaID           string
	MediaCaption      string
	Timestamp         time.Time
}

// ResolveConversation finds the open Conversation for (handle, channel) or
// creates Customer and Conversation atomically if absent. Safe under
// concurrent calls for the same unseen handle: creation races surface as
// unique-constraint conflicts and the loser re-reads the winner's rows.
func ResolveConversation(db *gorm.DB, handle, displayName string, channelID uint) (*models.Conversation, error) {
	if handle == "" {
		return nil, fmt.Errorf("store: handle is required")
	}
	if channelID == 0 {
		return nil, fmt.Errorf("store: channelID is required")
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		conv, err := findOpenConversation(db, handle, channelID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		conv, err = createConversation(db, handle, displayName, channelID)
		if err == nil {
			return conv, nil
		}
		if !isConflict(err) {
			return nil, err
		}
		// Lost a creation race; loop re-reads what the winner inserted.
	}
	return nil, ErrStoreUnavailable
}

func findOpenConversation(db *gorm.DB, handle string, channelID uint) (*models.Conversation, error) {
	var customer models.Customer
	if err := db.Where("handle = ?", handle).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("store: find customer %s: %w", handle, err)
	}

	var conv models.Conversation
	err := db.Where("customer_id = ? AND channel_id = ? AND status = ?",
		customer.ID, channelID, models.ConversationActive).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("store: find conversation: %w", err)
	}
	conv.Customer = customer
	return &conv, nil
}

func createConversation(db *gorm.DB, handle, displayName string, channelID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		err := tx.Where("handle = ?", handle).First(&customer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			customer = models.Customer{
				Handle:     handle,
				Name:       displayName,
				Tags:       "[]",
				Attributes: "{}",
			}
			if err := tx.Create(&customer).Error; err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("store: find customer: %w", err)
		}

		openKey := fmt.Sprintf("%d:%d", customer.ID, channelID)
		conv = models.Conversation{
			CustomerID: customer.ID,
			ChannelID:  channelID,
			Status:     models.ConversationActive,
			OpenKey:    &openKey,
			BotActive:  true,
		}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		conv.Customer = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// RecordInbound inserts an inbound Message and bumps the conversation's
// last-message time and unread counter in one transaction. A provider
// message id already recorded for the channel yields ErrDuplicate with no
// side effects; this is the idempotency boundary for redelivered webhooks.
func RecordInbound(db *gorm.DB, conv *models.Conversation, in InboundMessage) (*models.Message, error) {
	if conv == nil {
		return nil, fmt.Errorf("store: conversation is required")
	}
	if in.ProviderMessageID == "" {
		return nil, fmt.Errorf("store: provider message id is required")
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := models.Message{
		ConversationID:    conv.ID,
		ChannelID:         conv.ChannelID,
		ProviderMessageID: &in.ProviderMessageID,
		Direction:         models.DirectionInbound,
		Kind:              in.Kind,
		Content:           in.Content,
		MediaID:           in.MediaID,
		MediaCaption:      in.MediaCaption,
		Status:            models.StatusDelivered,
		CreatedAt:         ts,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"last_message_at": ts,
				"unread_count":    gorm.Expr("unread_count + 1"),
			}).Error
	})
	if err != nil {
		if isConflict(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("store: record inbound: %w", err)
	}
	return &msg, nil
}

// RecordOutboundPending inserts an outbound Message with status pending and
// no provider id. Dispatch owns every later status change.
func RecordOutboundPending(db *gorm.DB, conversationID uint, kind, content, caption string, byBot bool) (*models.Message, error) {
	var conv models.Conversation
	if err := db.First(&conv, conversationID).Error; err != nil {
		return nil, fmt.Errorf("store: conversation %d: %w", conversationID, err)
	}

	now := time.Now()
	msg := models.Message{
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		Direction:      models.DirectionOutbound,
		Kind:           kind,
		Content:        content,
		MediaCaption:   caption,
		Status:         models.StatusPending,
		SentByBot:      byBot,
		CreatedAt:      now,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Update("last_message_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store: record outbound: %w", err)
	}
	return &msg, nil
}

// statusRank orders the monotonic delivery states. failed is terminal and
// handled separately.
var statusRank = map[string]int{
	models.StatusPending:   0,
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusRead:      3,
}

// MarkStatus transitions a Message to newStatus. Transitions are monotonic:
// pending → sent → delivered → read, or any non-terminal state → failed.
// Re-applying the current status is an idempotent no-op; moving backwards
// (or out of failed) yields ErrInvalidTransition.
func MarkStatus(db *gorm.DB, messageID uint, newStatus string, providerMessageID *string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.First(&msg, messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownMessage
			}
			return fmt.Errorf("store: load message %d: %w", messageID, err)
		}
		return applyStatus(tx, &msg, newStatus, providerMessageID)
	})
}

// MarkStatusByProviderID routes a delivery receipt to the Message it
// correlates with. Unknown provider ids yield ErrUnknownMessage; callers
// log and drop those rather than failing.
func MarkStatusByProviderID(db *gorm.DB, channelID uint, providerMessageID, newStatus string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		err := tx.Where("channel_id = ? AND provider_message_id = ?", channelID, providerMessageID).
			First(&msg).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownMessage
			}
			return fmt.Errorf("store: find message %s: %w", providerMessageID, err)
		}
		return applyStatus(tx, &msg, newStatus, nil)
	})
}

func applyStatus(tx *gorm.DB, msg *models.Message, newStatus string, providerMessageID *string) error {
	if newStatus == msg.Status {
		return nil
	}
	if msg.Status == models.StatusFailed {
		return ErrInvalidTransition
	}

	updates := map[string]interface{}{"status": newStatus}
	now := time.Now()
	switch newStatus {
	case models.StatusFailed:
	case models.StatusDelivered:
		updates["delivered_at"] = now
	case models.StatusRead:
		updates["read_at"] = now
	case models.StatusSent:
	default:
		return fmt.Errorf("store: unknown status %q: %w", newStatus, ErrInvalidTransition)
	}
	if newStatus != models.StatusFailed && statusRank[newStatus] < statusRank[msg.Status] {
		return ErrInvalidTransition
	}
	if providerMessageID != nil {
		updates["provider_message_id"] = *providerMessageID
	}

	if err := tx.Model(&models.Message{}).Where("id = ?", msg.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("store: mark message %d %s: %w", msg.ID, newStatus, err)
	}
	return nil
}

// RecordAttempt increments a Message's attempt counter and stores the last
// send error, if any.
func RecordAttempt(db *gorm.DB, messageID uint, sendErr string) error {
	result := db.Model(&models.Message{}).Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    sendErr,
		})
	if result.Error != nil {
		return fmt.Errorf("store: record attempt for %d: %w", messageID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUnknownMessage
	}
	return nil
}

// SetCurrentNode parks the scripted flow at a question node awaiting the
// customer's reply, or clears the position when nodeID is empty.
func SetCurrentNode(db *gorm.DB, conversationID uint, nodeID string) error {
	result := db.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Update("current_node_id", nodeID)
	if result.Error != nil {
		return fmt.Errorf("store: set current node for %d: %w", conversationID, result.Error)
	}
	return nil
}

// Takeover permanently disables automated replies for a Conversation in
// favor of a human agent. Idempotent; bot_active never auto-reverts. Any
// parked flow position is discarded with it.
func Takeover(db *gorm.DB, conversationID uint) error {
	result := db.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"bot_active":      false,
			"current_node_id": "",
		})
	if result.Error != nil {
		return fmt.Errorf("store: takeover %d: %w", conversationID, result.Error)
	}
	return nil
}

// CloseConversation marks a Conversation closed and releases its open-pair
// slot. A later inbound event creates a fresh Conversation.
func CloseConversation(db *gorm.DB, conversationID uint) error {
	now := time.Now()
	result := db.Model(&models.Conversation{}).
		Where("id = ? AND status = ?", conversationID, models.ConversationActive).
		Updates(map[string]interface{}{
			"status":    models.ConversationClosed,
			"open_key":  nil,
			"closed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("store: close %d: %w", conversationID, result.Error)
	}
	return nil
}

// isConflict reports whether err is a unique-constraint violation. GORM
// translates most driver errors to ErrDuplicatedKey; the string checks
// cover drivers that predate translation.
func isConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") ||
		strings.Contains(s, "Duplicate entry")
}

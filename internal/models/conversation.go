package models

import "time"

// Conversation statuses.
const (
	ConversationActive = "active"
	ConversationClosed = "closed"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message statuses. Transitions are monotonic: pending → sent → delivered
// → read, or any non-terminal state → failed.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message content kinds.
const (
	KindText        = "text"
	KindMedia       = "media"
	KindTemplate    = "template"
	KindInteractive = "interactive"
)

// Conversation is one thread between a Customer and a Channel. At most one
// open Conversation may exist per (customer, channel) pair; OpenKey is set
// to "customerID:channelID" while open and cleared on close, so the unique
// index enforces the invariant without colliding on closed rows.
// CurrentNodeID parks a scripted flow at a question node until the
// customer's next message answers it.
type Conversation struct {
	ID            uint    `gorm:"primaryKey;autoIncrement"`
	CustomerID    uint    `gorm:"not null;index"`
	ChannelID     uint    `gorm:"not null;index"`
	Status        string  `gorm:"size:16;default:active;index"`
	OpenKey       *string `gorm:"size:64;uniqueIndex"`
	BotActive     bool    `gorm:"default:true"`
	CurrentNodeID string  `gorm:"size:64"`
	AssignedAgent *string `gorm:"size:64"`
	UnreadCount   int     `gorm:"default:0"`
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time

	Customer Customer  `gorm:"foreignKey:CustomerID"`
	Channel  Channel   `gorm:"foreignKey:ChannelID"`
	Messages []Message `gorm:"foreignKey:ConversationID"`
}

// Message belongs to exactly one Conversation. ProviderMessageID is unique
// within a Channel and serves as the idempotency key for inbound dedup and
// delivery-receipt correlation. It is nil for outbound messages until the
// provider accepts the send.
type Message struct {
	ID                uint    `gorm:"primaryKey;autoIncrement"`
	ConversationID    uint    `gorm:"not null;index"`
	ChannelID         uint    `gorm:"not null;uniqueIndex:idx_channel_provider_msg"`
	ProviderMessageID *string `gorm:"size:128;uniqueIndex:idx_channel_provider_msg"`
	Direction         string  `gorm:"size:8;not null"`
	Kind              string  `gorm:"size:16;default:text"`
	Content           string  `gorm:"type:text"`
	MediaID           string  `gorm:"size:128"`
	MediaCaption      string  `gorm:"type:text"`
	Status            string  `gorm:"size:16;default:pending;index"`
	AttemptCount      int     `gorm:"default:0"`
	LastError         string  `gorm:"type:text"`
	SentByBot         bool    `gorm:"default:false"`
	CreatedAt         time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time

	Conversation Conversation `gorm:"foreignKey:ConversationID"`
}

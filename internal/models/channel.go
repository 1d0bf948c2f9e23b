package models

import "time"

// Channel lifecycle statuses.
const (
	ChannelPending   = "pending"
	ChannelConnected = "connected"
	ChannelRevoked   = "revoked"
)

// Channel is a provider-registered sending number.
type Channel struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	PhoneNumber         string `gorm:"size:32;uniqueIndex;not null"`
	DisplayName         string `gorm:"size:128"`
	ProviderNumberID    string `gorm:"size:64;uniqueIndex;not null"`
	EncryptedCredential string `gorm:"type:text"`
	VerifyToken         string `gorm:"size:128"`
	Status              string `gorm:"size:16;default:pending;index"`
	Active              bool   `gorm:"default:true"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ConnectedAt         *time.Time
	DeletedAt           *time.Time `gorm:"index"`

	Bots          []Bot          `gorm:"foreignKey:ChannelID"`
	Conversations []Conversation `gorm:"foreignKey:ChannelID"`
}

package models

import "time"

// Bot is an automated responder attached to a Channel. ActiveScenarioID
// names the scenario evaluated for inbound messages; it is read per
// evaluation, never cached process-wide.
type Bot struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	ChannelID        uint   `gorm:"not null;index"`
	Name             string `gorm:"size:128;not null"`
	Description      string `gorm:"type:text"`
	DefaultResponse  string `gorm:"type:text"`
	Active           bool   `gorm:"default:true"`
	Invalid          bool   `gorm:"default:false"`
	InvalidReason    string `gorm:"type:text"`
	ActiveScenarioID *uint
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Channel   Channel    `gorm:"foreignKey:ChannelID"`
	Scenarios []Scenario `gorm:"foreignKey:BotID"`
}

// Scenario is a versioned, ordered script of trigger→action nodes owned by
// a Bot. Nodes holds the JSON-encoded node list; the scenario package parses
// and validates it at load time.
type Scenario struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	BotID     uint   `gorm:"not null;index"`
	Name      string `gorm:"size:128;not null"`
	Version   int    `gorm:"default:1"`
	IsDefault bool   `gorm:"default:false"`
	Active    bool   `gorm:"default:true"`
	Nodes     string `gorm:"type:json;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Bot Bot `gorm:"foreignKey:BotID"`
}

package models

import "time"

// Customer is an end user identified by their provider account handle.
// Created on first inbound event from an unseen handle, never deleted.
type Customer struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Handle     string `gorm:"size:32;uniqueIndex;not null"`
	Name       string `gorm:"size:128"`
	Tags       string `gorm:"type:json"`
	Attributes string `gorm:"type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Conversations []Conversation `gorm:"foreignKey:CustomerID"`
}

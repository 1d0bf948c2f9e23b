package models

import "time"

// DispatchJob states. A job cycles queued → leased → {done, failed};
// a retryable failure moves it back to queued with a later NextAttemptAt
// until attempts are exhausted.
const (
	JobQueued = "queued"
	JobLeased = "leased"
	JobDone   = "done"
	JobFailed = "failed"
)

// DispatchJob is one durable unit of outbound-send work. The dispatch_jobs
// table is itself the durable queue: workers lease rows with SKIP LOCKED
// and redelivery happens when a lease expires.
type DispatchJob struct {
	ID             string    `gorm:"primaryKey;size:36"`
	MessageID      uint      `gorm:"not null;index"`
	ConversationID uint      `gorm:"not null;index"`
	ChannelID      uint      `gorm:"not null"`
	Kind           string    `gorm:"size:16;not null"`
	Payload        string    `gorm:"type:json"`
	State          string    `gorm:"size:16;default:queued;index"`
	Attempts       int       `gorm:"default:0"`
	NextAttemptAt  time.Time `gorm:"index"`
	LeaseExpiresAt *time.Time
	LastError      string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

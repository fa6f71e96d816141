package models

import "time"

const (
	NotificationKindReplenishment = "replenishment"
	NotificationKindUnmapped      = "unmapped_items"
	NotificationKindLedgerDrift   = "ledger_drift"
)

// NotificationRecord is a transactional-outbox row: it is written inside
// the same DB transaction as the state change it announces and published
// to Pub/Sub asynchronously by the outbox dispatcher after commit.
type NotificationRecord struct {
	ID      int    `gorm:"primary_key;index:idx_notify_dispatch,priority:3" json:"id"`
	Kind    string `gorm:"size:40;not null;index" json:"kind"`
	Payload []byte `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_notify_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_notify_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

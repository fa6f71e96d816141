package models

import "time"

type ProcessedEventStatus string

const (
	ProcessedEventStarted   ProcessedEventStatus = "STARTED"
	ProcessedEventSucceeded ProcessedEventStatus = "SUCCEEDED"
	ProcessedEventFailed    ProcessedEventStatus = "FAILED"
)

// ProcessedEvent provides durable, DB-backed idempotency for inbound order
// events. The external source redelivers at least once; an event key that
// already SUCCEEDED must never produce a second set of movements.
// Unique constraint: (source, event_key).
type ProcessedEvent struct {
	ID        int                  `gorm:"primary_key" json:"id"`
	Source    string               `gorm:"size:64;not null;index:uniq_processed_event,unique" json:"source"`
	EventKey  string               `gorm:"size:255;not null;index:uniq_processed_event,unique" json:"event_key"`
	Status    ProcessedEventStatus `gorm:"size:20;not null;index" json:"status"`
	Outcome   *string              `gorm:"size:40" json:"outcome"`
	LastError *string              `gorm:"type:text" json:"last_error"`
	CreatedAt time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

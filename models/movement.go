package models

import (
	"time"
)

// Movement is one immutable, append-only change to a blank's stock balance.
// Rows are never updated or deleted after append: corrections are new
// movements. BalanceAfter is a cache of the running sum at append time for
// fast reads; the ledger sum stays the source of truth and reconciliation
// audits the two against each other.
type Movement struct {
	ID            string         `gorm:"size:36;primary_key" json:"id"` // uuid
	BlankSku      string         `gorm:"size:64;not null;index:idx_movement_sku_date,priority:1" json:"blank_sku"`
	Type          MovementType   `gorm:"type:enum('order','receipt','correction','scrap');not null;index" json:"type"`
	Qty           int            `gorm:"not null" json:"qty"` // signed: negative consumes
	BalanceAfter  int            `gorm:"not null" json:"balance_after"`
	SourceType    MovementSource `gorm:"type:enum('keycrm_webhook','operator','manual');not null" json:"source_type"`
	SourceId      string         `gorm:"size:128;not null;index" json:"source_id"`
	User          *string        `gorm:"size:100" json:"user"`
	Note          *string        `gorm:"type:text" json:"note"`
	OccurredAt    time.Time      `gorm:"not null;index:idx_movement_sku_date,priority:2" json:"occurred_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	CorrelationId string         `gorm:"size:64;index" json:"correlation_id"`
}

// IsOutbound reports whether the movement consumes stock.
func (m *Movement) IsOutbound() bool {
	return m.Qty < 0
}

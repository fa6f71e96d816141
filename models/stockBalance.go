package models

import "time"

// StockBalance is the per-SKU projection row maintained inside the append
// transaction. It is a read cache for reports and selectors, not a source
// of truth; VerifyLedger audits it against the movement sum.
type StockBalance struct {
	ID              int        `gorm:"primary_key" json:"id"`
	BlankSku        string     `gorm:"size:64;not null;uniqueIndex" json:"blank_sku"`
	OnHand          int        `gorm:"not null;default:0" json:"on_hand"`
	Reserved        int        `gorm:"not null;default:0" json:"reserved"`
	LastReceiptDate *time.Time `json:"last_receipt_date"`
	LastOrderDate   *time.Time `json:"last_order_date"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Available is what purchasing decisions are made against.
func (s *StockBalance) Available() int {
	return s.OnHand - s.Reserved
}

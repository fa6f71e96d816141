package models

import (
	"context"
	"errors"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
)

// UnmappedItem is an order line the resolver could not translate into a
// blank SKU. These rows are the operator's backlog: they are never
// silently discarded, only marked resolved or ignored.
type UnmappedItem struct {
	ID            int                `gorm:"primary_key" json:"id"`
	OrderId       string             `gorm:"size:64;not null;index" json:"order_id"`
	LineId        string             `gorm:"size:64;not null" json:"line_id"`
	ProductName   string             `gorm:"size:255;not null" json:"product_name"`
	Properties    []byte             `gorm:"type:blob" json:"properties"` // raw variant attributes JSON
	Qty           int                `gorm:"not null" json:"qty"`
	SuggestedSku  *string            `gorm:"size:64" json:"suggested_sku"`
	Resolution    UnmappedResolution `gorm:"type:enum('pending','resolved','ignored');not null;default:'pending';index" json:"resolution"`
	ResolvedBy    *string            `gorm:"size:100" json:"resolved_by"`
	ResolvedAt    *time.Time         `json:"resolved_at"`
	FirstSeenAt   time.Time          `gorm:"not null" json:"first_seen_at"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
	CorrelationId string             `gorm:"size:64;index" json:"correlation_id"`
}

func ListUnmappedItems(ctx context.Context, resolution UnmappedResolution) ([]*UnmappedItem, error) {
	db := config.GetDB()
	var items []*UnmappedItem
	q := db.WithContext(ctx).Order("first_seen_at ASC")
	if resolution != "" {
		q = q.Where("resolution = ?", resolution)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ResolveUnmappedItem closes a backlog row. Resolving with a SKU records
// which blank the operator mapped the line to; ignoring keeps the line out
// of the backlog without pretending it was mapped.
func ResolveUnmappedItem(ctx context.Context, id int, resolution UnmappedResolution, resolvedBy, sku string) (*UnmappedItem, error) {
	if resolution != UnmappedResolutionResolved && resolution != UnmappedResolutionIgnored {
		return nil, errors.New("resolution must be resolved or ignored")
	}

	db := config.GetDB()
	var item UnmappedItem
	if err := db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if item.Resolution != UnmappedResolutionPending {
		return nil, errors.New("unmapped item is already closed")
	}
	if resolution == UnmappedResolutionResolved {
		if sku == "" {
			return nil, errors.New("blank_sku is required to resolve")
		}
		if _, err := GetBlankBySku(ctx, sku); err != nil {
			return nil, errors.New("unknown blank_sku")
		}
		item.SuggestedSku = &sku
	}

	now := time.Now().UTC()
	item.Resolution = resolution
	item.ResolvedBy = utils.NilIfEmpty(resolvedBy)
	item.ResolvedAt = &now
	if err := db.WithContext(ctx).Save(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

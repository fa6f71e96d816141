package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
)

// ProductMapping translates an external order-line description into a
// blank SKU and a quantity multiplier. Empty SizeProperty/MetalColor act
// as wildcards; Priority breaks ties between overlapping rules (higher
// wins), then specificity, then the most recently registered rule.
type ProductMapping struct {
	ID           int       `gorm:"primary_key" json:"id"`
	ProductName  string    `gorm:"size:255;not null;index" json:"product_name" binding:"required"`
	SizeProperty string    `gorm:"size:100" json:"size_property"`
	MetalColor   string    `gorm:"size:100" json:"metal_color"`
	BlankSku     string    `gorm:"size:64;not null;index" json:"blank_sku" binding:"required"`
	QtyPerUnit   int       `gorm:"not null;default:1" json:"qty_per_unit"`
	Priority     int       `gorm:"not null;default:50" json:"priority"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Specificity counts the constrained (non-wildcard) properties of a rule.
func (m *ProductMapping) Specificity() int {
	n := 0
	if strings.TrimSpace(m.SizeProperty) != "" {
		n++
	}
	if strings.TrimSpace(m.MetalColor) != "" {
		n++
	}
	return n
}

type NewProductMapping struct {
	ProductName  string `json:"product_name" binding:"required"`
	SizeProperty string `json:"size_property"`
	MetalColor   string `json:"metal_color"`
	BlankSku     string `json:"blank_sku" binding:"required"`
	QtyPerUnit   int    `json:"qty_per_unit"`
	Priority     int    `json:"priority"`
}

func (input *NewProductMapping) validate(ctx context.Context) error {
	if strings.TrimSpace(input.ProductName) == "" {
		return errors.New("product_name is required")
	}
	if input.QtyPerUnit < 0 {
		return errors.New("qty_per_unit must not be negative")
	}
	if input.Priority < 0 || input.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	// target SKU must exist (inactive is allowed: a rule may outlive a
	// retired blank and simply stop matching once deactivated here)
	if _, err := GetBlankBySku(ctx, input.BlankSku); err != nil {
		return errors.New("blank_sku not found")
	}
	return nil
}

func CreateProductMapping(ctx context.Context, input *NewProductMapping) (*ProductMapping, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	qtyPerUnit := input.QtyPerUnit
	if qtyPerUnit == 0 {
		qtyPerUnit = 1
	}
	priority := input.Priority
	if priority == 0 {
		priority = 50
	}

	mapping := ProductMapping{
		ProductName:  strings.TrimSpace(input.ProductName),
		SizeProperty: strings.TrimSpace(input.SizeProperty),
		MetalColor:   strings.TrimSpace(input.MetalColor),
		BlankSku:     strings.ToUpper(strings.TrimSpace(input.BlankSku)),
		QtyPerUnit:   qtyPerUnit,
		Priority:     priority,
		IsActive:     utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&mapping).Error; err != nil {
		return nil, err
	}
	return &mapping, nil
}

func DeactivateProductMapping(ctx context.Context, id int) (*ProductMapping, error) {
	db := config.GetDB()
	var mapping ProductMapping
	if err := db.WithContext(ctx).First(&mapping, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	mapping.IsActive = utils.NewFalse()
	if err := db.WithContext(ctx).Save(&mapping).Error; err != nil {
		return nil, err
	}
	return &mapping, nil
}

func ListActiveProductMappings(ctx context.Context) ([]*ProductMapping, error) {
	db := config.GetDB()
	var mappings []*ProductMapping
	err := db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

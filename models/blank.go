package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
)

// Blank is the SKU master record for one trackable raw-material unit type.
// Blanks are never deleted: historical movements reference them, so the
// only way out of the catalog is IsActive=false.
type Blank struct {
	ID           int        `gorm:"primary_key" json:"id"`
	BlankSku     string     `gorm:"size:64;not null;uniqueIndex" json:"blank_sku" binding:"required"`
	Type         BlankType  `gorm:"type:enum('BONE','RING','ROUND','HEART','CLOUD','FLOWER');not null" json:"type"`
	SizeMm       int        `gorm:"not null" json:"size_mm"`
	Color        BlankColor `gorm:"type:enum('GLD','SIL');not null" json:"color"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	OpeningStock int        `gorm:"not null;default:0" json:"opening_stock"`
	MinStock     int        `gorm:"not null" json:"min_stock"`
	ParStock     int        `gorm:"not null" json:"par_stock"`
	Notes        *string    `gorm:"type:text" json:"notes"`
	IsActive     *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// DisplayName is the readable label used in reports and notifications.
func (b *Blank) DisplayName() string {
	return fmt.Sprintf("%s %dмм %s", b.Name, b.SizeMm, b.Color)
}

type NewBlank struct {
	BlankSku     string     `json:"blank_sku" binding:"required"`
	Type         BlankType  `json:"type" binding:"required"`
	SizeMm       int        `json:"size_mm" binding:"required"`
	Color        BlankColor `json:"color" binding:"required"`
	Name         string     `json:"name" binding:"required"`
	OpeningStock int        `json:"opening_stock"`
	MinStock     *int       `json:"min_stock"`
	ParStock     *int       `json:"par_stock"`
	Notes        string     `json:"notes"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewBlank) validate(ctx context.Context, id int) error {
	if strings.TrimSpace(input.BlankSku) == "" {
		return errors.New("blank_sku is required")
	}
	db := config.GetDB()
	var count int64
	q := db.WithContext(ctx).Model(&Blank{}).Where("blank_sku = ?", input.BlankSku)
	if id > 0 {
		q = q.Where("id <> ?", id)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("blank_sku already exists")
	}
	minStock := utils.DereferencePtr(input.MinStock, config.GetPlanningParams().MinStockDefault)
	parStock := utils.DereferencePtr(input.ParStock, config.GetPlanningParams().ParStockDefault)
	if minStock < 0 || parStock < 0 {
		return errors.New("stock levels must not be negative")
	}
	if parStock < minStock {
		return errors.New("par_stock must not be below min_stock")
	}
	return nil
}

func CreateBlank(ctx context.Context, input *NewBlank) (*Blank, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	planning := config.GetPlanningParams()
	blank := Blank{
		BlankSku:     strings.ToUpper(strings.TrimSpace(input.BlankSku)),
		Type:         input.Type,
		SizeMm:       input.SizeMm,
		Color:        input.Color,
		Name:         input.Name,
		OpeningStock: input.OpeningStock,
		MinStock:     utils.DereferencePtr(input.MinStock, planning.MinStockDefault),
		ParStock:     utils.DereferencePtr(input.ParStock, planning.ParStockDefault),
		Notes:        utils.NilIfEmpty(input.Notes),
		IsActive:     utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&blank).Error
	if err != nil {
		return nil, err
	}
	return &blank, nil
}

func UpdateBlank(ctx context.Context, id int, input *NewBlank) (*Blank, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var blank Blank
	if err := db.WithContext(ctx).First(&blank, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	planning := config.GetPlanningParams()
	blank.Type = input.Type
	blank.SizeMm = input.SizeMm
	blank.Color = input.Color
	blank.Name = input.Name
	blank.OpeningStock = input.OpeningStock
	blank.MinStock = utils.DereferencePtr(input.MinStock, planning.MinStockDefault)
	blank.ParStock = utils.DereferencePtr(input.ParStock, planning.ParStockDefault)
	blank.Notes = utils.NilIfEmpty(input.Notes)

	if err := db.WithContext(ctx).Save(&blank).Error; err != nil {
		return nil, err
	}
	return &blank, nil
}

// DeactivateBlank retires a SKU from the catalog without touching history.
func DeactivateBlank(ctx context.Context, id int) (*Blank, error) {
	db := config.GetDB()
	var blank Blank
	if err := db.WithContext(ctx).First(&blank, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	blank.IsActive = utils.NewFalse()
	if err := db.WithContext(ctx).Save(&blank).Error; err != nil {
		return nil, err
	}
	return &blank, nil
}

func GetBlankBySku(ctx context.Context, sku string) (*Blank, error) {
	db := config.GetDB()
	var blank Blank
	err := db.WithContext(ctx).Where("blank_sku = ?", sku).First(&blank).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &blank, nil
}

func ListActiveBlanks(ctx context.Context) ([]*Blank, error) {
	db := config.GetDB()
	var blanks []*Blank
	err := db.WithContext(ctx).Where("is_active = ?", true).Order("blank_sku ASC").Find(&blanks).Error
	if err != nil {
		return nil, err
	}
	return blanks, nil
}

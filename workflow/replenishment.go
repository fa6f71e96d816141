package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Recommendation is the replenishment output for one SKU.
//
// The order quantity formula, in configuration-visible terms:
//
//	avg_daily_usage  = outbound units over UsageWindowDays / UsageWindowDays
//	lead_time_demand = avg_daily_usage * LeadTimeDays * (1 + ScrapPct)
//	available        = on_hand - reserved
//	recommended      = ceil(par_stock - available + lead_time_demand)   when available < min_stock
//	                 = 0                                                otherwise
//
// Rounding is always up: under-ordering is the one mistake the workshop
// cannot recover from within a lead time.
type Recommendation struct {
	BlankSku    string `json:"blank_sku"`
	DisplayName string `json:"display_name"`

	OnHand    int `json:"on_hand"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
	MinStock  int `json:"min_stock"`
	ParStock  int `json:"par_stock"`

	AvgDailyUsage       decimal.Decimal `json:"avg_daily_usage"`
	InsufficientHistory bool            `json:"insufficient_history"`
	LeadTimeDemand      decimal.Decimal `json:"lead_time_demand"`

	NeedOrder      bool                `json:"need_order"`
	RecommendedQty int                 `json:"recommended_qty"`
	Urgency        models.UrgencyLevel `json:"urgency"`

	DaysOfStock       *int       `json:"days_of_stock"`
	BelowTargetCover  bool       `json:"below_target_cover"`
	EstimatedStockout *time.Time `json:"estimated_stockout"`
	CalculatedAt      time.Time  `json:"calculated_at"`
}

// StockMetrics aggregates warehouse health for the scheduled report.
type StockMetrics struct {
	TotalSkus        int     `json:"total_skus"`
	SkusWithStock    int     `json:"skus_with_stock"`
	SkusBelowMin     int     `json:"skus_below_min"`
	SkusCritical     int     `json:"skus_critical"`
	TotalUnits       int     `json:"total_units"`
	NeedOrderCount   int     `json:"need_order_count"`
	StockoutRiskPct  float64 `json:"stockout_risk_pct"`
	StockCoveragePct float64 `json:"stock_coverage_pct"`
}

// Calculator derives replenishment signals from the ledger and catalog.
// It is read-only over both, so the scheduler and interactive reports may
// run it concurrently with ongoing ledger writes; each SKU is computed
// from a consistent-as-of-call-time snapshot.
type Calculator struct {
	Store    Store
	Planning *config.PlanningParams
	Logger   *logrus.Logger
}

func NewCalculator(store Store, planning *config.PlanningParams, logger *logrus.Logger) *Calculator {
	return &Calculator{Store: store, Planning: planning, Logger: logger}
}

// Recompute computes the replenishment recommendation for one SKU.
func (c *Calculator) Recompute(ctx context.Context, sku string) (*Recommendation, error) {
	blank, err := c.Store.BlankBySku(ctx, sku)
	if err != nil {
		return nil, err
	}
	if blank == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlankNotFound, sku)
	}
	return c.recompute(ctx, blank)
}

func (c *Calculator) recompute(ctx context.Context, blank *models.Blank) (*Recommendation, error) {
	latest, err := c.Store.LatestMovement(ctx, blank.BlankSku)
	if err != nil {
		return nil, err
	}
	onHand := blank.OpeningStock
	if latest != nil {
		onHand = latest.BalanceAfter
	}

	reserved := 0
	if balance, err := c.Store.StockBalance(ctx, blank.BlankSku); err != nil {
		return nil, err
	} else if balance != nil {
		reserved = balance.Reserved
	}
	available := onHand - reserved

	since := time.Now().UTC().AddDate(0, 0, -c.Planning.UsageWindowDays)
	outboundTotal, outboundCount, err := c.Store.OutboundUsageSince(ctx, blank.BlankSku, since)
	if err != nil {
		return nil, err
	}

	window := decimal.NewFromInt(int64(c.Planning.UsageWindowDays))
	var avgDaily decimal.Decimal
	insufficient := outboundCount == 0
	if insufficient {
		// Not a failure: proceed with the documented default.
		avgDaily = decimal.NewFromFloat(c.Planning.DefaultDailyUsage)
	} else {
		avgDaily = decimal.NewFromInt(int64(outboundTotal)).Div(window)
	}

	scrapUplift := decimal.NewFromFloat(1 + c.Planning.ScrapPct)
	leadTimeDemand := avgDaily.
		Mul(decimal.NewFromInt(int64(c.Planning.LeadTimeDays))).
		Mul(scrapUplift)

	needOrder := available < blank.MinStock
	recommended := 0
	if needOrder {
		raw := decimal.NewFromInt(int64(blank.ParStock - available)).Add(leadTimeDemand)
		recommended = utils.CeilToInt(raw)
		if recommended < 0 {
			recommended = 0
		}
	}

	rec := &Recommendation{
		BlankSku:            blank.BlankSku,
		DisplayName:         blank.DisplayName(),
		OnHand:              onHand,
		Reserved:            reserved,
		Available:           available,
		MinStock:            blank.MinStock,
		ParStock:            blank.ParStock,
		AvgDailyUsage:       avgDaily,
		InsufficientHistory: insufficient,
		LeadTimeDemand:      leadTimeDemand,
		NeedOrder:           needOrder,
		RecommendedQty:      recommended,
		Urgency:             urgencyFor(onHand, blank.MinStock),
		CalculatedAt:        time.Now().UTC(),
	}

	if avgDaily.IsPositive() {
		days := int(decimal.NewFromInt(int64(onHand)).Div(avgDaily).IntPart())
		rec.DaysOfStock = &days
		rec.BelowTargetCover = days < c.Planning.TargetCoverDays
		stockout := time.Now().UTC().AddDate(0, 0, days)
		rec.EstimatedStockout = &stockout
	}

	return rec, nil
}

// RecomputeAll runs the calculator for every active SKU, most urgent
// first. SKUs whose individual computation fails are skipped and logged;
// one bad SKU must not hide the rest of the report.
func (c *Calculator) RecomputeAll(ctx context.Context) ([]*Recommendation, error) {
	blanks, err := c.Store.ActiveBlanks(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]*Recommendation, 0, len(blanks))
	for _, blank := range blanks {
		rec, err := c.recompute(ctx, blank)
		if err != nil {
			config.LogError(c.Logger, "workflow", "RecomputeAll", "recompute "+blank.BlankSku, nil, err)
			continue
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return urgencyRank(recs[i].Urgency) < urgencyRank(recs[j].Urgency)
	})
	return recs, nil
}

// Metrics aggregates a recommendation set into warehouse-level numbers.
func (c *Calculator) Metrics(recs []*Recommendation) StockMetrics {
	m := StockMetrics{TotalSkus: len(recs)}
	for _, rec := range recs {
		m.TotalUnits += rec.OnHand
		if rec.OnHand > 0 {
			m.SkusWithStock++
		}
		if rec.OnHand <= rec.MinStock {
			m.SkusBelowMin++
		}
		if rec.Urgency == models.UrgencyCritical {
			m.SkusCritical++
		}
		if rec.NeedOrder {
			m.NeedOrderCount++
		}
	}
	if m.TotalSkus > 0 {
		m.StockoutRiskPct = 100 * float64(m.SkusBelowMin) / float64(m.TotalSkus)
		m.StockCoveragePct = 100 * float64(m.SkusWithStock) / float64(m.TotalSkus)
	}
	return m
}

func urgencyFor(onHand, minStock int) models.UrgencyLevel {
	switch {
	case float64(onHand) <= 0.5*float64(minStock):
		return models.UrgencyCritical
	case float64(onHand) <= 0.7*float64(minStock):
		return models.UrgencyHigh
	case onHand <= minStock:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func urgencyRank(u models.UrgencyLevel) int {
	switch u {
	case models.UrgencyCritical:
		return 0
	case models.UrgencyHigh:
		return 1
	case models.UrgencyMedium:
		return 2
	default:
		return 3
	}
}

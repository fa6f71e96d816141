package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/sirupsen/logrus"
)

type IngestAction string

const (
	// ActionApplied: movements and/or unmapped items were committed.
	ActionApplied IngestAction = "applied"
	// ActionDeduplicated: the event key was already processed; no writes.
	ActionDeduplicated IngestAction = "deduplicated"
	// ActionIgnored: not an actionable status transition; acknowledged.
	ActionIgnored IngestAction = "ignored"
)

// IngestResult reports what one event produced.
type IngestResult struct {
	Action       IngestAction       `json:"action"`
	OrderId      string             `json:"order_id"`
	Movements    []*models.Movement `json:"movements"`
	Unmapped     []*models.UnmappedItem
	SkippedLines int `json:"skipped_lines"`
}

// Pipeline turns inbound order events into ledger movements. It is safe
// to invoke concurrently, one call per event; redelivered events
// short-circuit on the idempotency record.
type Pipeline struct {
	Store    Store
	Ledger   *Ledger
	Logger   *logrus.Logger
	Planning *config.PlanningParams
	Filter   LineFilter
}

func NewPipeline(store Store, ledger *Ledger, logger *logrus.Logger, planning *config.PlanningParams) *Pipeline {
	return &Pipeline{
		Store:    store,
		Ledger:   ledger,
		Logger:   logger,
		Planning: planning,
		Filter:   KeywordLineFilter(planning.TrackedKeywords),
	}
}

// Ingest processes one order event end to end. All ledger writes, unmapped
// inserts and the idempotency record commit as a single unit: a crash or
// timeout mid-way leaves no trace and the event stays fully
// re-processable. One line's mapping miss never aborts its siblings.
func (p *Pipeline) Ingest(ctx context.Context, ev OrderEvent) (*IngestResult, error) {
	if err := ev.Validate(); err != nil {
		p.Logger.WithFields(logrus.Fields{
			"order_id": ev.OrderId,
			"status":   ev.Status,
		}).Warn(err.Error())
		return nil, err
	}

	result := &IngestResult{OrderId: ev.OrderId}

	if !ev.IsActionable(p.Planning) {
		p.Logger.WithFields(logrus.Fields{
			"order_id":  ev.OrderId,
			"status":    ev.Status,
			"status_id": ev.StatusId,
		}).Info("event ignored, not an actionable status transition")
		result.Action = ActionIgnored
		return result, nil
	}

	mappings, err := p.Store.ActiveMappings(ctx)
	if err != nil {
		return nil, Transient("load mappings", err)
	}
	plan := p.planLines(ev, mappings)

	// Every SKU the event will touch is locked before the transaction
	// opens and released only after it ends, so the balance reads inside
	// can never race another committing writer.
	key := ev.Key()
	release, err := p.Ledger.lockSkus(ctx, plannedSkus(plan))
	if err != nil {
		return nil, Transient("lock skus for "+key, err)
	}
	defer release()

	err = p.Store.InTransaction(ctx, func(s Store) error {
		skip, err := s.BeginEvent(ctx, ev.Source, key)
		if err != nil {
			return err
		}
		if skip {
			result.Action = ActionDeduplicated
			return nil
		}

		if err := p.applyPlan(ctx, s, ev, plan, mappings, result); err != nil {
			return err
		}

		result.Action = ActionApplied
		return s.MarkEventSucceeded(ctx, ev.Source, key, string(result.Action))
	})
	if err != nil {
		if errors.Is(err, ErrEventInProgress) {
			return nil, err
		}
		// The transaction rolled back; record the failure for observability
		// (best effort) and surface a retryable error.
		_ = p.Store.MarkEventFailed(context.WithoutCancel(ctx), ev.Source, key, err)
		if IsTransient(err) {
			return nil, err
		}
		return nil, Transient("ingest "+key, err)
	}

	p.Logger.WithFields(logrus.Fields{
		"order_id":      ev.OrderId,
		"event_key":     key,
		"action":        result.Action,
		"movements":     len(result.Movements),
		"unmapped":      len(result.Unmapped),
		"skipped_lines": result.SkippedLines,
	}).Info("order event processed")

	return result, nil
}

// linePlan is one line's resolution, computed before the event
// transaction opens so the SKU set can be locked up front.
type linePlan struct {
	line OrderLine
	res  *Resolution
	skip bool
}

func (p *Pipeline) planLines(ev OrderEvent, mappings []*models.ProductMapping) []linePlan {
	plan := make([]linePlan, 0, len(ev.Lines))
	for _, line := range ev.Lines {
		lp := linePlan{line: line}
		if p.Filter != nil && !p.Filter(line) {
			lp.skip = true
		} else {
			lp.res = ResolveLine(mappings, line)
		}
		plan = append(plan, lp)
	}
	return plan
}

func plannedSkus(plan []linePlan) []string {
	var skus []string
	for _, lp := range plan {
		if lp.res != nil {
			skus = append(skus, lp.res.Mapping.BlankSku)
		}
	}
	return skus
}

func (p *Pipeline) applyPlan(ctx context.Context, s Store, ev OrderEvent, plan []linePlan, mappings []*models.ProductMapping, result *IngestResult) error {
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	for _, lp := range plan {
		line := lp.line
		if lp.skip {
			result.SkippedLines++
			p.Logger.WithFields(logrus.Fields{
				"order_id":     ev.OrderId,
				"product_name": line.ProductName,
			}).Debug("line skipped, outside tracked goods domain")
			continue
		}

		if lp.res == nil {
			item, err := p.createUnmapped(ctx, s, ev, line, mappings)
			if err != nil {
				return err
			}
			result.Unmapped = append(result.Unmapped, item)
			continue
		}

		// Appends run inside the event transaction in line order, so
		// movements of one order hit each SKU in the order they were
		// accepted.
		m, err := p.Ledger.appendLocked(ctx, s, NewMovement{
			BlankSku:   lp.res.Mapping.BlankSku,
			Type:       models.MovementTypeOrder,
			Qty:        -lp.res.Qty,
			SourceType: models.MovementSourceWebhook,
			SourceId:   fmt.Sprintf("%s_%s", ev.OrderId, line.LineId),
			User:       fmt.Sprintf("Order #%s", ev.OrderId),
			Note:       fmt.Sprintf("Order item: %s x%d", line.ProductName, line.Qty),
			OccurredAt: occurredAt,
		})
		if err != nil {
			return err
		}
		result.Movements = append(result.Movements, m)
	}

	if len(result.Unmapped) > 0 {
		if err := p.enqueueUnmappedAlert(ctx, s, ev, result.Unmapped); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) createUnmapped(ctx context.Context, s Store, ev OrderEvent, line OrderLine, mappings []*models.ProductMapping) (*models.UnmappedItem, error) {
	props, _ := json.Marshal(line.Properties)
	item := &models.UnmappedItem{
		OrderId:       ev.OrderId,
		LineId:        line.LineId,
		ProductName:   line.ProductName,
		Properties:    props,
		Qty:           line.Qty,
		SuggestedSku:  SuggestSku(mappings, line),
		Resolution:    models.UnmappedResolutionPending,
		FirstSeenAt:   time.Now().UTC(),
		CorrelationId: correlationIdFromContext(ctx),
	}
	if err := s.CreateUnmappedItem(ctx, item); err != nil {
		return nil, err
	}
	p.Logger.WithFields(logrus.Fields{
		"order_id":     ev.OrderId,
		"line_id":      line.LineId,
		"product_name": line.ProductName,
	}).Warn("no mapping found, routed to unmapped backlog")
	return item, nil
}

func (p *Pipeline) enqueueUnmappedAlert(ctx context.Context, s Store, ev OrderEvent, items []*models.UnmappedItem) error {
	type unmappedAlert struct {
		OrderId string   `json:"order_id"`
		Names   []string `json:"product_names"`
	}
	alert := unmappedAlert{OrderId: ev.OrderId}
	for _, item := range items {
		alert.Names = append(alert.Names, item.ProductName)
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return s.EnqueueNotification(ctx, &models.NotificationRecord{
		Kind:          models.NotificationKindUnmapped,
		Payload:       payload,
		PublishStatus: models.OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContext(ctx),
	})
}

package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
)

// SourceKeyCRM tags events that arrived through the KeyCRM webhook.
const SourceKeyCRM = "keycrm"

// OrderEvent is the transport-neutral shape of an inbound order-change
// event, validated at the boundary before it reaches the pipeline.
// Unknown extra fields never get this far; missing required fields make
// the event malformed.
type OrderEvent struct {
	Source     string      `json:"source"`
	OrderId    string      `json:"order_id"`
	StatusId   int         `json:"status_id"`
	Status     string      `json:"status"`
	Lines      []OrderLine `json:"lines"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type OrderLine struct {
	LineId      string            `json:"line_id"`
	ProductName string            `json:"product_name"`
	Properties  map[string]string `json:"properties"`
	Qty         int               `json:"qty"`
}

// Key is the idempotency key: one set of movements per (order, status)
// transition, so a redelivered transition short-circuits while a later
// transition of the same order is a distinct event.
func (e *OrderEvent) Key() string {
	status := strings.ToLower(strings.TrimSpace(e.Status))
	if status == "" {
		status = fmt.Sprintf("status-%d", e.StatusId)
	}
	return fmt.Sprintf("order:%s:%s", e.OrderId, status)
}

// Validate applies the structural checks. A failure here is permanent:
// the event will be acknowledged and never retried.
func (e *OrderEvent) Validate() error {
	if strings.TrimSpace(e.OrderId) == "" {
		return fmt.Errorf("%w: order_id is required", ErrMalformedEvent)
	}
	if e.StatusId == 0 && strings.TrimSpace(e.Status) == "" {
		return fmt.Errorf("%w: status is required", ErrMalformedEvent)
	}
	for i, line := range e.Lines {
		if strings.TrimSpace(line.ProductName) == "" {
			return fmt.Errorf("%w: line %d has no product name", ErrMalformedEvent, i)
		}
		if line.Qty <= 0 {
			return fmt.Errorf("%w: line %d has non-positive quantity %d", ErrMalformedEvent, i, line.Qty)
		}
	}
	return nil
}

// IsActionable reports whether this status transition consumes stock.
// Orders enter the CRM only after payment, so stock is deducted at the
// first "new/active" status; every other transition is acknowledged and
// ignored.
func (e *OrderEvent) IsActionable(planning *config.PlanningParams) bool {
	for _, id := range planning.ActionableStatusIDs {
		if e.StatusId == id && id != 0 {
			return true
		}
	}
	status := strings.ToLower(strings.TrimSpace(e.Status))
	if status == "" {
		return false
	}
	for _, name := range planning.ActionableStatusNames {
		if status == name {
			return true
		}
	}
	return false
}

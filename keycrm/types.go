package keycrm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/workflow"
)

// WebhookEnvelope is the raw body KeyCRM posts on order events. The
// context carries only the order header; line items come from a follow-up
// order fetch.
type WebhookEnvelope struct {
	Event   string         `json:"event"`
	Context WebhookContext `json:"context"`
}

type WebhookContext struct {
	Id       json.Number `json:"id"`
	Status   string      `json:"status"`
	StatusId int         `json:"status_id"`
}

// OrderId normalizes the numeric-or-string order id to a string.
func (e *WebhookEnvelope) OrderId() string {
	return strings.TrimSpace(e.Context.Id.String())
}

// Order is the API shape of GET /order/{id}?include=products.
type Order struct {
	Id        int            `json:"id"`
	Status    string         `json:"status"`
	StatusId  int            `json:"status_id"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Products  []OrderProduct `json:"products"`
}

type OrderProduct struct {
	Id         int             `json:"id"`
	Name       string          `json:"name"`
	Quantity   json.Number     `json:"quantity"`
	Price      json.Number     `json:"price"`
	Properties []OrderProperty `json:"properties"`
}

// OrderProperty is one variant attribute. KeyCRM sends properties as a
// list of name/value pairs, not an object.
type OrderProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (p *OrderProduct) propertyMap() map[string]string {
	if len(p.Properties) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.Properties))
	for _, prop := range p.Properties {
		out[prop.Name] = prop.Value
	}
	return out
}

func (p *OrderProduct) quantity() (int, error) {
	s := strings.TrimSpace(p.Quantity.String())
	if s == "" {
		return 0, nil
	}
	// Quantity arrives as "2" or "2.0" depending on the endpoint.
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := p.Quantity.Float64()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ToOrderEvent translates the fetched order into the engine's inbound
// event shape, stamping the webhook status over the possibly-stale order
// status.
func (o *Order) ToOrderEvent(env *WebhookEnvelope) (*workflow.OrderEvent, error) {
	statusId := env.Context.StatusId
	status := env.Context.Status
	if status == "" {
		status = o.Status
	}
	if statusId == 0 {
		statusId = o.StatusId
	}

	occurredAt := time.Now().UTC()
	if o.UpdatedAt != "" {
		if t, err := parseTimestamp(o.UpdatedAt); err == nil {
			occurredAt = t
		}
	}

	event := workflow.OrderEvent{
		Source:     workflow.SourceKeyCRM,
		OrderId:    env.OrderId(),
		StatusId:   statusId,
		Status:     status,
		OccurredAt: occurredAt,
	}
	for _, p := range o.Products {
		qty, err := p.quantity()
		if err != nil {
			return nil, fmt.Errorf("order %d line %d: bad quantity %q", o.Id, p.Id, p.Quantity.String())
		}
		event.Lines = append(event.Lines, workflow.OrderLine{
			LineId:      strconv.Itoa(p.Id),
			ProductName: p.Name,
			Properties:  p.propertyMap(),
			Qty:         qty,
		})
	}
	return &event, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

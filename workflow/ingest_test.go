package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
)

func testPlanning() *config.PlanningParams {
	return &config.PlanningParams{
		LeadTimeDays:          14,
		ScrapPct:              0.05,
		TargetCoverDays:       14,
		UsageWindowDays:       30,
		DefaultDailyUsage:     0,
		MinStockDefault:       100,
		ParStockDefault:       300,
		ActionableStatusIDs:   []int{1, 2, 3},
		ActionableStatusNames: []string{"new", "created", "pending"},
		TrackedKeywords:       []string{"адресник", "жетон"},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *memStore) {
	t.Helper()
	st := newMemStore()
	ledger := NewLedger(st, NewSkuLocks(nil), testLogger())
	return NewPipeline(st, ledger, testLogger(), testPlanning()), st
}

func ringEvent(orderId string, lines ...OrderLine) OrderEvent {
	return OrderEvent{
		Source:     SourceKeyCRM,
		OrderId:    orderId,
		StatusId:   2,
		Status:     "new",
		Lines:      lines,
		OccurredAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestIngestAppliesMovements(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)
	st.addMapping(models.ProductMapping{
		ProductName:  "Адресник бублик",
		SizeProperty: "25 мм",
		MetalColor:   "золото",
		BlankSku:     "BLK-RING-25-GLD",
	})
	ctx := context.Background()

	ev := ringEvent("1001", ringLine("25 мм", "золото", 3))
	result, err := p.Ingest(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if result.Action != ActionApplied {
		t.Fatalf("action = %s", result.Action)
	}
	if len(result.Movements) != 1 {
		t.Fatalf("movements = %d", len(result.Movements))
	}

	m := result.Movements[0]
	if m.Qty != -3 || m.BalanceAfter != 97 {
		t.Errorf("qty=%d balance=%d, want -3/97", m.Qty, m.BalanceAfter)
	}
	if m.Type != models.MovementTypeOrder || m.SourceType != models.MovementSourceWebhook {
		t.Errorf("type/source = %s/%s", m.Type, m.SourceType)
	}
	if m.SourceId != "1001_1" {
		t.Errorf("source id = %q", m.SourceId)
	}
	if user := utils.DereferencePtr(m.User); user != "Order #1001" {
		t.Errorf("user = %q", user)
	}
	if !m.OccurredAt.Equal(ev.OccurredAt) {
		t.Errorf("occurred_at = %v", m.OccurredAt)
	}

	status, ok := st.eventStatus(SourceKeyCRM, "order:1001:new")
	if !ok || status != models.ProcessedEventSucceeded {
		t.Errorf("event status = %s, %v", status, ok)
	}
}

func TestIngestDeduplicatesRedelivery(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)
	st.addMapping(models.ProductMapping{
		ProductName: "Адресник бублик",
		BlankSku:    "BLK-RING-25-GLD",
	})
	ctx := context.Background()
	ev := ringEvent("1001", ringLine("25 мм", "золото", 3))

	if _, err := p.Ingest(ctx, ev); err != nil {
		t.Fatal(err)
	}
	second, err := p.Ingest(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if second.Action != ActionDeduplicated {
		t.Errorf("action = %s, want deduplicated", second.Action)
	}
	if len(second.Movements) != 0 {
		t.Errorf("redelivery produced %d movements", len(second.Movements))
	}

	sum, _ := st.SumMovements(ctx, "BLK-RING-25-GLD")
	if sum != -3 {
		t.Errorf("ledger sum = %d, want -3", sum)
	}
}

func TestIngestConcurrentDeliveriesApplyOnce(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)
	st.addMapping(models.ProductMapping{
		ProductName: "Адресник бублик",
		BlankSku:    "BLK-RING-25-GLD",
	})
	ctx := context.Background()
	ev := ringEvent("1001", ringLine("25 мм", "золото", 3))

	const deliveries = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := p.Ingest(ctx, ev)
			if err != nil {
				if !IsTransient(err) {
					t.Error(err)
				}
				return
			}
			if result.Action == ActionApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied %d times, want 1", applied)
	}
	sum, _ := st.SumMovements(ctx, "BLK-RING-25-GLD")
	if sum != -3 {
		t.Errorf("ledger sum = %d, want -3", sum)
	}
}

func TestIngestDistinctTransitionsAreDistinctEvents(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)
	st.addMapping(models.ProductMapping{
		ProductName: "Адресник бублик",
		BlankSku:    "BLK-RING-25-GLD",
	})
	ctx := context.Background()

	first := ringEvent("1001", ringLine("25 мм", "золото", 3))
	second := first
	second.StatusId = 3
	second.Status = "pending"

	for _, ev := range []OrderEvent{first, second} {
		result, err := p.Ingest(ctx, ev)
		if err != nil {
			t.Fatal(err)
		}
		if result.Action != ActionApplied {
			t.Fatalf("action for %s = %s", ev.Status, result.Action)
		}
	}

	sum, _ := st.SumMovements(ctx, "BLK-RING-25-GLD")
	if sum != -6 {
		t.Errorf("ledger sum = %d, want -6", sum)
	}
}

func TestIngestIgnoresNonActionableStatus(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)
	ctx := context.Background()

	ev := ringEvent("1001", ringLine("25 мм", "золото", 3))
	ev.StatusId = 9
	ev.Status = "delivered"

	result, err := p.Ingest(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if result.Action != ActionIgnored {
		t.Errorf("action = %s", result.Action)
	}
	if _, ok := st.eventStatus(SourceKeyCRM, ev.Key()); ok {
		t.Error("ignored event left an idempotency record")
	}
	sum, _ := st.SumMovements(ctx, "BLK-RING-25-GLD")
	if sum != 0 {
		t.Errorf("ledger sum = %d", sum)
	}
}

func TestIngestRejectsMalformedEvent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	cases := []OrderEvent{
		{Source: SourceKeyCRM, StatusId: 2, Status: "new"},
		{Source: SourceKeyCRM, OrderId: "1001"},
		ringEvent("1001", OrderLine{LineId: "1", ProductName: "", Qty: 1}),
		ringEvent("1001", OrderLine{LineId: "1", ProductName: "Адресник", Qty: 0}),
	}
	for i, ev := range cases {
		if _, err := p.Ingest(ctx, ev); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("case %d: err = %v, want ErrMalformedEvent", i, err)
		}
	}
}

func TestIngestRoutesUnmappedLineWithoutAbortingSiblings(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)
	st.addMapping(models.ProductMapping{
		ProductName: "Адресник бублик",
		BlankSku:    "BLK-RING-25-GLD",
	})
	ctx := context.Background()

	unknown := OrderLine{
		LineId:      "2",
		ProductName: "Адресник хвиля",
		Properties:  map[string]string{"Розмір": "25 мм"},
		Qty:         2,
	}
	result, err := p.Ingest(ctx, ringEvent("1001", ringLine("25 мм", "золото", 3), unknown))
	if err != nil {
		t.Fatal(err)
	}
	if result.Action != ActionApplied {
		t.Fatalf("action = %s", result.Action)
	}
	if len(result.Movements) != 1 {
		t.Errorf("movements = %d, want 1", len(result.Movements))
	}
	if len(result.Unmapped) != 1 {
		t.Fatalf("unmapped = %d, want 1", len(result.Unmapped))
	}

	item := result.Unmapped[0]
	if item.ProductName != "Адресник хвиля" || item.Qty != 2 || item.Resolution != models.UnmappedResolutionPending {
		t.Errorf("unmapped item: %+v", item)
	}
	pending, err := st.PendingUnmappedItems(ctx)
	if err != nil || len(pending) != 1 || pending[0].ProductName != "Адресник хвиля" {
		t.Errorf("pending backlog = %+v, %v", pending, err)
	}

	notifications := st.pendingNotifications()
	if len(notifications) != 1 || notifications[0].Kind != models.NotificationKindUnmapped {
		t.Fatalf("notifications: %+v", notifications)
	}
	var alert struct {
		OrderId string   `json:"order_id"`
		Names   []string `json:"product_names"`
	}
	if err := json.Unmarshal(notifications[0].Payload, &alert); err != nil {
		t.Fatal(err)
	}
	if alert.OrderId != "1001" || len(alert.Names) != 1 || alert.Names[0] != "Адресник хвиля" {
		t.Errorf("alert payload: %+v", alert)
	}
}

func TestIngestSuggestsSkuForUnmappedVariant(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)
	st.addMapping(models.ProductMapping{
		ProductName:  "Адресник бублик",
		SizeProperty: "25 мм",
		BlankSku:     "BLK-RING-25-GLD",
	})

	result, err := p.Ingest(context.Background(), ringEvent("1001", ringLine("40 мм", "золото", 1)))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Unmapped) != 1 {
		t.Fatalf("unmapped = %d", len(result.Unmapped))
	}
	if got := result.Unmapped[0].SuggestedSku; got == nil || *got != "BLK-RING-25-GLD" {
		t.Errorf("suggested sku = %v", got)
	}
}

func TestIngestSkipsUntrackedLines(t *testing.T) {
	p, st := newTestPipeline(t)
	seedRingBlank(st, 100)

	collar := OrderLine{LineId: "1", ProductName: "Ошийник шкіряний", Qty: 1}
	result, err := p.Ingest(context.Background(), ringEvent("1001", collar))
	if err != nil {
		t.Fatal(err)
	}
	if result.SkippedLines != 1 {
		t.Errorf("skipped = %d, want 1", result.SkippedLines)
	}
	if len(result.Unmapped) != 0 {
		t.Errorf("untracked line landed in backlog: %+v", result.Unmapped)
	}
}

// flakyStore injects a failure into one store operation inside the event
// transaction to prove the whole event rolls back as a unit.
type flakyStore struct {
	Store
	failUnmapped bool
}

func (f *flakyStore) CreateUnmappedItem(ctx context.Context, item *models.UnmappedItem) error {
	if f.failUnmapped {
		return errors.New("injected store failure")
	}
	return f.Store.CreateUnmappedItem(ctx, item)
}

func (f *flakyStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	return f.Store.InTransaction(ctx, func(s Store) error {
		return fn(&flakyStore{Store: s, failUnmapped: f.failUnmapped})
	})
}

func TestIngestRollsBackWholeEventOnFailure(t *testing.T) {
	st := newMemStore()
	seedRingBlank(st, 100)
	st.addMapping(models.ProductMapping{
		ProductName: "Адресник бублик",
		BlankSku:    "BLK-RING-25-GLD",
	})
	flaky := &flakyStore{Store: st, failUnmapped: true}
	ledger := NewLedger(flaky, NewSkuLocks(nil), testLogger())
	p := NewPipeline(flaky, ledger, testLogger(), testPlanning())
	ctx := context.Background()

	unknown := OrderLine{LineId: "2", ProductName: "Адресник хвиля", Qty: 1}
	_, err := p.Ingest(ctx, ringEvent("1001", ringLine("25 мм", "золото", 3), unknown))
	if err == nil {
		t.Fatal("expected failure")
	}
	if !IsTransient(err) {
		t.Errorf("failure not marked retryable: %v", err)
	}

	// The mapped sibling's movement must not survive the rollback.
	sum, _ := st.SumMovements(ctx, "BLK-RING-25-GLD")
	if sum != 0 {
		t.Errorf("ledger sum = %d after rollback", sum)
	}
	if status, ok := st.eventStatus(SourceKeyCRM, "order:1001:new"); !ok || status != models.ProcessedEventFailed {
		t.Errorf("event status = %s, %v, want FAILED", status, ok)
	}

	// A later redelivery, with the fault gone, processes normally.
	flaky.failUnmapped = false
	result, err := p.Ingest(ctx, ringEvent("1001", ringLine("25 мм", "золото", 3), unknown))
	if err != nil {
		t.Fatal(err)
	}
	if result.Action != ActionApplied {
		t.Errorf("redelivery action = %s", result.Action)
	}
}

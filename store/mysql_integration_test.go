package store_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/store"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
	"github.com/NaturesProfit7/Warehouse-Automation/workflow"
	"github.com/sirupsen/logrus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// The in-memory store used by the workflow tests serializes whole
// transactions, so it cannot reproduce races that depend on real
// transaction isolation: concurrent committing writers and idempotency
// reclaims. These tests run the same scenarios against a real MySQL and
// are skipped unless TEST_MYSQL_DSN points at a disposable database,
// e.g. "root:testpw@tcp(127.0.0.1:3306)/warehouse_test?parseTime=true".
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_MYSQL_DSN"))
	if dsn == "" {
		t.Skip("set TEST_MYSQL_DSN to run MySQL integration tests")
	}
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Blank{},
		&models.ProductMapping{},
		&models.Movement{},
		&models.StockBalance{},
		&models.UnmappedItem{},
		&models.ProcessedEvent{},
		&models.NotificationRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{
		"movements", "stock_balances", "unmapped_items",
		"processed_events", "notification_records",
		"product_mappings", "blanks",
	} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("wipe %s: %v", table, err)
		}
	}
	return db
}

func integrationPlanning() *config.PlanningParams {
	return &config.PlanningParams{
		LeadTimeDays:          14,
		ScrapPct:              0.05,
		TargetCoverDays:       14,
		UsageWindowDays:       30,
		MinStockDefault:       100,
		ParStockDefault:       300,
		ActionableStatusIDs:   []int{1, 2, 3},
		ActionableStatusNames: []string{"new", "created", "pending"},
		TrackedKeywords:       []string{"адресник", "жетон"},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func seedRing(t *testing.T, db *gorm.DB, opening int) {
	t.Helper()
	blank := models.Blank{
		BlankSku:     "BLK-RING-25-GLD",
		Type:         models.BlankTypeRing,
		SizeMm:       25,
		Color:        models.BlankColorGold,
		Name:         "бублик 25мм",
		OpeningStock: opening,
		MinStock:     100,
		ParStock:     300,
		IsActive:     utils.NewTrue(),
	}
	if err := db.Create(&blank).Error; err != nil {
		t.Fatalf("seed blank: %v", err)
	}
	mapping := models.ProductMapping{
		ProductName: "Адресник бублик",
		BlankSku:    "BLK-RING-25-GLD",
		QtyPerUnit:  1,
		Priority:    50,
		IsActive:    utils.NewTrue(),
	}
	if err := db.Create(&mapping).Error; err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
}

func ringOrder(orderId string) workflow.OrderEvent {
	return workflow.OrderEvent{
		Source:   workflow.SourceKeyCRM,
		OrderId:  orderId,
		StatusId: 2,
		Status:   "new",
		Lines: []workflow.OrderLine{{
			LineId:      "1",
			ProductName: "Адресник бублик",
			Properties:  map[string]string{"Розмір": "25 мм", "Колір": "золото"},
			Qty:         3,
		}},
	}
}

// N distinct orders for one SKU land concurrently. Each consumes 3 units;
// the ledger sum, the last committed balance projection and the opening
// stock must agree afterwards, which only holds if the SKU lock covers
// each balance read through its transaction's commit.
func TestMySQLConcurrentIngestsKeepLedgerSumInvariant(t *testing.T) {
	db := openTestDB(t)
	seedRing(t, db, 500)

	st := store.NewGormStore(db)
	logger := quietLogger()
	ledger := workflow.NewLedger(st, workflow.NewSkuLocks(nil), logger)
	p := workflow.NewPipeline(st, ledger, logger, integrationPlanning())
	ctx := context.Background()

	const orders = 8
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := p.Ingest(ctx, ringOrder(fmt.Sprintf("9%03d", i)))
			if err != nil {
				t.Errorf("ingest %d: %v", i, err)
				return
			}
			if result.Action != workflow.ActionApplied {
				t.Errorf("ingest %d: action = %s", i, result.Action)
			}
		}(i)
	}
	wg.Wait()

	want := 500 - orders*3
	sum, err := st.SumMovements(ctx, "BLK-RING-25-GLD")
	if err != nil {
		t.Fatal(err)
	}
	if 500+sum != want {
		t.Errorf("ledger sum = %d, want %d", 500+sum, want)
	}
	balance, err := st.StockBalance(ctx, "BLK-RING-25-GLD")
	if err != nil || balance == nil {
		t.Fatalf("stock balance: %v", err)
	}
	if balance.OnHand != want {
		t.Errorf("projection = %d, want %d: a writer computed from a stale balance", balance.OnHand, want)
	}
}

// Concurrent redeliveries race to reclaim one FAILED idempotency row.
// Exactly one may win; the rest must back off instead of flipping the row
// under the winner.
func TestMySQLEventReclaimHasSingleWinner(t *testing.T) {
	db := openTestDB(t)
	st := store.NewGormStore(db)
	ctx := context.Background()

	msg := "boom"
	rec := models.ProcessedEvent{
		Source:    workflow.SourceKeyCRM,
		EventKey:  "order:3001:new",
		Status:    models.ProcessedEventFailed,
		LastError: &msg,
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatal(err)
	}

	const workers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			skip, err := st.BeginEvent(ctx, workflow.SourceKeyCRM, "order:3001:new")
			switch {
			case err == nil && !skip:
				mu.Lock()
				claims++
				mu.Unlock()
			case errors.Is(err, workflow.ErrEventInProgress):
			case err == nil && skip:
				t.Error("reclaim race reported SUCCEEDED for a FAILED event")
			default:
				t.Errorf("begin event: %v", err)
			}
		}()
	}
	wg.Wait()

	if claims != 1 {
		t.Errorf("reclaimed %d times, want exactly 1", claims)
	}

	if err := st.MarkEventSucceeded(ctx, workflow.SourceKeyCRM, "order:3001:new", "applied"); err != nil {
		t.Fatal(err)
	}
	skip, err := st.BeginEvent(ctx, workflow.SourceKeyCRM, "order:3001:new")
	if err != nil || !skip {
		t.Errorf("after success: skip=%v err=%v, want skip", skip, err)
	}
}

// Full-pipeline variant of the reclaim race: a FAILED event is redelivered
// concurrently and must produce exactly one set of movements.
func TestMySQLConcurrentRedeliveryAppliesOnce(t *testing.T) {
	db := openTestDB(t)
	seedRing(t, db, 100)

	st := store.NewGormStore(db)
	logger := quietLogger()
	ledger := workflow.NewLedger(st, workflow.NewSkuLocks(nil), logger)
	p := workflow.NewPipeline(st, ledger, logger, integrationPlanning())
	ctx := context.Background()

	msg := "injected failure"
	failed := models.ProcessedEvent{
		Source:    workflow.SourceKeyCRM,
		EventKey:  "order:3002:new",
		Status:    models.ProcessedEventFailed,
		LastError: &msg,
	}
	if err := db.Create(&failed).Error; err != nil {
		t.Fatal(err)
	}

	const deliveries = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := p.Ingest(ctx, ringOrder("3002"))
			if err != nil {
				if !errors.Is(err, workflow.ErrEventInProgress) && !workflow.IsTransient(err) {
					t.Error(err)
				}
				return
			}
			if result.Action == workflow.ActionApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied %d times, want exactly 1", applied)
	}
	sum, err := st.SumMovements(ctx, "BLK-RING-25-GLD")
	if err != nil {
		t.Fatal(err)
	}
	if sum != -3 {
		t.Errorf("ledger sum = %d, want -3 (one application)", sum)
	}
}

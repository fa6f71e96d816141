package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/workflow"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the MySQL-backed implementation of the engine's store
// boundary. A transaction-scoped copy is handed to the callback in
// InTransaction so every write inside it shares one DB transaction.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ workflow.Store = (*GormStore)(nil)

func (s *GormStore) ActiveBlanks(ctx context.Context) ([]*models.Blank, error) {
	var blanks []*models.Blank
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("blank_sku ASC").
		Find(&blanks).Error
	return blanks, err
}

func (s *GormStore) BlankBySku(ctx context.Context, sku string) (*models.Blank, error) {
	var blank models.Blank
	err := s.db.WithContext(ctx).Where("blank_sku = ?", sku).First(&blank).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &blank, nil
}

func (s *GormStore) ActiveMappings(ctx context.Context) ([]*models.ProductMapping, error) {
	var mappings []*models.ProductMapping
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, id ASC").
		Find(&mappings).Error
	return mappings, err
}

func (s *GormStore) AppendMovement(ctx context.Context, m *models.Movement) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) LatestMovement(ctx context.Context, sku string) (*models.Movement, error) {
	var m models.Movement
	err := s.db.WithContext(ctx).
		Where("blank_sku = ?", sku).
		Order("occurred_at DESC, created_at DESC, id DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *GormStore) Movements(ctx context.Context, sku string, from, to time.Time) ([]*models.Movement, error) {
	var out []*models.Movement
	q := s.db.WithContext(ctx).Where("blank_sku = ?", sku)
	if !from.IsZero() {
		q = q.Where("occurred_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("occurred_at <= ?", to)
	}
	err := q.Order("occurred_at ASC, created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) SumMovements(ctx context.Context, sku string) (int, error) {
	var sum *int
	err := s.db.WithContext(ctx).
		Model(&models.Movement{}).
		Where("blank_sku = ?", sku).
		Select("SUM(qty)").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

func (s *GormStore) OutboundUsageSince(ctx context.Context, sku string, since time.Time) (int, int, error) {
	var row struct {
		Total *int
		Count int
	}
	err := s.db.WithContext(ctx).
		Model(&models.Movement{}).
		Where("blank_sku = ? AND qty < 0 AND occurred_at >= ?", sku, since).
		Select("SUM(ABS(qty)) AS total, COUNT(*) AS count").
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	total := 0
	if row.Total != nil {
		total = *row.Total
	}
	return total, row.Count, nil
}

func (s *GormStore) StockBalance(ctx context.Context, sku string) (*models.StockBalance, error) {
	var b models.StockBalance
	err := s.db.WithContext(ctx).Where("blank_sku = ?", sku).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *GormStore) UpsertStockBalance(ctx context.Context, b *models.StockBalance) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "blank_sku"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"on_hand", "reserved", "last_receipt_date", "last_order_date", "updated_at",
			}),
		}).
		Create(b).Error
}

func (s *GormStore) AllStockBalances(ctx context.Context) ([]*models.StockBalance, error) {
	var out []*models.StockBalance
	err := s.db.WithContext(ctx).Order("blank_sku ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) CreateUnmappedItem(ctx context.Context, item *models.UnmappedItem) error {
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *GormStore) PendingUnmappedItems(ctx context.Context) ([]*models.UnmappedItem, error) {
	var out []*models.UnmappedItem
	err := s.db.WithContext(ctx).
		Where("resolution = ?", models.UnmappedResolutionPending).
		Order("first_seen_at ASC").
		Find(&out).Error
	return out, err
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginEvent inserts a STARTED row. If the event already SUCCEEDED it
// returns (true, nil) meaning "skip safely with zero writes".
func (s *GormStore) BeginEvent(ctx context.Context, source, key string) (skip bool, err error) {
	db := s.db.WithContext(ctx)
	rec := models.ProcessedEvent{
		Source:   source,
		EventKey: key,
		Status:   models.ProcessedEventStarted,
	}
	if err := db.Create(&rec).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.ProcessedEvent
	if err := db.Where("source = ? AND event_key = ?", source, key).First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.ProcessedEventSucceeded:
		return true, nil
	case models.ProcessedEventStarted:
		// Another worker may still be processing; ask the source to
		// redeliver. A stale STARTED row means that worker died, so
		// reclaim it.
		if time.Since(existing.UpdatedAt) < staleEventAfter {
			return false, workflow.ErrEventInProgress
		}
		return s.reclaimEvent(ctx, existing.ID)
	default: // FAILED: retry by reusing the same row
		return s.reclaimEvent(ctx, existing.ID)
	}
}

// staleEventAfter is how long a STARTED row may sit untouched before a
// redelivery may assume its worker died and reclaim it.
const staleEventAfter = 5 * time.Minute

// reclaimEvent flips a FAILED or stale STARTED row back to STARTED. The
// status predicate plus the RowsAffected check make the reclaim a
// single-winner compare-and-swap: a concurrent redelivery that loses the
// race must not steal a row another worker already claimed or finished,
// so on zero rows the current status decides between "skip, it
// succeeded" and "back off, it is in flight".
func (s *GormStore) reclaimEvent(ctx context.Context, id int) (skip bool, err error) {
	db := s.db.WithContext(ctx)
	cutoff := time.Now().Add(-staleEventAfter)
	res := db.Model(&models.ProcessedEvent{}).
		Where("id = ? AND (status = ? OR (status = ? AND updated_at <= ?))",
			id, models.ProcessedEventFailed, models.ProcessedEventStarted, cutoff).
		Updates(map[string]interface{}{"status": models.ProcessedEventStarted, "last_error": nil})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return false, nil
	}
	var current models.ProcessedEvent
	if err := db.Where("id = ?", id).First(&current).Error; err != nil {
		return false, err
	}
	if current.Status == models.ProcessedEventSucceeded {
		return true, nil
	}
	return false, workflow.ErrEventInProgress
}

func (s *GormStore) MarkEventSucceeded(ctx context.Context, source, key, outcome string) error {
	return s.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("source = ? AND event_key = ?", source, key).
		Updates(map[string]interface{}{
			"status":     models.ProcessedEventSucceeded,
			"outcome":    &outcome,
			"last_error": nil,
		}).Error
}

// MarkEventFailed upserts because the STARTED row may have rolled back
// with the failed transaction.
func (s *GormStore) MarkEventFailed(ctx context.Context, source, key string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	db := s.db.WithContext(ctx)
	res := db.Model(&models.ProcessedEvent{}).
		Where("source = ? AND event_key = ?", source, key).
		Updates(map[string]interface{}{"status": models.ProcessedEventFailed, "last_error": &msg})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	rec := models.ProcessedEvent{
		Source:    source,
		EventKey:  key,
		Status:    models.ProcessedEventFailed,
		LastError: &msg,
	}
	if err := db.Create(&rec).Error; err != nil && !isDuplicateKeyErr(err) {
		return err
	}
	return nil
}

func (s *GormStore) EnqueueNotification(ctx context.Context, n *models.NotificationRecord) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *GormStore) InTransaction(ctx context.Context, fn func(workflow.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// AcquireSkuLock serializes balance updates per SKU across instances
// using MySQL advisory locks. GET_LOCK is connection-scoped, so the lock
// is taken on a dedicated connection checked out from the pool; that lets
// the caller keep holding it while the posting transaction runs and
// commits on another connection, and guarantees RELEASE_LOCK hits the
// same connection that acquired it. Call it on the root store, not the
// transaction-scoped copy.
func (s *GormStore) AcquireSkuLock(ctx context.Context, sku string) (func(), error) {
	lockName := fmt.Sprintf("stock:%s", sku)
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 30)", lockName).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("could not acquire stock lock for sku=%s", sku)
	}
	release := func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", lockName)
		_ = conn.Close()
	}
	return release, nil
}

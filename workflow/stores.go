package workflow

import (
	"context"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/models"
)

// Store is the durable tabular-store boundary of the core engine. The
// engine never touches a concrete storage product; any backend that can
// honor these contracts (and the transactional one below) can carry the
// ledger.
type Store interface {
	// Catalog (read-mostly; operator CRUD happens outside the engine).
	ActiveBlanks(ctx context.Context) ([]*models.Blank, error)
	BlankBySku(ctx context.Context, sku string) (*models.Blank, error)
	ActiveMappings(ctx context.Context) ([]*models.ProductMapping, error)

	// Ledger. AppendMovement must only ever insert: movements are
	// immutable after append.
	AppendMovement(ctx context.Context, m *models.Movement) error
	LatestMovement(ctx context.Context, sku string) (*models.Movement, error)
	Movements(ctx context.Context, sku string, from, to time.Time) ([]*models.Movement, error)
	SumMovements(ctx context.Context, sku string) (int, error)
	// OutboundUsageSince returns total consumed units (absolute value)
	// and the number of outbound movements since the given time.
	OutboundUsageSince(ctx context.Context, sku string, since time.Time) (int, int, error)

	// Balance projection.
	StockBalance(ctx context.Context, sku string) (*models.StockBalance, error)
	UpsertStockBalance(ctx context.Context, b *models.StockBalance) error
	AllStockBalances(ctx context.Context) ([]*models.StockBalance, error)

	// Unmapped backlog.
	CreateUnmappedItem(ctx context.Context, item *models.UnmappedItem) error
	PendingUnmappedItems(ctx context.Context) ([]*models.UnmappedItem, error)

	// Idempotency records. BeginEvent inserts STARTED; skip=true means the
	// event already SUCCEEDED and must be short-circuited with zero writes.
	BeginEvent(ctx context.Context, source, key string) (skip bool, err error)
	MarkEventSucceeded(ctx context.Context, source, key, outcome string) error
	MarkEventFailed(ctx context.Context, source, key string, cause error) error

	// Notification outbox (written in the same transaction as the state
	// change it announces).
	EnqueueNotification(ctx context.Context, n *models.NotificationRecord) error

	// InTransaction runs fn against a transaction-scoped Store. Either
	// every write inside fn commits or none does.
	InTransaction(ctx context.Context, fn func(Store) error) error

	// AcquireSkuLock serializes balance updates for one SKU across
	// instances. Callers acquire it on the root store BEFORE opening the
	// posting transaction and run the returned release only after the
	// transaction has committed or rolled back; releasing earlier would
	// let another writer read a balance the open transaction is about to
	// supersede.
	AcquireSkuLock(ctx context.Context, sku string) (release func(), err error)
}

// NewMovement is the append input shared by the ingestion pipeline and the
// operator entry points. Qty is signed; consumption is negative.
type NewMovement struct {
	BlankSku   string
	Type       models.MovementType
	Qty        int
	SourceType models.MovementSource
	SourceId   string
	User       string
	Note       string
	OccurredAt time.Time
}

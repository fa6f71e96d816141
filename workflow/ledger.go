package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ledger owns every balance-changing write. Webhook consumption, manual
// receipts and corrections all funnel through the same append contract.
type Ledger struct {
	Store  Store
	Locks  *SkuLocks
	Logger *logrus.Logger
}

func NewLedger(store Store, locks *SkuLocks, logger *logrus.Logger) *Ledger {
	return &Ledger{Store: store, Locks: locks, Logger: logger}
}

// AppendMovement appends one movement in its own transaction and returns
// it with the balance snapshot filled in.
func (l *Ledger) AppendMovement(ctx context.Context, nm NewMovement) (*models.Movement, error) {
	release, err := l.lockSkus(ctx, []string{nm.BlankSku})
	if err != nil {
		return nil, err
	}
	defer release()

	var appended *models.Movement
	err = l.Store.InTransaction(ctx, func(s Store) error {
		var err error
		appended, err = l.appendLocked(ctx, s, nm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// lockSkus takes the per-SKU serialization stack for every SKU an event
// touches: the in-process/redis lock first, then the store's advisory
// lock. SKUs are deduplicated and sorted so two events touching the same
// pair can never deadlock. The returned release must run only after the
// posting transaction has ended; the lock covers the balance read through
// commit, which is what keeps concurrent writers from computing from the
// same stale snapshot.
func (l *Ledger) lockSkus(ctx context.Context, skus []string) (func(), error) {
	skus = utils.UniqueSlice(skus)
	sort.Strings(skus)

	var releases []func()
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, sku := range skus {
		releases = append(releases, l.Locks.Lock(ctx, sku))
		storeRelease, err := l.Store.AcquireSkuLock(ctx, sku)
		if err != nil {
			release()
			return nil, err
		}
		releases = append(releases, storeRelease)
	}
	return release, nil
}

// appendLocked is the balance update step. It must run inside a store
// transaction, and the caller must already hold the SKU lock (lockSkus)
// across that whole transaction; the caller batches multiple appends of
// one event into a single transaction.
func (l *Ledger) appendLocked(ctx context.Context, s Store, nm NewMovement) (*models.Movement, error) {
	if nm.Qty == 0 {
		return nil, errors.New("movement quantity must not be zero")
	}

	blank, err := s.BlankBySku(ctx, nm.BlankSku)
	if err != nil {
		return nil, err
	}
	if blank == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlankNotFound, nm.BlankSku)
	}

	prev, err := l.currentBalance(ctx, s, blank)
	if err != nil {
		return nil, err
	}

	// Negative stock is not representable: when a consumption exceeds the
	// on-hand quantity, apply only what is there and record the shortfall.
	// Keeping the applied quantity consistent with the snapshot preserves
	// the ledger-sum invariant; the shortfall shows up in reconciliation
	// reports and the note.
	applied := nm.Qty
	note := nm.Note
	if applied < 0 && prev+applied < 0 {
		shortfall := -(prev + applied)
		applied = -prev
		if note != "" {
			note += "; "
		}
		note += fmt.Sprintf("shortfall %d units (requested %d, on hand %d)", shortfall, -nm.Qty, prev)
		l.Logger.WithFields(logrus.Fields{
			"blank_sku": nm.BlankSku,
			"requested": -nm.Qty,
			"on_hand":   prev,
			"shortfall": shortfall,
		}).Error("insufficient stock, consumption clamped")
	}

	occurredAt := nm.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	m := &models.Movement{
		ID:            uuid.NewString(),
		BlankSku:      blank.BlankSku,
		Type:          nm.Type,
		Qty:           applied,
		BalanceAfter:  prev + applied,
		SourceType:    nm.SourceType,
		SourceId:      nm.SourceId,
		User:          utils.NilIfEmpty(nm.User),
		Note:          utils.NilIfEmpty(note),
		OccurredAt:    occurredAt,
		CorrelationId: correlationIdFromContext(ctx),
	}
	if err := s.AppendMovement(ctx, m); err != nil {
		return nil, err
	}

	if err := l.projectBalance(ctx, s, blank, m); err != nil {
		return nil, err
	}

	l.Logger.WithFields(logrus.Fields{
		"blank_sku":     m.BlankSku,
		"movement_id":   m.ID,
		"type":          m.Type,
		"qty":           m.Qty,
		"balance_after": m.BalanceAfter,
	}).Info("movement appended")

	return m, nil
}

// currentBalance reads the last snapshot under the SKU lock. A SKU with no
// movements yet starts from its catalog opening stock.
func (l *Ledger) currentBalance(ctx context.Context, s Store, blank *models.Blank) (int, error) {
	latest, err := s.LatestMovement(ctx, blank.BlankSku)
	if err != nil {
		return 0, err
	}
	if latest != nil {
		return latest.BalanceAfter, nil
	}
	return blank.OpeningStock, nil
}

func (l *Ledger) projectBalance(ctx context.Context, s Store, blank *models.Blank, m *models.Movement) error {
	balance, err := s.StockBalance(ctx, blank.BlankSku)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = &models.StockBalance{BlankSku: blank.BlankSku}
	}
	balance.OnHand = m.BalanceAfter
	now := m.OccurredAt
	switch m.Type {
	case models.MovementTypeReceipt:
		balance.LastReceiptDate = &now
	case models.MovementTypeOrder:
		balance.LastOrderDate = &now
	}
	return s.UpsertStockBalance(ctx, balance)
}

// BalanceOf returns the current on-hand quantity for one SKU.
func (l *Ledger) BalanceOf(ctx context.Context, sku string) (int, error) {
	blank, err := l.Store.BlankBySku(ctx, sku)
	if err != nil {
		return 0, err
	}
	if blank == nil {
		return 0, fmt.Errorf("%w: %s", ErrBlankNotFound, sku)
	}
	latest, err := l.Store.LatestMovement(ctx, sku)
	if err != nil {
		return 0, err
	}
	if latest != nil {
		return latest.BalanceAfter, nil
	}
	return blank.OpeningStock, nil
}

// HistoryOf returns the ordered movement sequence for one SKU in a range.
func (l *Ledger) HistoryOf(ctx context.Context, sku string, from, to time.Time) ([]*models.Movement, error) {
	return l.Store.Movements(ctx, sku, from, to)
}

// AddReceipt records an inbound receipt entered by an operator.
func (l *Ledger) AddReceipt(ctx context.Context, sku string, qty int, user, note string) (*models.Movement, error) {
	if qty <= 0 {
		return nil, errors.New("receipt quantity must be positive")
	}
	if err := l.requireActive(ctx, sku); err != nil {
		return nil, err
	}
	if note == "" {
		note = fmt.Sprintf("Receipt of %d units", qty)
	}
	return l.AppendMovement(ctx, NewMovement{
		BlankSku:   sku,
		Type:       models.MovementTypeReceipt,
		Qty:        qty,
		SourceType: models.MovementSourceOperator,
		SourceId:   fmt.Sprintf("receipt_%s", uuid.NewString()),
		User:       user,
		Note:       note,
	})
}

// AddCorrection records a signed manual adjustment with a mandatory reason.
func (l *Ledger) AddCorrection(ctx context.Context, sku string, delta int, user, reason string) (*models.Movement, error) {
	if delta == 0 {
		return nil, errors.New("correction must not be zero")
	}
	if reason == "" {
		return nil, errors.New("correction reason is required")
	}
	if err := l.requireActive(ctx, sku); err != nil {
		return nil, err
	}
	return l.AppendMovement(ctx, NewMovement{
		BlankSku:   sku,
		Type:       models.MovementTypeCorrection,
		Qty:        delta,
		SourceType: models.MovementSourceManual,
		SourceId:   fmt.Sprintf("correction_%s", uuid.NewString()),
		User:       user,
		Note:       "Correction: " + reason,
	})
}

// AddScrap writes off wasted material.
func (l *Ledger) AddScrap(ctx context.Context, sku string, qty int, user, reason string) (*models.Movement, error) {
	if qty <= 0 {
		return nil, errors.New("scrap quantity must be positive")
	}
	if err := l.requireActive(ctx, sku); err != nil {
		return nil, err
	}
	return l.AppendMovement(ctx, NewMovement{
		BlankSku:   sku,
		Type:       models.MovementTypeScrap,
		Qty:        -qty,
		SourceType: models.MovementSourceManual,
		SourceId:   fmt.Sprintf("scrap_%s", uuid.NewString()),
		User:       user,
		Note:       "Scrap: " + reason,
	})
}

func (l *Ledger) requireActive(ctx context.Context, sku string) error {
	blank, err := l.Store.BlankBySku(ctx, sku)
	if err != nil {
		return err
	}
	if blank == nil {
		return fmt.Errorf("%w: %s", ErrBlankNotFound, sku)
	}
	if !utils.DereferencePtr(blank.IsActive) {
		return fmt.Errorf("%w: %s", ErrBlankInactive, sku)
	}
	return nil
}

func correlationIdFromContext(ctx context.Context) string {
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

package workflow

import (
	"context"
	"encoding/json"

	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/sirupsen/logrus"
)

// DriftReport describes one SKU whose balance representations disagree.
// For a healthy ledger: opening stock + sum of signed movement quantities
// == BalanceAfter of the latest movement == StockBalance projection.
type DriftReport struct {
	BlankSku       string `json:"blank_sku"`
	LedgerSum      int    `json:"ledger_sum"`
	LatestSnapshot int    `json:"latest_snapshot"`
	Projection     int    `json:"projection"`
}

// VerifyLedger audits every active SKU and returns the drifted ones.
// Read-only; safe to run concurrently with writers (a movement landing
// between the two reads of one SKU can produce a false positive, so the
// audit re-checks once before reporting).
func VerifyLedger(ctx context.Context, store Store, logger *logrus.Logger) ([]DriftReport, error) {
	blanks, err := store.ActiveBlanks(ctx)
	if err != nil {
		return nil, err
	}
	// One bulk read serves the first pass over every SKU's projection.
	balances, err := store.AllStockBalances(ctx)
	if err != nil {
		return nil, err
	}
	projections := make(map[string]*models.StockBalance, len(balances))
	for _, b := range balances {
		projections[b.BlankSku] = b
	}

	var drifted []DriftReport
	for _, blank := range blanks {
		report, drift, err := checkSku(ctx, store, blank, projections[blank.BlankSku])
		if err != nil {
			return nil, err
		}
		if drift {
			// Re-check with a fresh projection read: a concurrent append
			// between reads looks like drift.
			fresh, err := store.StockBalance(ctx, blank.BlankSku)
			if err != nil {
				return nil, err
			}
			report, drift, err = checkSku(ctx, store, blank, fresh)
			if err != nil {
				return nil, err
			}
		}
		if drift {
			logger.WithFields(logrus.Fields{
				"blank_sku":       report.BlankSku,
				"ledger_sum":      report.LedgerSum,
				"latest_snapshot": report.LatestSnapshot,
				"projection":      report.Projection,
			}).Error("ledger drift detected")
			drifted = append(drifted, *report)
		}
	}
	return drifted, nil
}

func checkSku(ctx context.Context, store Store, blank *models.Blank, balance *models.StockBalance) (*DriftReport, bool, error) {
	sum, err := store.SumMovements(ctx, blank.BlankSku)
	if err != nil {
		return nil, false, err
	}
	ledgerSum := blank.OpeningStock + sum

	snapshot := blank.OpeningStock
	if latest, err := store.LatestMovement(ctx, blank.BlankSku); err != nil {
		return nil, false, err
	} else if latest != nil {
		snapshot = latest.BalanceAfter
	}

	projection := blank.OpeningStock
	if balance != nil {
		projection = balance.OnHand
	}

	report := &DriftReport{
		BlankSku:       blank.BlankSku,
		LedgerSum:      ledgerSum,
		LatestSnapshot: snapshot,
		Projection:     projection,
	}
	drift := ledgerSum != snapshot || snapshot != projection
	return report, drift, nil
}

// EnqueueDriftAlert writes a notification for a non-empty drift report.
func EnqueueDriftAlert(ctx context.Context, store Store, drifted []DriftReport) error {
	if len(drifted) == 0 {
		return nil
	}
	payload, err := json.Marshal(drifted)
	if err != nil {
		return err
	}
	return store.EnqueueNotification(ctx, &models.NotificationRecord{
		Kind:          models.NotificationKindLedgerDrift,
		Payload:       payload,
		PublishStatus: models.OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContext(ctx),
	})
}

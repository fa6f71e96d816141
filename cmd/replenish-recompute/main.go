package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/store"
	"github.com/NaturesProfit7/Warehouse-Automation/workflow"
)

// One-shot recompute for the external scheduler (cron / Cloud Scheduler):
// recompute all recommendations, enqueue the daily replenishment
// notification, then audit the ledger. Notification delivery itself is
// handled by the server's outbox dispatcher.
func main() {
	sku := flag.String("sku", "", "Optional: recompute a single SKU and print it")
	enqueue := flag.Bool("enqueue", true, "Enqueue a replenishment notification for SKUs that need ordering")
	verify := flag.Bool("verify", true, "Run the ledger drift audit after recompute")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	logger := config.GetLogger()
	st := store.NewGormStore(db)
	calculator := workflow.NewCalculator(st, config.GetPlanningParams(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *sku != "" {
		rec, err := calculator.Recompute(ctx, *sku)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recompute failed: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))
		return
	}

	recs, err := calculator.RecomputeAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recompute failed: %v\n", err)
		os.Exit(1)
	}
	metrics := calculator.Metrics(recs)

	var needOrder []*workflow.Recommendation
	for _, rec := range recs {
		if rec.NeedOrder {
			needOrder = append(needOrder, rec)
		}
	}

	// The daily digest also carries the unmapped backlog: lines waiting
	// for a mapping are consumption the recommendations cannot see yet.
	pending, err := st.PendingUnmappedItems(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load unmapped backlog: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("recomputed %d SKUs; %d need ordering; %d below min; %d unmapped lines pending\n",
		len(recs), len(needOrder), metrics.SkusBelowMin, len(pending))

	if *enqueue && len(needOrder) > 0 {
		pendingNames := make([]string, 0, len(pending))
		for _, item := range pending {
			pendingNames = append(pendingNames, item.ProductName)
		}
		payload, err := json.Marshal(map[string]interface{}{
			"recommendations":  needOrder,
			"metrics":          metrics,
			"unmapped_pending": pendingNames,
			"generated_at":     time.Now().UTC(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal notification: %v\n", err)
			os.Exit(1)
		}
		rec := models.NotificationRecord{
			Kind:    models.NotificationKindReplenishment,
			Payload: payload,
		}
		if err := st.EnqueueNotification(ctx, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "enqueue notification: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("enqueued replenishment notification id=%d\n", rec.ID)
	}

	if *verify {
		drifted, err := workflow.VerifyLedger(ctx, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledger audit failed: %v\n", err)
			os.Exit(1)
		}
		if len(drifted) > 0 {
			if err := workflow.EnqueueDriftAlert(ctx, st, drifted); err != nil {
				fmt.Fprintf(os.Stderr, "enqueue drift alert: %v\n", err)
			}
			fmt.Printf("ledger audit found %d drifted SKUs\n", len(drifted))
			os.Exit(2)
		}
		fmt.Println("ledger audit clean")
	}
}

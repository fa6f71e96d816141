package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/store"
	"github.com/NaturesProfit7/Warehouse-Automation/workflow"
)

// Audits every active SKU: the movement sum, the latest movement's
// balance_after and the StockBalance projection must agree. Exit code 2
// signals drift so monitoring can alert on it.
func main() {
	enqueue := flag.Bool("enqueue", false, "Enqueue a drift alert notification when drift is found")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	logger := config.GetLogger()
	st := store.NewGormStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	drifted, err := workflow.VerifyLedger(ctx, st, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger audit failed: %v\n", err)
		os.Exit(1)
	}
	if len(drifted) == 0 {
		fmt.Println("ledger audit clean")
		return
	}

	out, _ := json.MarshalIndent(drifted, "", "  ")
	fmt.Println(string(out))
	if *enqueue {
		if err := workflow.EnqueueDriftAlert(ctx, st, drifted); err != nil {
			fmt.Fprintf(os.Stderr, "enqueue drift alert: %v\n", err)
		}
	}
	os.Exit(2)
}

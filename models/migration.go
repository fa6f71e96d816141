package models

import (
	"log"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Blank{},
		&ProductMapping{},
		&Movement{},
		&StockBalance{},
		&UnmappedItem{},
		&ProcessedEvent{},
		&NotificationRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

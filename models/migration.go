package models

import (
	"log"

	"github.com/oakfield/lettings_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Property{}, &Customer{}, &Beneficiary{}, &Lease{},
		&FinancialTransaction{},
		&MaintenanceTicket{}, &MaintenanceCategory{}, &Tag{}, &TagLink{},
		&SyncRun{}, &SyncError{}, &SyncAuditLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

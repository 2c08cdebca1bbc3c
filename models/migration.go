package models

import "bitbucket.org/mmdatafocus/loyalty_backend/config"

// MigrateTable keeps the schema in sync. Safe to call at startup; GORM only
// adds missing tables/columns/indexes.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		return
	}
	err := db.AutoMigrate(
		&Merchant{},
		&Offer{},
		&OfferVariation{},
		&PurchaseEvent{},
		&ProgressSummary{},
		&Reward{},
		&Redemption{},
		&BackfillRun{},
		&BackfillError{},
		&AuditLogEntry{},
	)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "MigrateTable", "auto-migrate", nil, err)
	}
}

package model

import "gorm.io/gorm"

// allModels lists the supporting tables auto-migrated at startup. The
// accounts table is provisioned by the account service itself.
var allModels = []interface{}{
	&AccountItem{},
	&AuditLog{},
}

// AutoMigrate creates or updates the supporting tables in the given database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels...)
}

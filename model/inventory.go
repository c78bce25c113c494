package model

import "time"

// ItemKind distinguishes item types from RMMV data files.
type ItemKind = int

const (
	ItemKindItem   ItemKind = 1
	ItemKindWeapon ItemKind = 2
	ItemKindArmor  ItemKind = 3
)

// ItemSourceStarter marks rows granted on account creation.
const ItemSourceStarter = "starter"

// AccountItem is an item stack held at account level (shared by all of the
// account's characters). A (account, item, source) triple is granted once.
type AccountItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64     `gorm:"uniqueIndex:idx_account_item_source;not null" json:"account_id"`
	ItemID    int       `gorm:"uniqueIndex:idx_account_item_source;not null" json:"item_id"`
	Kind      int       `gorm:"not null" json:"kind"`
	Qty       int       `gorm:"default:1" json:"qty"`
	Source    string    `gorm:"uniqueIndex:idx_account_item_source;size:32;not null" json:"source"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

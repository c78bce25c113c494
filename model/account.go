package model

import "time"

// AccountsTable is the backing table owned by the account service.
const AccountsTable = "accounts"

// DefaultLoginIP is the last_login_ip column default.
const DefaultLoginIP = "0.0.0.0"

// Account status codes. Only transport callers interpret them; the account
// service stores whatever integer it is given.
const (
	StatusActive      = 0
	StatusSuspended   = 1
	StatusBanned      = 2
	StatusDeactivated = 3
)

// Account represents a player account.
type Account struct {
	AccountID       int64     `gorm:"column:account_id;primaryKey;autoIncrement" json:"account_id"`
	Username        string    `gorm:"column:username;uniqueIndex;size:255;not null" json:"username"`
	PasswordHash    string    `gorm:"column:password_hash;size:255" json:"-"`
	Email           *string   `gorm:"column:email;uniqueIndex;size:255" json:"email,omitempty"`
	SteamID         *int64    `gorm:"column:steam_id;uniqueIndex" json:"steam_id,omitempty"`
	LastCharacterID int64     `gorm:"column:last_character_id;default:0" json:"last_character_id"`
	Status          int       `gorm:"column:status;default:0" json:"status"`
	LastLogin       time.Time `gorm:"column:last_login;autoCreateTime;not null" json:"last_login"`
	LastLoginIP     string    `gorm:"column:last_login_ip;size:45;default:'0.0.0.0'" json:"last_login_ip"`
	Language        *string   `gorm:"column:language;size:10" json:"language,omitempty"`
	CreationDate    time.Time `gorm:"column:creation_date;autoCreateTime;not null" json:"creation_date"`
}

func (Account) TableName() string { return AccountsTable }

// SteamIDValue returns the linked platform id, 0 when not linked.
func (a *Account) SteamIDValue() int64 {
	if a.SteamID == nil {
		return 0
	}
	return *a.SteamID
}

// Active reports whether the account may log in.
func (a *Account) Active() bool { return a.Status == StatusActive }

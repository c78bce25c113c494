// Package inventory stores account-level item stacks and grants the
// configured starter items to new accounts.
package inventory

import (
	"context"
	"errors"

	"github.com/kasuganosora/playeraccounts/config"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultRetryBatch = 100

// Service handles account item rows.
type Service struct {
	db      *gorm.DB
	logger  *zap.Logger
	starter []config.StarterItem
}

// NewService creates a Service granting starter to every new account.
func NewService(db *gorm.DB, logger *zap.Logger, starter []config.StarterItem) *Service {
	return &Service{db: db, logger: logger, starter: starter}
}

// GrantStarter inserts the starter items for accountID. Items already granted
// are skipped, so calling it again adds nothing. Returns the number of rows
// written.
func (svc *Service) GrantStarter(ctx context.Context, accountID int64) (int, error) {
	if accountID <= 0 {
		return 0, errors.New("inventory: account id must be positive")
	}
	if len(svc.starter) == 0 {
		return 0, nil
	}
	rows := make([]model.AccountItem, 0, len(svc.starter))
	for _, it := range svc.starter {
		qty := it.Qty
		if qty <= 0 {
			qty = 1
		}
		rows = append(rows, model.AccountItem{
			AccountID: accountID,
			ItemID:    it.ItemID,
			Kind:      it.Kind,
			Qty:       qty,
			Source:    model.ItemSourceStarter,
		})
	}
	res := svc.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	if res.Error != nil {
		svc.logger.Error("starter grant failed",
			zap.Int64("account_id", accountID), zap.Error(res.Error))
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		svc.logger.Info("starter items granted",
			zap.Int64("account_id", accountID), zap.Int64("rows", res.RowsAffected))
	}
	return int(res.RowsAffected), nil
}

// GrantMissingStarters grants starter items to up to limit accounts that
// have none yet. It is the retry path for grants that failed after create.
func (svc *Service) GrantMissingStarters(ctx context.Context, limit int) (int, error) {
	if len(svc.starter) == 0 {
		return 0, nil
	}
	if limit <= 0 {
		limit = defaultRetryBatch
	}
	var ids []int64
	err := svc.db.WithContext(ctx).
		Table(model.AccountsTable).
		Where("NOT EXISTS (SELECT 1 FROM account_items ai WHERE ai.account_id = accounts.account_id AND ai.source = ?)",
			model.ItemSourceStarter).
		Order("account_id").
		Limit(limit).
		Pluck("account_id", &ids).Error
	if err != nil {
		return 0, err
	}

	granted := 0
	var errs []error
	for _, id := range ids {
		if _, err := svc.GrantStarter(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		granted++
	}
	if granted > 0 {
		svc.logger.Info("missing starter items granted", zap.Int("accounts", granted))
	}
	return granted, errors.Join(errs...)
}

// List returns all item rows for accountID.
func (svc *Service) List(ctx context.Context, accountID int64) ([]model.AccountItem, error) {
	var items []model.AccountItem
	err := svc.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id").
		Find(&items).Error
	return items, err
}

// RegisterHooks grants starter items whenever an account is created.
func (svc *Service) RegisterHooks(hc *hook.HookCenter) {
	hc.Register(hook.AfterAccountCreate, 10, "inventory.starter", func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		acc, ok := data.(*model.Account)
		if !ok || acc.AccountID <= 0 {
			return data, nil
		}
		_, err := svc.GrantStarter(ctx, acc.AccountID)
		return data, err
	})
}

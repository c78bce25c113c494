package account

import (
	"context"
	"strings"

	"github.com/kasuganosora/playeraccounts/model"
	"go.uber.org/zap"
)

// Messages carried in failed LoginResults.
const (
	MsgInvalidCredentials = "Invalid username or password"
	MsgNoIdentifier       = "No login identifier supplied"
	MsgAccountSuspended   = "Account is suspended"
	MsgAccountBanned      = "Account is banned"
	MsgAccountDeactivated = "Account is deactivated"
	MsgAccountDisabled    = "Account is disabled"
)

// Credentials identify an account by username, or failing that by
// DetermineLoginMethod over SteamID and AccountID.
type Credentials struct {
	Username  string
	Password  string
	SteamID   int64
	AccountID int64
	IPAddress string
}

// Login authenticates c and records the login on success. The returned
// account is set whenever one matched, including when its status refuses the
// login. The error is reserved for storage and readiness failures.
func (s *Service) Login(ctx context.Context, c Credentials) (*model.Account, LoginResult, error) {
	if err := s.checkReady(); err != nil {
		return nil, LoginResult{}, err
	}

	var acc *model.Account
	var err error
	if username := strings.TrimSpace(c.Username); username != "" {
		acc, err = s.GetAccountByUsername(ctx, username)
	} else {
		var method LoginMethod
		acc, method, err = s.ResolveLogin(ctx, c.SteamID, c.AccountID)
		if err == nil && method == LoginMethodNone {
			return nil, LoginFailed(MsgNoIdentifier), nil
		}
	}
	if err != nil {
		return nil, LoginResult{}, err
	}
	if acc == nil {
		return nil, LoginFailed(MsgInvalidCredentials), nil
	}

	ok, err := s.checkPassword(acc, c.Password)
	if err != nil {
		return acc, LoginResult{}, err
	}
	if !ok {
		s.logger.Info("login rejected: bad password", zap.Int64("account_id", acc.AccountID))
		return acc, LoginFailed(MsgInvalidCredentials), nil
	}
	if !acc.Active() {
		s.logger.Info("login rejected: account status",
			zap.Int64("account_id", acc.AccountID), zap.Int("status", acc.Status))
		return acc, LoginFailed(StatusMessage(acc.Status)), nil
	}

	if err := s.RecordLogin(ctx, acc, c.IPAddress); err != nil {
		// A failed timestamp update does not refuse the login.
		s.logger.Warn("record login failed", zap.Int64("account_id", acc.AccountID), zap.Error(err))
	}
	return acc, LoginSucceeded(acc), nil
}

// StatusMessage is the refusal message shown for a non-active status.
func StatusMessage(status int) string {
	switch status {
	case model.StatusSuspended:
		return MsgAccountSuspended
	case model.StatusBanned:
		return MsgAccountBanned
	case model.StatusDeactivated:
		return MsgAccountDeactivated
	default:
		return MsgAccountDisabled
	}
}

// Refused reports whether r failed because of the account's status rather
// than bad credentials.
func (r LoginResult) Refused() bool {
	switch r.ErrorMessage {
	case MsgAccountSuspended, MsgAccountBanned, MsgAccountDeactivated, MsgAccountDisabled:
		return true
	}
	return false
}

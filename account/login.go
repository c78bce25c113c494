package account

import "github.com/kasuganosora/playeraccounts/model"

// LoginMethod selects how a session identifies its account.
type LoginMethod int

const (
	LoginMethodNone LoginMethod = iota
	LoginMethodSteamID
	LoginMethodAccountID
)

func (m LoginMethod) String() string {
	switch m {
	case LoginMethodSteamID:
		return "steam_id"
	case LoginMethodAccountID:
		return "account_id"
	default:
		return "none"
	}
}

// LoginResult is the flat record sent to game clients after a login attempt.
type LoginResult struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error,omitempty"`
	AccountID    int64  `json:"account_id,omitempty"`
	AccountName  string `json:"account_name,omitempty"`
	SteamID      int64  `json:"steam_id,omitempty"`
}

// LoginSucceeded builds the result for an authenticated account.
func LoginSucceeded(acc *model.Account) LoginResult {
	return LoginResult{
		Success:     true,
		AccountID:   acc.AccountID,
		AccountName: acc.Username,
		SteamID:     acc.SteamIDValue(),
	}
}

// LoginFailed builds a failed result carrying msg.
func LoginFailed(msg string) LoginResult {
	return LoginResult{ErrorMessage: msg}
}

// StatusChange is the payload of hook.AfterAccountStatusChange.
type StatusChange struct {
	AccountID int64 `json:"account_id"`
	Status    int   `json:"status"`
}

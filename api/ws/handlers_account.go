package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/audit"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/session"
	"go.uber.org/zap"
)

// Packet types handled and sent by AccountHandlers.
const (
	TypeLogin                  = "login"
	TypeLoginResult            = "login_result"
	TypeRegister               = "register"
	TypeRegisterResult         = "register_result"
	TypeSetLastCharacter       = "set_last_character"
	TypeSetLastCharacterResult = "set_last_character_result"
	TypePing                   = "ping"
	TypePong                   = "pong"
	TypeKicked                 = "kicked"
)

// AccountHandlers implements the account packets of the game channel.
type AccountHandlers struct {
	accounts *account.Service
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *session.Manager
	audit    *audit.Service
	logger   *zap.Logger
}

// NewAccountHandlers creates AccountHandlers. auditSvc may be nil.
func NewAccountHandlers(accounts *account.Service, c cache.Cache, sec config.SecurityConfig, sm *session.Manager, auditSvc *audit.Service, logger *zap.Logger) *AccountHandlers {
	return &AccountHandlers{accounts: accounts, cache: c, sec: sec, sm: sm, audit: auditSvc, logger: logger}
}

// Register wires the handlers into r.
func (h *AccountHandlers) Register(r *Router) {
	r.OnPublic(TypeLogin, h.handleLogin)
	r.OnPublic(TypeRegister, h.handleRegister)
	r.On(TypeSetLastCharacter, h.handleSetLastCharacter)
	r.On(TypePing, h.handlePing)
}

type loginPayload struct {
	Username  string `json:"username" validate:"max=255"`
	Password  string `json:"password" validate:"required,max=128"`
	SteamID   int64  `json:"steam_id" validate:"gte=0"`
	AccountID int64  `json:"account_id" validate:"gte=0"`
}

// loginReply is a LoginResult plus the token for reconnecting with ?token=.
type loginReply struct {
	account.LoginResult
	Token string `json:"token,omitempty"`
}

func (h *AccountHandlers) handleLogin(ctx context.Context, s *session.Session, seq uint64, payload json.RawMessage) error {
	if s.Authenticated() {
		return clientErr("already logged in")
	}
	var req loginPayload
	if err := decode(payload, &req); err != nil {
		return err
	}

	start := time.Now()
	acc, result, err := h.accounts.Login(ctx, account.Credentials{
		Username:  req.Username,
		Password:  req.Password,
		SteamID:   req.SteamID,
		AccountID: req.AccountID,
		IPAddress: s.IP,
	})
	entry := audit.AuditEntry{
		TraceID: s.TraceID,
		Action:  audit.ActionLogin,
		Request: map[string]interface{}{"username": req.Username, "steam_id": req.SteamID, "account_id": req.AccountID},
		IP:      s.IP,
	}
	if acc != nil {
		entry.AccountID = audit.Account(acc.AccountID)
	}
	if err != nil {
		entry.Action, entry.Error = audit.ActionLoginFailed, err.Error()
		h.record(entry, start)
		return err
	}
	if !result.Success {
		entry.Action, entry.Error = audit.ActionLoginFailed, result.ErrorMessage
		h.record(entry, start)
		s.Reply(seq, TypeLoginResult, loginReply{LoginResult: result})
		return nil
	}

	token, err := mw.IssueToken(ctx, h.cache, h.sec, acc.AccountID)
	if err != nil {
		return err
	}
	s.Bind(acc.AccountID, acc.Username, token)
	h.sm.Register(s)
	entry.Response = result
	h.record(entry, start)
	s.Reply(seq, TypeLoginResult, loginReply{LoginResult: result, Token: token})
	return nil
}

type registerPayload struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=128"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	SteamID  int64  `json:"steam_id" validate:"gte=0"`
	Language string `json:"language" validate:"max=10"`
}

type registerReply struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Field     string `json:"field,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

func (h *AccountHandlers) handleRegister(ctx context.Context, s *session.Session, seq uint64, payload json.RawMessage) error {
	var req registerPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	acc, err := h.accounts.CreateAccount(ctx, account.NewAccount{
		Username:  req.Username,
		Password:  req.Password,
		Email:     req.Email,
		SteamID:   req.SteamID,
		Language:  req.Language,
		IPAddress: s.IP,
	})
	var conflict *account.ConflictError
	switch {
	case errors.As(err, &conflict):
		s.Reply(seq, TypeRegisterResult, registerReply{Error: conflict.Error(), Field: conflict.Field})
		return nil
	case errors.Is(err, account.ErrInvalidArgument):
		s.Reply(seq, TypeRegisterResult, registerReply{Error: err.Error()})
		return nil
	case err != nil:
		return err
	}
	s.Reply(seq, TypeRegisterResult, registerReply{Success: true, AccountID: acc.AccountID, Username: acc.Username})
	return nil
}

type lastCharacterPayload struct {
	CharacterID int64 `json:"character_id"`
}

func (h *AccountHandlers) handleSetLastCharacter(ctx context.Context, s *session.Session, seq uint64, payload json.RawMessage) error {
	var req lastCharacterPayload
	if err := decode(payload, &req); err != nil {
		return err
	}
	err := h.accounts.SetLastPlayedCharacter(ctx, s.AccountID(), req.CharacterID)
	if errors.Is(err, account.ErrAccountNotFound) {
		return clientErr("account not found")
	}
	if err != nil {
		return err
	}
	if req.CharacterID < 0 {
		req.CharacterID = 0
	}
	s.Reply(seq, TypeSetLastCharacterResult, map[string]interface{}{
		"success":      true,
		"character_id": req.CharacterID,
	})
	return nil
}

func (h *AccountHandlers) handlePing(_ context.Context, s *session.Session, seq uint64, _ json.RawMessage) error {
	s.Reply(seq, TypePong, map[string]int64{"ts": time.Now().UnixMilli()})
	return nil
}

func (h *AccountHandlers) record(entry audit.AuditEntry, start time.Time) {
	if h.audit == nil {
		return
	}
	entry.DurationMs = int(time.Since(start).Milliseconds())
	h.audit.Log(entry)
}

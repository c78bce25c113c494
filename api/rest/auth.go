package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/audit"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"go.uber.org/zap"
)

// AuthHandler handles registration and authentication REST endpoints.
type AuthHandler struct {
	accounts *account.Service
	cache    cache.Cache
	sec      config.SecurityConfig
	audit    *audit.Service
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. auditSvc may be nil.
func NewAuthHandler(accounts *account.Service, c cache.Cache, sec config.SecurityConfig, auditSvc *audit.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, cache: c, sec: sec, audit: auditSvc, logger: logger}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,max=255"`
	Password string `json:"password" binding:"required,max=128"`
	Email    string `json:"email" binding:"omitempty,email,max=255"`
	SteamID  int64  `json:"steam_id" binding:"gte=0"`
	Language string `json:"language" binding:"max=10"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, err := h.accounts.CreateAccount(c.Request.Context(), account.NewAccount{
		Username:  req.Username,
		Password:  req.Password,
		Email:     req.Email,
		SteamID:   req.SteamID,
		Language:  req.Language,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"account_id": acc.AccountID,
		"username":   acc.Username,
	})
}

type loginRequest struct {
	Username  string `json:"username" binding:"max=255"`
	Password  string `json:"password" binding:"required,max=128"`
	SteamID   int64  `json:"steam_id"`
	AccountID int64  `json:"account_id"`
}

// Login handles POST /api/auth/login.
// Accounts are matched by username, else by steam_id or account_id.
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, result, err := h.accounts.Login(c.Request.Context(), account.Credentials{
		Username:  req.Username,
		Password:  req.Password,
		SteamID:   req.SteamID,
		AccountID: req.AccountID,
		IPAddress: c.ClientIP(),
	})
	entry := audit.AuditEntry{
		TraceID: mw.GetTraceID(c),
		Action:  audit.ActionLogin,
		Request: gin.H{"username": req.Username, "steam_id": req.SteamID, "account_id": req.AccountID},
		IP:      c.ClientIP(),
	}
	if acc != nil {
		entry.AccountID = audit.Account(acc.AccountID)
	}
	if err != nil {
		entry.Action = audit.ActionLoginFailed
		entry.Error = err.Error()
		h.record(entry, start)
		writeError(c, err)
		return
	}
	if !result.Success {
		entry.Action = audit.ActionLoginFailed
		entry.Error = result.ErrorMessage
		h.record(entry, start)
		status := http.StatusUnauthorized
		switch {
		case result.ErrorMessage == account.MsgNoIdentifier:
			status = http.StatusBadRequest
		case result.Refused():
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": result.ErrorMessage, "result": result})
		return
	}

	token, err := mw.IssueToken(c.Request.Context(), h.cache, h.sec, acc.AccountID)
	if err != nil {
		h.logger.Error("issue token failed", zap.Int64("account_id", acc.AccountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	entry.Response = result
	h.record(entry, start)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account_id": acc.AccountID,
		"result":     result,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := mw.RevokeToken(c.Request.Context(), h.cache, mw.GetToken(c)); err != nil {
		h.logger.Warn("revoke token failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. Accounts that are no longer
// active get 403 and lose the presented token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	acc, err := h.accounts.GetAccountByAccountID(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	_ = mw.RevokeToken(c.Request.Context(), h.cache, mw.GetToken(c))
	if acc == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !acc.Active() {
		c.JSON(http.StatusForbidden, gin.H{"error": account.StatusMessage(acc.Status)})
		return
	}

	token, err := mw.IssueToken(c.Request.Context(), h.cache, h.sec, accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// RegisterHooks voids the tokens of accounts that leave the active status.
func (h *AuthHandler) RegisterHooks(hc *hook.HookCenter) {
	hc.Register(hook.AfterAccountStatusChange, 40, "rest.revoke_sessions", func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		change, ok := data.(account.StatusChange)
		if !ok || change.Status == model.StatusActive {
			return data, nil
		}
		if err := mw.RevokeAccount(ctx, h.cache, h.sec, change.AccountID); err != nil {
			h.logger.Warn("revoke account sessions failed", zap.Int64("account_id", change.AccountID), zap.Error(err))
			return data, err
		}
		return data, nil
	})
}

func (h *AuthHandler) record(entry audit.AuditEntry, start time.Time) {
	if h.audit == nil {
		return
	}
	entry.DurationMs = int(time.Since(start).Milliseconds())
	h.audit.Log(entry)
}

package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/audit"
	"github.com/kasuganosora/playeraccounts/inventory"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/scheduler"
	"github.com/kasuganosora/playeraccounts/session"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by middleware.AdminAuth.
type AdminHandler struct {
	accounts  *account.Service
	inventory *inventory.Service
	sm        *session.Manager
	sched     *scheduler.Scheduler
	audit     *audit.Service
	logger    *zap.Logger
}

// NewAdminHandler creates an AdminHandler. auditSvc may be nil.
func NewAdminHandler(
	accounts *account.Service,
	inv *inventory.Service,
	sm *session.Manager,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{accounts: accounts, inventory: inv, sm: sm, sched: sched, audit: auditSvc, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_accounts": h.sm.Count(),
		"accounts_ready":  h.accounts.Ready(),
		"scheduler_tasks": h.sched.ListTickers(),
		"cron_tasks":      h.sched.ListCrons(),
	})
}

// FindAccount looks an account up by exactly one of username, steam_id or id.
// GET /api/admin/accounts
func (h *AdminHandler) FindAccount(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		acc *model.Account
		err error
	)
	switch {
	case c.Query("username") != "":
		acc, err = h.accounts.GetAccountByUsername(ctx, c.Query("username"))
	case c.Query("steam_id") != "":
		steamID, perr := strconv.ParseInt(c.Query("steam_id"), 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid steam_id"})
			return
		}
		acc, err = h.accounts.GetAccountBySteamID(ctx, steamID)
	case c.Query("id") != "":
		id, perr := strconv.ParseInt(c.Query("id"), 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		acc, err = h.accounts.GetAccountByAccountID(ctx, id)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, steam_id or id required"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if acc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": acc,
		"online":  h.sm.IsOnline(acc.AccountID),
	})
}

type statusRequest struct {
	Status *int `json:"status" binding:"required,min=0,max=3"`
}

// SetStatus changes an account's status. Connected sessions of accounts that
// are no longer active are closed by the status watcher.
// POST /api/admin/accounts/:id/status
func (h *AdminHandler) SetStatus(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.accounts.UpdateAccountStatus(c.Request.Context(), accountID, *req.Status); err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("admin changed account status",
		zap.Int64("account_id", accountID), zap.Int("status", *req.Status))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": *req.Status})
}

// ResetPassword replaces the password with a random one and returns it once.
// POST /api/admin/accounts/:id/reset-password
func (h *AdminHandler) ResetPassword(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	password, err := account.GenerateRandomPassword()
	if err != nil {
		h.logger.Error("generate password failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := h.accounts.UpdatePassword(c.Request.Context(), accountID, password); err != nil {
		writeError(c, err)
		return
	}
	if h.audit != nil {
		h.audit.Log(audit.AuditEntry{
			TraceID:   mw.GetTraceID(c),
			AccountID: audit.Account(accountID),
			Action:    audit.ActionPasswordReset,
			IP:        c.ClientIP(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"password": password})
}

// GrantStarter grants any missing starter items to an existing account.
// POST /api/admin/accounts/:id/grant-starter
func (h *AdminHandler) GrantStarter(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	acc, err := h.accounts.GetAccountByAccountID(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	if acc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	n, err := h.inventory.GrantStarter(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grant failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": n})
}

// Kick forcibly disconnects an account's game session.
// POST /api/admin/accounts/:id/kick
func (h *AdminHandler) Kick(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	if !h.sm.Kick(accountID, nil) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not online"})
		return
	}
	h.logger.Info("admin kicked account", zap.Int64("account_id", accountID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns the names of all registered tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tasks": h.sched.ListTickers(),
		"crons": h.sched.ListCrons(),
	})
}

func accountParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

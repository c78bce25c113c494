package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/inventory"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"go.uber.org/zap"
)

// AccountHandler serves the authenticated account's own resources.
type AccountHandler struct {
	accounts  *account.Service
	inventory *inventory.Service
	logger    *zap.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts *account.Service, inv *inventory.Service, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, inventory: inv, logger: logger}
}

// Me handles GET /api/accounts/me.
func (h *AccountHandler) Me(c *gin.Context) {
	acc, err := h.accounts.GetAccountByAccountID(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if acc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc})
}

type lastCharacterRequest struct {
	CharacterID int64 `json:"character_id"`
}

// SetLastCharacter handles PUT /api/accounts/me/last-character.
func (h *AccountHandler) SetLastCharacter(c *gin.Context) {
	var req lastCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.accounts.SetLastPlayedCharacter(c.Request.Context(), mw.GetAccountID(c), req.CharacterID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Items handles GET /api/accounts/me/items.
func (h *AccountHandler) Items(c *gin.Context) {
	items, err := h.inventory.List(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		h.logger.Error("list items failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

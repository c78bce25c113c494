package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/account"
)

// Health handles GET /health. It answers 503 until the account service has
// been initialized.
func Health(accounts *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ready := accounts.Ready()
		status, code := "ok", http.StatusOK
		if !ready {
			status, code = "starting", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "accounts_ready": ready})
	}
}

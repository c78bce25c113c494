package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/account"
)

// writeError maps account service errors onto HTTP responses. Storage
// details are never echoed to the client.
func writeError(c *gin.Context, err error) {
	var conflict *account.ConflictError
	switch {
	case errors.As(err, &conflict):
		body := gin.H{"error": conflict.Error()}
		if conflict.Field != "" {
			body["field"] = conflict.Field
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, account.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, account.ErrNotInitialized):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account service unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

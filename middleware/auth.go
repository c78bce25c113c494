package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
)

const (
	AccountIDKey = "account_id"
	TokenKey     = "token"
)

const cacheTimeout = 2 * time.Second

// ErrSessionExpired means the token is well-formed but its session was
// revoked or timed out.
var ErrSessionExpired = errors.New("session expired")

// SessionKey is the cache key marking token as a live session.
func SessionKey(token string) string { return "session:" + token }

// IssueToken signs a token for accountID and records its session.
func IssueToken(ctx context.Context, c cache.Cache, sec config.SecurityConfig, accountID int64) (string, error) {
	token, err := GenerateToken(accountID, sec.JWTSecret, sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := c.Set(ctx, SessionKey(token), strconv.FormatInt(accountID, 10), sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

// RevokeToken drops the session of token.
func RevokeToken(ctx context.Context, c cache.Cache, token string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	return c.Del(ctx, SessionKey(token))
}

// accountCutoffKey holds the unix second up to which every token of
// accountID is void.
func accountCutoffKey(accountID int64) string {
	return "session_cutoff:" + strconv.FormatInt(accountID, 10)
}

// RevokeAccount voids every token issued to accountID so far. The marker
// lives as long as a token can, so it outlasts all of them.
func RevokeAccount(ctx context.Context, c cache.Cache, sec config.SecurityConfig, accountID int64) error {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	return c.Set(ctx, accountCutoffKey(accountID), strconv.FormatInt(time.Now().Unix(), 10), sec.JWTTTLH)
}

// ValidateToken parses token and checks that its session is still live.
func ValidateToken(ctx context.Context, c cache.Cache, sec config.SecurityConfig, token string) (*Claims, error) {
	claims, err := ParseToken(token, sec.JWTSecret)
	if err != nil {
		return nil, err
	}
	if !sessionLive(ctx, c, token, claims) {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// sessionLive treats cache errors as an expired session.
func sessionLive(ctx context.Context, c cache.Cache, token string, claims *Claims) bool {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	exists, err := c.Exists(ctx, SessionKey(token))
	if err != nil || !exists {
		return false
	}
	v, err := c.Get(ctx, accountCutoffKey(claims.AccountID))
	if cache.IsNotFound(err) {
		return true
	}
	if err != nil {
		return false
	}
	cutoff, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false
	}
	return claims.IssuedAt != nil && claims.IssuedAt.Unix() > cutoff
}

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if !sessionLive(ctx.Request.Context(), c, tokenStr, claims) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(AccountIDKey, claims.AccountID)
		ctx.Set(TokenKey, tokenStr)
		ctx.Next()
	}
}

// GetAccountID retrieves the authenticated account ID from the Gin context.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetToken returns the bearer token accepted by Auth.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}

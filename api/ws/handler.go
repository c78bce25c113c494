package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/session"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	accounts *account.Service
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *session.Manager
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	accounts *account.Service,
	c cache.Cache,
	sec config.SecurityConfig,
	sm *session.Manager,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		accounts: accounts,
		cache:    c,
		sec:      sec,
		sm:       sm,
		router:   router,
		logger:   logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws[?token=<jwt>]. Without a token the connection
// starts anonymous and must send login or register first.
func (h *Handler) ServeWS(c *gin.Context) {
	var bound *account.LoginResult
	tokenStr := c.Query("token")
	if tokenStr != "" {
		claims, err := mw.ValidateToken(c.Request.Context(), h.cache, h.sec, tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		a, err := h.accounts.GetAccountByAccountID(c.Request.Context(), claims.AccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if a == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
			return
		}
		if !a.Active() {
			c.JSON(http.StatusForbidden, gin.H{"error": account.StatusMessage(a.Status)})
			return
		}
		res := account.LoginSucceeded(a)
		bound = &res
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := session.New(conn, c.ClientIP(), h.logger)
	if bound != nil {
		sess.Bind(bound.AccountID, bound.AccountName, tokenStr)
		h.sm.Register(sess)
	}
	h.readPump(sess)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *session.Session) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("account_id", s.AccountID()),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

func (h *Handler) handleDisconnect(s *session.Session) {
	s.Close()
	h.sm.Unregister(s)
	h.logger.Info("client disconnected",
		zap.Int64("account_id", s.AccountID()),
		zap.String("ip", s.IP))
}

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/playeraccounts/account"
	apirest "github.com/kasuganosora/playeraccounts/api/rest"
	"github.com/kasuganosora/playeraccounts/api/sse"
	apiws "github.com/kasuganosora/playeraccounts/api/ws"
	"github.com/kasuganosora/playeraccounts/audit"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
	"github.com/kasuganosora/playeraccounts/inventory"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"github.com/kasuganosora/playeraccounts/scheduler"
	"github.com/kasuganosora/playeraccounts/session"
	"github.com/kasuganosora/playeraccounts/store"
	"github.com/kasuganosora/playeraccounts/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// AdminKey is the admin API key the test server accepts.
const AdminKey = "integration-admin-key"

// StarterItems are granted to every account the test server creates.
var StarterItems = []config.StarterItem{
	{ItemID: 1, Kind: 1, Qty: 3},
	{ItemID: 7, Kind: 2, Qty: 1},
}

// TestServer wraps a real HTTP server with every account subsystem wired
// together.
type TestServer struct {
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Accounts  *account.Service
	Inventory *inventory.Service
	Audit     *audit.Service
	SM        *session.Manager
	Server    *httptest.Server
	URL       string // http://127.0.0.1:<port>
	WSURL     string // ws://127.0.0.1:<port>/ws
	Sec       config.SecurityConfig

	cancel context.CancelFunc
	sched  *scheduler.Scheduler
}

// NewTestServer creates a fully wired account server for integration testing.
// It mirrors the dependency wiring in server.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	// ---- Accounts ----
	hc := hook.NewHookCenter()
	accounts := account.NewService(store.NewGormGateway(db), logger, account.WithHooks(hc))
	require.NoError(t, accounts.Initialize(ctx))

	auditSvc := audit.New(db, logger)
	auditSvc.RegisterHooks(hc)
	inv := inventory.NewService(db, logger, StarterItems)
	inv.RegisterHooks(hc)

	// ---- Sessions ----
	sm := session.NewManager(logger)
	apiws.PublishStatusChanges(hc, pubsub, logger)
	go func() { _ = apiws.WatchStatus(ctx, pubsub, sm, logger) }()

	sched := scheduler.New(logger)

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger)
	apiws.NewAccountHandlers(accounts, c, sec, sm, auditSvc, logger).Register(wsRouter)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", apirest.Health(accounts))

	authH := apirest.NewAuthHandler(accounts, c, sec, auditSvc, logger)
	authH.RegisterHooks(hc)
	accH := apirest.NewAccountHandler(accounts, inv, logger)
	adminH := apirest.NewAdminHandler(accounts, inv, sm, sched, auditSvc, logger)
	sseH := sse.NewHandler(pubsub, c, sec, logger)
	requireAuth := mw.Auth(sec, c)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", requireAuth, authH.Logout)
		authG.POST("/refresh", requireAuth, authH.Refresh)

		meG := api.Group("/accounts/me", requireAuth)
		meG.GET("", accH.Me)
		meG.PUT("/last-character", accH.SetLastCharacter)
		meG.GET("/items", accH.Items)

		adminG := api.Group("/admin", mw.AdminAuth(AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/accounts", adminH.FindAccount)
		adminG.POST("/accounts/:id/status", adminH.SetStatus)
		adminG.POST("/accounts/:id/reset-password", adminH.ResetPassword)
		adminG.POST("/accounts/:id/kick", adminH.Kick)
		adminG.POST("/announce", sseH.HandleAnnounce)
	}

	wsH := apiws.NewHandler(accounts, c, sec, sm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)
	r.GET("/sse", sseH.ServeSSE)

	server := httptest.NewServer(r)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	return &TestServer{
		DB:        db,
		Cache:     c,
		PubSub:    pubsub,
		Accounts:  accounts,
		Inventory: inv,
		Audit:     auditSvc,
		SM:        sm,
		Server:    server,
		URL:       url,
		WSURL:     wsURL,
		Sec:       sec,
		cancel:    cancel,
		sched:     sched,
	}
}

// Close shuts down the test server and its background workers.
func (ts *TestServer) Close() {
	ts.SM.CloseAllSessions()
	ts.Server.Close()
	ts.cancel()
	ts.sched.Stop()
	ts.Audit.Stop(context.Background())
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body and header set.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, header http.Header) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Bearer returns the Authorization header for token; empty tokens send none.
func Bearer(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// Admin returns the admin key header.
func Admin() http.Header {
	return http.Header{mw.AdminKeyHeader: []string{AdminKey}}
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, Bearer(token))
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPut, path, body, Bearer(token))
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, Bearer(token))
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Account helpers ---

// Register creates an account over REST and returns its id.
func (ts *TestServer) Register(t *testing.T, username, password string) int64 {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/register", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		AccountID int64 `json:"account_id"`
	}
	ReadJSON(t, resp, &result)
	return result.AccountID
}

// Login logs in by username and returns the token and account ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, accountID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	ReadJSON(t, resp, &result)
	return result.Token, result.AccountID
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds readCh so timeouts never touch the conn's
// read deadline.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	pkt session.Packet
	err error
}

// ConnectWS dials the WS endpoint, resuming with token when it is non-empty.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	url := ts.WSURL
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 64)}
	go wc.readLoop()
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		if err != nil {
			wc.readCh <- readResult{err: err}
			return
		}
		var pkt session.Packet
		err = json.Unmarshal(data, &pkt)
		wc.readCh <- readResult{pkt: pkt, err: err}
	}
}

// Send writes a packet with the next sequence number.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	raw, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(session.Packet{Seq: seq, Type: msgType, Payload: raw})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// Recv reads one packet, failing the test after timeout.
func (wc *WSClient) Recv(timeout time.Duration) session.Packet {
	wc.t.Helper()
	select {
	case res := <-wc.readCh:
		require.NoError(wc.t, res.err, "WS recv failed")
		return res.pkt
	case <-time.After(timeout):
		wc.t.Fatalf("WS recv timed out after %s", timeout)
		return session.Packet{}
	}
}

// RecvType reads packets until one with the given type arrives and decodes
// its payload into v.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration, v interface{}) {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
			return
		}
		pkt := wc.Recv(remaining)
		if pkt.Type != msgType {
			continue
		}
		if v != nil {
			require.NoError(wc.t, json.Unmarshal(pkt.Payload, v))
		}
		return
	}
}

// Closed reports whether the server closed the connection within timeout.
func (wc *WSClient) Closed(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case res := <-wc.readCh:
			if res.err != nil {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

var testCounter uint64

// UniqueID returns a short unique string suitable for usernames.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}

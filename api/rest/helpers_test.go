package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/api/rest"
	"github.com/kasuganosora/playeraccounts/audit"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
	"github.com/kasuganosora/playeraccounts/inventory"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"github.com/kasuganosora/playeraccounts/scheduler"
	"github.com/kasuganosora/playeraccounts/session"
	"github.com/kasuganosora/playeraccounts/store"
	"github.com/kasuganosora/playeraccounts/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminKey = "test-key"

var testStarter = []config.StarterItem{
	{ItemID: 1, Kind: model.ItemKindItem, Qty: 3},
	{ItemID: 2, Kind: model.ItemKindWeapon, Qty: 1},
}

type testEnv struct {
	db       *gorm.DB
	accounts *account.Service
	inv      *inventory.Service
	audit    *audit.Service
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *session.Manager
	sched    *scheduler.Scheduler
	router   *gin.Engine
}

// newEnv builds the full REST surface over an in-memory database.
func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	hc := hook.NewHookCenter()
	accounts := account.NewService(store.NewGormGateway(db), logger, account.WithHooks(hc))
	require.NoError(t, accounts.Initialize(context.Background()))

	env := &testEnv{
		db:       db,
		accounts: accounts,
		inv:      inventory.NewService(db, logger, testStarter),
		audit:    audit.New(db, logger),
		cache:    c,
		sec:      config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour},
		sm:       session.NewManager(logger),
		sched:    scheduler.New(logger),
	}
	t.Cleanup(func() {
		env.audit.Stop(context.Background())
		env.sched.Stop()
	})
	rest.NewAuthHandler(accounts, c, env.sec, nil, logger).RegisterHooks(hc)
	env.router = env.routes(accounts)
	return env
}

func (e *testEnv) routes(accounts *account.Service) *gin.Engine {
	logger := zap.NewNop()
	r := gin.New()
	r.Use(mw.TraceID())
	r.GET("/health", rest.Health(accounts))

	api := r.Group("/api")
	authH := rest.NewAuthHandler(accounts, e.cache, e.sec, e.audit, logger)
	api.POST("/auth/register", authH.Register)
	api.POST("/auth/login", authH.Login)

	authed := api.Group("", mw.Auth(e.sec, e.cache))
	authed.POST("/auth/logout", authH.Logout)
	authed.POST("/auth/refresh", authH.Refresh)
	accH := rest.NewAccountHandler(accounts, e.inv, logger)
	authed.GET("/accounts/me", accH.Me)
	authed.PUT("/accounts/me/last-character", accH.SetLastCharacter)
	authed.GET("/accounts/me/items", accH.Items)

	adminH := rest.NewAdminHandler(accounts, e.inv, e.sm, e.sched, e.audit, logger)
	admin := api.Group("/admin", mw.AdminAuth(testAdminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.GET("/accounts", adminH.FindAccount)
	admin.POST("/accounts/:id/status", adminH.SetStatus)
	admin.POST("/accounts/:id/reset-password", adminH.ResetPassword)
	admin.POST("/accounts/:id/grant-starter", adminH.GrantStarter)
	admin.POST("/accounts/:id/kick", adminH.Kick)
	return r
}

// register creates an account through the service and returns its id.
func (e *testEnv) register(t *testing.T, username, password string, steamID int64) int64 {
	t.Helper()
	acc, err := e.accounts.CreateAccount(context.Background(), account.NewAccount{
		Username:  username,
		Password:  password,
		SteamID:   steamID,
		IPAddress: "127.0.0.1",
		Language:  "en",
	})
	require.NoError(t, err)
	require.NotZero(t, acc.AccountID)
	return acc.AccountID
}

// login performs a username login and returns the bearer token.
func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := doJSON(e.router, http.MethodPost, "/api/auth/login",
		map[string]interface{}{"username": username, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func adminKey() []string {
	return []string{mw.AdminKeyHeader, testAdminKey}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

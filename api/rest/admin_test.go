package rest_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/audit"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAdminAuth_NoKey(t *testing.T) {
	env := newEnv(t)
	w := doJSON(env.router, http.MethodGet, "/api/admin/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	env := newEnv(t)
	w := doJSON(env.router, http.MethodGet, "/api/admin/metrics", nil, "X-Admin-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetrics_Structure(t *testing.T) {
	env := newEnv(t)
	env.sched.AddTicker("noop", time.Hour, func() {})
	require.NoError(t, env.sched.AddCron("nightly", "@daily", func() {}))

	w := doJSON(env.router, http.MethodGet, "/api/admin/metrics", nil, adminKey()...)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(0), resp["online_accounts"])
	assert.Equal(t, true, resp["accounts_ready"])
	assert.Equal(t, []interface{}{"noop"}, resp["scheduler_tasks"])
	assert.Equal(t, []interface{}{"nightly"}, resp["cron_tasks"])
}

func TestListSchedulerTasks(t *testing.T) {
	env := newEnv(t)
	env.sched.AddTicker("sweep", time.Hour, func() {})

	w := doJSON(env.router, http.MethodGet, "/api/admin/scheduler", nil, adminKey()...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"sweep"}, decode(t, w)["tasks"])
}

func TestFindAccount(t *testing.T) {
	env := newEnv(t)
	id := env.register(t, "alice", "pw", 555)

	for _, q := range []string{"username=alice", "steam_id=555", fmt.Sprintf("id=%d", id)} {
		w := doJSON(env.router, http.MethodGet, "/api/admin/accounts?"+q, nil, adminKey()...)
		require.Equal(t, http.StatusOK, w.Code, q)
		resp := decode(t, w)
		acc := resp["account"].(map[string]interface{})
		assert.Equal(t, float64(id), acc["account_id"], q)
		assert.Equal(t, false, resp["online"])
	}
}

func TestFindAccount_Errors(t *testing.T) {
	env := newEnv(t)
	cases := map[string]int{
		"":                http.StatusBadRequest,
		"steam_id=abc":    http.StatusBadRequest,
		"id=abc":          http.StatusBadRequest,
		"username=nobody": http.StatusNotFound,
		"steam_id=0":      http.StatusNotFound,
		"id=-1":           http.StatusNotFound,
	}
	for q, code := range cases {
		w := doJSON(env.router, http.MethodGet, "/api/admin/accounts?"+q, nil, adminKey()...)
		assert.Equal(t, code, w.Code, q)
	}
}

func TestSetStatus(t *testing.T) {
	env := newEnv(t)
	id := env.register(t, "target", "pw", 0)

	w := doJSON(env.router, http.MethodPost, fmt.Sprintf("/api/admin/accounts/%d/status", id),
		map[string]interface{}{"status": model.StatusSuspended}, adminKey()...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	acc, err := env.accounts.GetAccountByAccountID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuspended, acc.Status)

	// Zero is a valid status and must not be mistaken for a missing field.
	w = doJSON(env.router, http.MethodPost, fmt.Sprintf("/api/admin/accounts/%d/status", id),
		map[string]interface{}{"status": 0}, adminKey()...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acc, err = env.accounts.GetAccountByAccountID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, acc.Active())
}

func TestSetStatus_Invalid(t *testing.T) {
	env := newEnv(t)
	id := env.register(t, "target", "pw", 0)
	path := fmt.Sprintf("/api/admin/accounts/%d/status", id)

	for _, body := range []map[string]interface{}{{}, {"status": 4}, {"status": -1}} {
		w := doJSON(env.router, http.MethodPost, path, body, adminKey()...)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}

	w := doJSON(env.router, http.MethodPost, "/api/admin/accounts/abc/status",
		map[string]interface{}{"status": 1}, adminKey()...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetStatus_UnknownAccount(t *testing.T) {
	env := newEnv(t)
	w := doJSON(env.router, http.MethodPost, "/api/admin/accounts/9999/status",
		map[string]interface{}{"status": 2}, adminKey()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResetPassword(t *testing.T) {
	env := newEnv(t)
	id := env.register(t, "forgetful", "old-password", 0)

	w := doJSON(env.router, http.MethodPost, fmt.Sprintf("/api/admin/accounts/%d/reset-password", id), nil, adminKey()...)
	require.Equal(t, http.StatusOK, w.Code)
	password, _ := decode(t, w)["password"].(string)
	require.NotEmpty(t, password)

	ctx := context.Background()
	ok, err := env.accounts.VerifyPassword(ctx, "forgetful", password)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.accounts.VerifyPassword(ctx, "forgetful", "old-password")
	require.NoError(t, err)
	assert.False(t, ok)

	env.audit.Stop(ctx)
	var entry model.AuditLog
	require.NoError(t, env.db.Where("action = ?", audit.ActionPasswordReset).First(&entry).Error)
	require.NotNil(t, entry.AccountID)
	assert.Equal(t, id, *entry.AccountID)
}

func TestResetPassword_UnknownAccount(t *testing.T) {
	env := newEnv(t)
	w := doJSON(env.router, http.MethodPost, "/api/admin/accounts/9999/reset-password", nil, adminKey()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGrantStarter(t *testing.T) {
	env := newEnv(t)
	id := env.register(t, "newbie", "pw", 0)
	path := fmt.Sprintf("/api/admin/accounts/%d/grant-starter", id)

	w := doJSON(env.router, http.MethodPost, path, nil, adminKey()...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(len(testStarter)), decode(t, w)["granted"])

	w = doJSON(env.router, http.MethodPost, path, nil, adminKey()...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["granted"])
}

func TestGrantStarter_UnknownAccount(t *testing.T) {
	env := newEnv(t)
	w := doJSON(env.router, http.MethodPost, "/api/admin/accounts/9999/grant-starter", nil, adminKey()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKick_NotOnline(t *testing.T) {
	env := newEnv(t)
	w := doJSON(env.router, http.MethodPost, "/api/admin/accounts/1/kick", nil, adminKey()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteError_NotInitializedOnAdmin(t *testing.T) {
	env := newEnv(t)
	cold := account.NewService(store.NewGormGateway(env.db), zap.NewNop())
	r := env.routes(cold)
	w := doJSON(r, http.MethodGet, "/api/admin/accounts?username=x", nil, adminKey()...)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

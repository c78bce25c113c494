package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/config"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) (*httptest.Server, *Handler, cache.Cache, config.SecurityConfig) {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "sse-secret", JWTTTLH: time.Hour}
	h := NewHandler(ps, c, sec, zap.NewNop())
	r := gin.New()
	r.GET("/sse", h.ServeSSE)
	r.POST("/announce", h.HandleAnnounce)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h, c, sec
}

// readEvent returns the next "event: x" name and its data line.
func readEvent(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return "", ""
}

func TestServeSSE_MissingToken(t *testing.T) {
	srv, _, _, _ := setup(t)
	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeSSE_RevokedToken(t *testing.T) {
	srv, _, c, sec := setup(t)
	token, err := mw.IssueToken(context.Background(), c, sec, 1)
	require.NoError(t, err)
	require.NoError(t, mw.RevokeToken(context.Background(), c, token))

	resp, err := http.Get(srv.URL + "/sse?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeSSE_StreamsOwnStatusAndAnnouncements(t *testing.T) {
	srv, h, c, sec := setup(t)
	token, err := mw.IssueToken(context.Background(), c, sec, 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse?token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	event, data := readEvent(t, sc)
	assert.Equal(t, "connected", event)
	assert.Equal(t, `{"account_id":7}`, data)

	// Subscribed before "connected" was written, so nothing below is lost.
	require.NoError(t, h.pubsub.Publish(ctx, cache.ChannelAccountStatus, `{"account_id":8,"status":2}`))
	require.NoError(t, h.pubsub.Publish(ctx, cache.ChannelAccountStatus, `{"account_id":7,"status":1}`))
	require.NoError(t, h.Announce(ctx, "maintenance at 10"))

	event, data = readEvent(t, sc)
	assert.Equal(t, "status", event)
	assert.JSONEq(t, `{"account_id":7,"status":1}`, data)

	event, data = readEvent(t, sc)
	assert.Equal(t, "announce", event)
	assert.Equal(t, `"maintenance at 10"`, data)
}

func TestHandleAnnounce(t *testing.T) {
	srv, _, _, _ := setup(t)
	resp, err := http.Post(srv.URL+"/announce", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/announce", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

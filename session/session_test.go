package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pair returns a server-side Session and the client end of its connection.
func pair(t *testing.T) (*Session, *websocket.Conn) {
	t.Helper()
	ready := make(chan *Session, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ready <- New(conn, "127.0.0.1", zap.NewNop())
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case s := <-ready:
		t.Cleanup(s.Close)
		return s, client
	case <-time.After(2 * time.Second):
		t.Fatal("server session not created")
		return nil, nil
	}
}

func readPacket(t *testing.T, c *websocket.Conn) Packet {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := c.ReadMessage()
	require.NoError(t, err)
	var pkt Packet
	require.NoError(t, json.Unmarshal(raw, &pkt))
	return pkt
}

func TestSession_Reply(t *testing.T) {
	s, client := pair(t)
	s.Reply(7, "pong", map[string]int{"n": 1})

	pkt := readPacket(t, client)
	assert.Equal(t, uint64(7), pkt.Seq)
	assert.Equal(t, "pong", pkt.Type)
	assert.JSONEq(t, `{"n":1}`, string(pkt.Payload))
}

func TestSession_Bind(t *testing.T) {
	s, _ := pair(t)
	assert.False(t, s.Authenticated())

	s.Bind(42, "alice", "tok")
	assert.True(t, s.Authenticated())
	assert.Equal(t, int64(42), s.AccountID())
	assert.Equal(t, "alice", s.AccountName())
	assert.Equal(t, "tok", s.Token())
}

func TestSession_CloseFlushesQueued(t *testing.T) {
	s, client := pair(t)
	s.Send(&Packet{Type: "error", Payload: json.RawMessage(`{"message":"banned"}`)})
	s.Close()
	s.Close() // idempotent

	pkt := readPacket(t, client)
	assert.Equal(t, "error", pkt.Type)

	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.True(t, s.IsClosed())
}

func TestSession_SendAfterCloseIsDropped(t *testing.T) {
	s, _ := pair(t)
	s.Close()
	s.Send(&Packet{Type: "late"}) // must not panic or block
}

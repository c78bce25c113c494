package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

// newSession creates a connectionless Session; replies stay in SendChan.
func newSession(accountID int64) *session.Session {
	s := &session.Session{
		IP:       "127.0.0.1",
		SendChan: make(chan []byte, 256),
		Done:     make(chan struct{}),
	}
	if accountID != 0 {
		s.Bind(accountID, "tester", "")
	}
	return s
}

func makePacket(t *testing.T, seq uint64, msgType string, payload interface{}) []byte {
	t.Helper()
	var p json.RawMessage
	if payload != nil {
		p, _ = json.Marshal(payload)
	}
	b, err := json.Marshal(session.Packet{Seq: seq, Type: msgType, Payload: p})
	require.NoError(t, err)
	return b
}

// nextPacket pops the next queued reply.
func nextPacket(t *testing.T, s *session.Session) session.Packet {
	t.Helper()
	select {
	case raw := <-s.SendChan:
		var pkt session.Packet
		require.NoError(t, json.Unmarshal(raw, &pkt))
		return pkt
	case <-time.After(time.Second):
		t.Fatal("no packet sent")
		return session.Packet{}
	}
}

func noPacket(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case raw := <-s.SendChan:
		t.Fatalf("unexpected packet %s", raw)
	default:
	}
}

func errorOf(t *testing.T, pkt session.Packet) errorPayload {
	t.Helper()
	require.Equal(t, TypeError, pkt.Type)
	var e errorPayload
	require.NoError(t, json.Unmarshal(pkt.Payload, &e))
	return e
}

func TestRouter_On_Dispatch_Basic(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("ping", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		called = true
		return nil
	})

	r.Dispatch(newSession(1), makePacket(t, 1, "ping", nil))
	assert.True(t, called)
}

func TestRouter_Dispatch_MalformedJSON(t *testing.T) {
	r := NewRouter(nop())
	s := newSession(1)
	r.Dispatch(s, []byte("not json"))
	noPacket(t, s)
}

func TestRouter_Dispatch_UnknownType(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("known", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		called = true
		return nil
	})
	s := newSession(1)
	r.Dispatch(s, makePacket(t, 3, "unknown", nil))
	assert.False(t, called)

	pkt := nextPacket(t, s)
	assert.Equal(t, uint64(3), pkt.Seq)
	assert.Equal(t, "unknown", errorOf(t, pkt).Type)
}

func TestRouter_Dispatch_RequiresLogin(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("private", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		called = true
		return nil
	})
	s := newSession(0)
	r.Dispatch(s, makePacket(t, 1, "private", nil))
	assert.False(t, called)
	assert.Equal(t, "not logged in", errorOf(t, nextPacket(t, s)).Error)
}

func TestRouter_Dispatch_PublicAllowsAnonymous(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.OnPublic("open", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		called = true
		return nil
	})
	r.Dispatch(newSession(0), makePacket(t, 1, "open", nil))
	assert.True(t, called)
}

func TestRouter_Dispatch_AntiReplay_RejectsOldSeq(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		callCount++
		return nil
	})
	s := newSession(1)

	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	assert.Equal(t, 1, callCount)

	// Same seq=5 → rejected (replay)
	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	assert.Equal(t, 1, callCount)

	// Lower seq=3 → rejected
	r.Dispatch(s, makePacket(t, 3, "msg", nil))
	assert.Equal(t, 1, callCount)
}

func TestRouter_Dispatch_AntiReplay_AcceptsNewSeq(t *testing.T) {
	r := NewRouter(nop())
	var seqs []uint64
	r.On("msg", func(_ context.Context, _ *session.Session, seq uint64, _ json.RawMessage) error {
		seqs = append(seqs, seq)
		return nil
	})
	s := newSession(1)

	r.Dispatch(s, makePacket(t, 10, "msg", nil))
	r.Dispatch(s, makePacket(t, 11, "msg", nil))
	r.Dispatch(s, makePacket(t, 100, "msg", nil))
	assert.Equal(t, []uint64{10, 11, 100}, seqs)
}

func TestRouter_Dispatch_SeqZero_SkipsAntiReplay(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		callCount++
		return nil
	})
	s := newSession(1)
	s.LastSeq = 100

	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	assert.Equal(t, 2, callCount)
}

func TestRouter_Dispatch_PayloadPassed(t *testing.T) {
	r := NewRouter(nop())
	var got map[string]interface{}
	r.On("data", func(_ context.Context, _ *session.Session, _ uint64, raw json.RawMessage) error {
		return json.Unmarshal(raw, &got)
	})
	r.Dispatch(newSession(1), makePacket(t, 1, "data", map[string]interface{}{"key": "value"}))
	assert.Equal(t, "value", got["key"])
}

func TestRouter_Dispatch_HandlerError(t *testing.T) {
	r := NewRouter(nop())
	r.On("err", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		return assert.AnError
	})
	s := newSession(1)
	r.Dispatch(s, makePacket(t, 1, "err", nil))
	assert.Equal(t, "internal error", errorOf(t, nextPacket(t, s)).Error)
}

func TestRouter_Dispatch_ClientError(t *testing.T) {
	r := NewRouter(nop())
	r.On("bad", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		return clientErr("nope")
	})
	s := newSession(1)
	r.Dispatch(s, makePacket(t, 1, "bad", nil))
	assert.Equal(t, "nope", errorOf(t, nextPacket(t, s)).Error)
}

func TestRouter_TraceID(t *testing.T) {
	r := NewRouter(nop())
	var traceID string
	r.On("trace", func(ctx context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		traceID = mw.TraceIDFromContext(ctx)
		return nil
	})
	s := newSession(1)
	r.Dispatch(s, makePacket(t, 1, "trace", nil))
	assert.NotEmpty(t, traceID)
	assert.Equal(t, s.TraceID, traceID)
}

func TestRouter_ReplaceHandler(t *testing.T) {
	r := NewRouter(nop())
	var calls []string
	r.On("msg", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		calls = append(calls, "first")
		return nil
	})
	r.On("msg", func(_ context.Context, _ *session.Session, _ uint64, _ json.RawMessage) error {
		calls = append(calls, "second")
		return nil
	})
	r.Dispatch(newSession(1), makePacket(t, 1, "msg", nil))
	assert.Equal(t, []string{"second"}, calls)
}

func TestDecode_Validation(t *testing.T) {
	var req registerPayload
	err := decode(json.RawMessage(`{"username":"","password":"x","email":"bad"}`), &req)
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Msg, "username is required")
	assert.Contains(t, ce.Msg, "email must be a valid email")

	err = decode(json.RawMessage(`{"username":`), &req)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "malformed payload", ce.Msg)

	assert.NoError(t, decode(nil, &lastCharacterPayload{}))
}

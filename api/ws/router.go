package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	mw "github.com/kasuganosora/playeraccounts/middleware"
	"github.com/kasuganosora/playeraccounts/session"
	"go.uber.org/zap"
)

// Reply packet types.
const (
	TypeError = "error"
)

// HandlerFunc processes a decoded WS message payload. seq is echoed on
// replies so the client can match them to requests.
type HandlerFunc func(ctx context.Context, s *session.Session, seq uint64, payload json.RawMessage) error

type route struct {
	fn     HandlerFunc
	public bool
}

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]route
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]route),
		logger:   logger,
	}
}

// On registers a HandlerFunc that requires a logged-in session.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = route{fn: fn}
}

// OnPublic registers a HandlerFunc that anonymous sessions may call.
func (r *Router) OnPublic(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = route{fn: fn, public: true}
}

// ClientError is a handler failure whose message is safe to send back.
type ClientError struct {
	Msg string
}

func (e *ClientError) Error() string { return e.Msg }

func clientErr(msg string) error { return &ClientError{Msg: msg} }

type errorPayload struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Dispatch decodes raw bytes, validates seq, and invokes the appropriate handler.
func (r *Router) Dispatch(s *session.Session, raw []byte) {
	var pkt session.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet",
			zap.Int64("account_id", s.AccountID()),
			zap.Error(err))
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.Int64("account_id", s.AccountID()),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	s.TraceID = uuid.NewString()
	ctx := mw.WithTraceID(context.Background(), s.TraceID)

	rt, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.Int64("account_id", s.AccountID()))
		s.Reply(pkt.Seq, TypeError, errorPayload{Type: pkt.Type, Error: "unknown message type"})
		return
	}
	if !rt.public && !s.Authenticated() {
		s.Reply(pkt.Seq, TypeError, errorPayload{Type: pkt.Type, Error: "not logged in"})
		return
	}

	if err := rt.fn(ctx, s, pkt.Seq, pkt.Payload); err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			s.Reply(pkt.Seq, TypeError, errorPayload{Type: pkt.Type, Error: ce.Msg})
			return
		}
		r.logger.Error("handler error",
			zap.String("type", pkt.Type),
			zap.Int64("account_id", s.AccountID()),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
		s.Reply(pkt.Seq, TypeError, errorPayload{Type: pkt.Type, Error: "internal error"})
	}
}

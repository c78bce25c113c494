// Package session tracks the WebSocket connections of game clients and the
// account each one has logged in as.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one client WebSocket connection. It starts anonymous and is
// bound to an account by a successful login.
type Session struct {
	Conn     *websocket.Conn
	IP       string
	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	mu          sync.Mutex
	accountID   int64
	accountName string
	token       string
	closeOnce   sync.Once
	logger      *zap.Logger
}

// New creates a Session and starts its write goroutine.
func New(conn *websocket.Conn, ip string, logger *zap.Logger) *Session {
	s := &Session{
		Conn:     conn,
		IP:       ip,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		logger:   logger,
	}
	go s.writePump()
	return s
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.Int64("account_id", s.AccountID()),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			s.flush()
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes packets queued before Close so a final error reaches the client.
func (s *Session) flush() {
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *Session) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet",
				zap.Int64("account_id", s.AccountID()),
				zap.String("type", pkt.Type))
		}
	}
}

// Reply sends a packet of type typ with v encoded as payload.
func (s *Session) Reply(seq uint64, typ string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode reply failed", zap.String("type", typ), zap.Error(err))
		return
	}
	s.Send(&Packet{Seq: seq, Type: typ, Payload: payload})
}

// Close signals the writePump to shut down.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline resets the WebSocket read deadline.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}

// Bind attaches the session to an account. token is the JWT issued for it,
// empty when the session authenticated with an existing token.
func (s *Session) Bind(accountID int64, accountName, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountID = accountID
	s.accountName = accountName
	s.token = token
}

// AccountID returns the bound account, 0 while anonymous.
func (s *Session) AccountID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// AccountName returns the bound account's username.
func (s *Session) AccountName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountName
}

// Token returns the session token issued at login.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Authenticated reports whether the session is bound to an account.
func (s *Session) Authenticated() bool { return s.AccountID() != 0 }

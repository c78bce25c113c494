// Package audit writes account audit records asynchronously in batches.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audited actions.
const (
	ActionAccountCreate = "account_create"
	ActionLogin         = "login"
	ActionLoginFailed   = "login_failed"
	ActionStatusChange  = "status_change"
	ActionPasswordReset = "password_reset"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// AuditEntry holds one audit event to be logged.
type AuditEntry struct {
	TraceID    string
	AccountID  *int64
	Action     string
	Request    interface{}
	Response   interface{}
	Error      string
	IP         string
	DurationMs int
}

// Account returns a pointer suitable for AuditEntry.AccountID; zero ids are
// recorded as NULL.
func Account(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write. Entries are dropped with a
// warning when the queue is full.
func (svc *Service) Log(entry AuditEntry) {
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		AccountID:  entry.AccountID,
		Action:     entry.Action,
		Request:    marshal(entry.Request),
		Response:   marshal(entry.Response),
		Error:      entry.Error,
		IP:         entry.IP,
		DurationMs: entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// marshal never returns an empty value; unencodable payloads become null.
func marshal(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

// RegisterHooks records account creation and status changes published on hc.
func (svc *Service) RegisterHooks(hc *hook.HookCenter) {
	hc.Register(hook.AfterAccountCreate, 100, "audit.create", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		if acc, ok := data.(*model.Account); ok {
			svc.Log(AuditEntry{
				AccountID: Account(acc.AccountID),
				Action:    ActionAccountCreate,
				Request:   map[string]string{"username": acc.Username},
				IP:        acc.LastLoginIP,
			})
		}
		return data, nil
	})
	hc.Register(hook.AfterAccountStatusChange, 100, "audit.status", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		svc.Log(AuditEntry{Action: ActionStatusChange, Request: data, AccountID: statusAccount(data)})
		return data, nil
	})
}

// statusAccount pulls account_id out of a status-change payload without
// importing the account package.
func statusAccount(data interface{}) *int64 {
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var v struct {
		AccountID int64 `json:"account_id"`
	}
	if json.Unmarshal(b, &v) != nil {
		return nil
	}
	return Account(v.AccountID)
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

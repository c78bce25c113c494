package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/playeraccounts/account"
	"github.com/kasuganosora/playeraccounts/cache"
	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"github.com/kasuganosora/playeraccounts/session"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// PublishStatusChanges forwards every account status change onto
// cache.ChannelAccountStatus so all nodes see it.
func PublishStatusChanges(hc *hook.HookCenter, ps cache.PubSub, logger *zap.Logger) {
	hc.Register(hook.AfterAccountStatusChange, 50, "ws.status_publish", func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		b, err := json.Marshal(data)
		if err != nil {
			return data, err
		}
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := ps.Publish(ctx, cache.ChannelAccountStatus, string(b)); err != nil {
			logger.Warn("publish status change failed", zap.Error(err))
			return data, err
		}
		return data, nil
	})
}

type kickedPayload struct {
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

// WatchStatus closes local sessions of accounts whose status changed to
// anything but active. It blocks until ctx is cancelled or the subscription
// ends.
func WatchStatus(ctx context.Context, ps cache.PubSub, sm *session.Manager, logger *zap.Logger) error {
	msgs, cancel, err := ps.Subscribe(ctx, cache.ChannelAccountStatus)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var change account.StatusChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				logger.Warn("malformed status change", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if change.Status == model.StatusActive {
				continue
			}
			payload, _ := json.Marshal(kickedPayload{Status: change.Status, Reason: account.StatusMessage(change.Status)})
			if sm.Kick(change.AccountID, &session.Packet{Type: TypeKicked, Payload: payload}) {
				logger.Info("session closed after status change",
					zap.Int64("account_id", change.AccountID),
					zap.Int("status", change.Status))
			}
		}
	}
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
)

// Notifier 通知通道，只保证尽力送达
type Notifier interface {
	Notify(ctx context.Context, msg *pubsub.NotifyMessage) error
}

const notifyTimeout = 3 * time.Second

// notifier 包装 Notifier：失败只记录日志和指标，不影响状态变更
type notifier struct {
	target  Notifier
	metrics *metrics.Metrics
	log     *zap.Logger
}

func newNotifier(target Notifier, m *metrics.Metrics, log *zap.Logger) notifier {
	return notifier{target: target, metrics: m, log: log}
}

func (n notifier) send(ctx context.Context, msg *pubsub.NotifyMessage) {
	if n.target == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := n.target.Notify(ctx, msg); err != nil {
		n.metrics.NotifyFailed()
		n.log.Warn("notify failed",
			zap.String("event", msg.Event),
			zap.String("subject_kind", msg.SubjectKind),
			zap.Int64("subject_id", msg.SubjectID),
			zap.Error(err))
	}
}

// entitlementMessage 授权相关通知。服务器的接收人是授予者。
func entitlementMessage(event string, e *model.Entitlement, recipient *int64) *pubsub.NotifyMessage {
	msg := &pubsub.NotifyMessage{
		Event:       event,
		SubjectKind: string(e.Kind),
		SubjectID:   e.SubjectID,
	}
	if e.Kind == model.SubjectUser {
		msg.UserID = e.SubjectID
	} else if recipient != nil {
		msg.UserID = *recipient
	}
	if e.ExpireAt != nil {
		msg.ExpireAt = e.ExpireAt.Format(time.RFC3339)
	}
	return msg
}

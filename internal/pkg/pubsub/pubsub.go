package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const DefaultChannel = "premium_notify"

// 通知事件
const (
	EventExpired             = "expired"
	EventGranted             = "granted"
	EventRevoked             = "revoked"
	EventTransferred         = "transferred"
	EventProofSubmitted      = "proof_submitted"
	EventTransactionVerified = "transaction_verified"
	EventTransactionDenied   = "transaction_denied"
)

// 事件对应的默认消息
var EventMessages = map[string]string{
	EventExpired:             "高级会员已到期",
	EventGranted:             "已获得高级会员",
	EventRevoked:             "高级会员已被撤销",
	EventTransferred:         "高级会员已转移",
	EventProofSubmitted:      "有新的付款凭证待审核",
	EventTransactionVerified: "付款已确认，高级会员已开通",
	EventTransactionDenied:   "付款未通过审核",
}

// NotifyMessage 发往用户或服务器的通知。
// UserID 是实际接收人：用户主体即本人，服务器主体为授予者或购买者。
type NotifyMessage struct {
	Type        string `json:"type"`
	Event       string `json:"event"`
	SubjectKind string `json:"subject_kind"`
	SubjectID   int64  `json:"subject_id"`
	UserID      int64  `json:"user_id,omitempty"`
	TxnID       string `json:"txn_id,omitempty"`
	ExpireAt    string `json:"expire_at,omitempty"`
	Message     string `json:"message,omitempty"`
}

type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Notify 发布通知，只保证尽力送达
func (p *Publisher) Notify(ctx context.Context, msg *NotifyMessage) error {
	msg.Type = "premium_notify"
	if msg.Message == "" {
		msg.Message = EventMessages[msg.Event]
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notify message: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

type Subscriber struct {
	client  *redis.Client
	channel string
}

func NewSubscriber(client *redis.Client, channel string) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{client: client, channel: channel}
}

// Subscribe 阻塞消费通知，直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*NotifyMessage)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// 确认订阅已建立，避免错过紧随其后的发布
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var m NotifyMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				continue
			}
			handler(&m)
		}
	}
}

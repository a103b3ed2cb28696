package ws

import (
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
)

// Deliver 推送会员通知。没有接收人的通知（如待审核的付款凭证）发给全部管理员。
func (h *Hub) Deliver(msg *pubsub.NotifyMessage, adminIDs []int64) error {
	wsMsg := &Message{Type: msg.Type, Data: msg}
	if msg.UserID == 0 {
		return h.SendToUsers(adminIDs, wsMsg)
	}
	return h.SendToUser(msg.UserID, wsMsg)
}

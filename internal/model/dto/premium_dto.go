package dto

import (
	"time"

	"github.com/qs3c/premium_server/internal/model"
)

// GrantRequest 管理员授予高级会员，Duration 形如 30d / 12h / lifetime
type GrantRequest struct {
	Duration string `json:"duration" binding:"required"`
}

type TransferRequest struct {
	TargetGuildID int64 `json:"target_guild_id" binding:"required"`
}

type CreateTransactionRequest struct {
	GuildID int64 `json:"guild_id" binding:"required"`
	PlanID  int64 `json:"plan_id" binding:"required"`
}

type SubmitProofRequest struct {
	ProofURL string `json:"proof_url" binding:"required"`
}

// EntitlementInfo 授权状态
type EntitlementInfo struct {
	Kind      string `json:"kind"`
	SubjectID int64  `json:"subject_id"`
	Active    bool   `json:"active"`
	Lifetime  bool   `json:"lifetime"`
	ExpireAt  string `json:"expire_at,omitempty"`
	GrantedBy *int64 `json:"granted_by,omitempty"`
	GrantedAt string `json:"granted_at,omitempty"`
}

func NewEntitlementInfo(e *model.Entitlement) *EntitlementInfo {
	if e == nil {
		return nil
	}
	info := &EntitlementInfo{
		Kind:      string(e.Kind),
		SubjectID: e.SubjectID,
		Active:    e.Active,
		Lifetime:  e.IsLifetime(),
		GrantedBy: e.GrantedBy,
	}
	if e.ExpireAt != nil {
		info.ExpireAt = e.ExpireAt.Format(time.RFC3339)
	}
	if e.GrantedAt != nil {
		info.GrantedAt = e.GrantedAt.Format(time.RFC3339)
	}
	return info
}

// GuildBackup 服务器会员记录的导出文件
type GuildBackup struct {
	GuildID        int64   `json:"guild_id"`
	IsPremium      bool    `json:"is_premium"`
	PremiumEndTime *string `json:"premium_end_time"`
	MadePremiumBy  *int64  `json:"made_premium_by"`
	ExportedAt     string  `json:"exported_at"`
}

func NewGuildBackup(e *model.Entitlement, now time.Time) *GuildBackup {
	b := &GuildBackup{
		GuildID:       e.SubjectID,
		IsPremium:     e.Active,
		MadePremiumBy: e.GrantedBy,
		ExportedAt:    now.UTC().Format(time.RFC3339),
	}
	if e.ExpireAt != nil {
		end := e.ExpireAt.UTC().Format(time.RFC3339)
		b.PremiumEndTime = &end
	}
	return b
}

type StatusResponse struct {
	User  *EntitlementInfo `json:"user"`
	Guild *EntitlementInfo `json:"guild,omitempty"`
}

type TransferResponse struct {
	Source *EntitlementInfo `json:"source"`
	Target *EntitlementInfo `json:"target"`
}

type PlanItem struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	DurationDays *int    `json:"duration_days"`
	Lifetime     bool    `json:"lifetime"`
	Description  string  `json:"description"`
}

func NewPlanItem(p *model.Plan) PlanItem {
	return PlanItem{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		DurationDays: p.DurationDays,
		Lifetime:     p.IsLifetime(),
		Description:  p.Description,
	}
}

type TransactionItem struct {
	TxnID          string  `json:"txn_id"`
	UserID         int64   `json:"user_id"`
	GuildID        int64   `json:"guild_id"`
	PlanID         int64   `json:"plan_id"`
	Amount         float64 `json:"amount"`
	Status         string  `json:"status"`
	ProofReference *string `json:"proof_reference,omitempty"`
	VerifiedBy     *int64  `json:"verified_by,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func NewTransactionItem(t *model.Transaction) TransactionItem {
	item := TransactionItem{
		TxnID:          t.TxnID,
		UserID:         t.UserID,
		GuildID:        t.GuildID,
		PlanID:         t.PlanID,
		Amount:         t.Amount,
		Status:         string(t.Status),
		ProofReference: t.ProofReference,
		VerifiedBy:     t.VerifiedBy,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		item.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	return item
}

// PaymentInstructions 创建交易后返回的付款说明，付款期限仅作提示
type PaymentInstructions struct {
	Transaction       TransactionItem `json:"transaction"`
	PlanName          string          `json:"plan_name"`
	UPIID             string          `json:"upi_id,omitempty"`
	PaymentWindowDays int             `json:"payment_window_days"`
}

type SweepResult struct {
	Users  int `json:"users"`
	Guilds int `json:"guilds"`
}

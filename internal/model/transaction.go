package model

import (
	"time"
)

// TransactionStatus 交易状态：pending -> pending_verification -> verified | denied
type TransactionStatus string

const (
	TxnPending             TransactionStatus = "pending"
	TxnPendingVerification TransactionStatus = "pending_verification"
	TxnVerified            TransactionStatus = "verified"
	TxnDenied              TransactionStatus = "denied"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxnPending, TxnPendingVerification, TxnVerified, TxnDenied:
		return true
	}
	return false
}

// CanTransition 状态只允许单向流转
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	switch s {
	case TxnPending:
		return to == TxnPendingVerification
	case TxnPendingVerification:
		return to == TxnVerified || to == TxnDenied
	}
	return false
}

type Transaction struct {
	ID             int64             `gorm:"primaryKey" json:"-"`
	TxnID          string            `gorm:"size:32;not null;uniqueIndex" json:"txn_id"`
	UserID         int64             `gorm:"not null;index" json:"user_id"`
	GuildID        int64             `gorm:"not null;index" json:"guild_id"`
	PlanID         int64             `gorm:"not null" json:"plan_id"`
	Amount         float64           `gorm:"type:decimal(10,2);not null" json:"amount"`
	Status         TransactionStatus `gorm:"size:32;not null;default:pending;index" json:"status"`
	ProofReference *string           `gorm:"size:500" json:"proof_reference,omitempty"`
	VerifiedBy     *int64            `json:"verified_by,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "premium_transactions"
}

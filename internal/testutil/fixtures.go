package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/premium_server/internal/model"
)

// TestPlan 创建测试套餐，默认 30 天
func TestPlan(t *testing.T, db *gorm.DB, opts ...func(*model.Plan)) *model.Plan {
	t.Helper()

	days := 30
	plan := &model.Plan{
		Name:         fmt.Sprintf("plan_%d", time.Now().UnixNano()),
		Price:        99,
		DurationDays: &days,
		Description:  "test plan",
	}
	for _, opt := range opts {
		opt(plan)
	}

	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("Failed to create test plan: %v", err)
	}
	return plan
}

func WithPlanName(name string) func(*model.Plan) {
	return func(p *model.Plan) {
		p.Name = name
	}
}

func WithPlanPrice(price float64) func(*model.Plan) {
	return func(p *model.Plan) {
		p.Price = price
	}
}

// WithPlanDays 0 表示永久套餐
func WithPlanDays(days int) func(*model.Plan) {
	return func(p *model.Plan) {
		if days <= 0 {
			p.DurationDays = nil
			return
		}
		p.DurationDays = &days
	}
}

// TestEntitlement 直接写入授权记录，默认为有效的用户授权
func TestEntitlement(t *testing.T, db *gorm.DB, kind model.SubjectKind, subjectID int64, opts ...func(*model.Entitlement)) *model.Entitlement {
	t.Helper()

	now := model.NormalizeTime(time.Now())
	expire := now.Add(30 * 24 * time.Hour)
	grantedBy := int64(1)
	e := &model.Entitlement{
		SubjectID: subjectID,
		Kind:      kind,
		Active:    true,
		ExpireAt:  &expire,
		GrantedBy: &grantedBy,
		GrantedAt: &now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := db.Table(kind.Table()).Create(e).Error; err != nil {
		t.Fatalf("Failed to create test entitlement: %v", err)
	}
	return e
}

func WithExpireAt(at time.Time) func(*model.Entitlement) {
	return func(e *model.Entitlement) {
		at = model.NormalizeTime(at)
		e.ExpireAt = &at
	}
}

func WithLifetime() func(*model.Entitlement) {
	return func(e *model.Entitlement) {
		e.ExpireAt = nil
	}
}

func WithGrantedBy(id int64) func(*model.Entitlement) {
	return func(e *model.Entitlement) {
		e.GrantedBy = &id
	}
}

func WithNotified(notified bool) func(*model.Entitlement) {
	return func(e *model.Entitlement) {
		e.Notified = notified
	}
}

func Inactive() func(*model.Entitlement) {
	return func(e *model.Entitlement) {
		e.Active = false
		e.ExpireAt = nil
		e.GrantedBy = nil
		e.GrantedAt = nil
	}
}

// TestTransaction 创建测试交易，默认状态 pending
func TestTransaction(t *testing.T, db *gorm.DB, userID, guildID, planID int64, opts ...func(*model.Transaction)) *model.Transaction {
	t.Helper()

	txn := &model.Transaction{
		TxnID:   fmt.Sprintf("QUO%d", time.Now().UnixNano()),
		UserID:  userID,
		GuildID: guildID,
		PlanID:  planID,
		Amount:  99,
		Status:  model.TxnPending,
	}
	for _, opt := range opts {
		opt(txn)
	}

	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("Failed to create test transaction: %v", err)
	}
	return txn
}

func WithStatus(status model.TransactionStatus) func(*model.Transaction) {
	return func(txn *model.Transaction) {
		txn.Status = status
	}
}

func WithProof(ref string) func(*model.Transaction) {
	return func(txn *model.Transaction) {
		txn.ProofReference = &ref
	}
}

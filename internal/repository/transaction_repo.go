package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/internal/model"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

func (r *TransactionRepository) Create(txn *model.Transaction) error {
	return r.db.Create(txn).Error
}

func (r *TransactionRepository) GetByTxnID(txnID string) (*model.Transaction, error) {
	var txn model.Transaction
	if err := r.db.Where("txn_id = ?", txnID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// UpdateStatus 仅当当前状态为 from 时切换到 to，同时写入 fields。
// 返回 false 表示状态已被其他请求修改。
func (r *TransactionRepository) UpdateStatus(txnID string, from, to model.TransactionStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.Model(&model.Transaction{}).
		Where("txn_id = ? AND status = ?", txnID, from).
		Updates(updates)
	return result.RowsAffected == 1, result.Error
}

// ListByStatus 按创建时间升序，先提交的先审核
func (r *TransactionRepository) ListByStatus(status model.TransactionStatus, limit int) ([]model.Transaction, error) {
	var list []model.Transaction
	err := r.db.Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *TransactionRepository) ListByUser(userID int64, limit int) ([]model.Transaction, error) {
	var list []model.Transaction
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

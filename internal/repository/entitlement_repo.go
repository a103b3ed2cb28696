package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/premium_server/internal/model"
)

// EntitlementRepository 用户/服务器授权记录的存取。
// 所有条件更新以 RowsAffected 作为比较并交换的结果。
type EntitlementRepository struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// WithTx 返回绑定到事务的副本
func (r *EntitlementRepository) WithTx(tx *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{db: tx}
}

func (r *EntitlementRepository) table(kind model.SubjectKind) *gorm.DB {
	return r.db.Table(kind.Table())
}

// Get 查询授权记录，不存在时返回默认未激活记录
func (r *EntitlementRepository) Get(kind model.SubjectKind, subjectID int64) (*model.Entitlement, error) {
	var e model.Entitlement
	err := r.table(kind).Where("subject_id = ?", subjectID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.NewInactive(kind, subjectID), nil
		}
		return nil, err
	}
	e.Kind = kind
	return &e, nil
}

var upsertColumns = []string{"active", "expire_at", "granted_by", "granted_at", "notified", "updated_at"}

// Upsert 写入完整记录，已存在时覆盖
func (r *EntitlementRepository) Upsert(e *model.Entitlement) error {
	e.UpdatedAt = time.Now()
	return r.table(e.Kind).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(e).Error
}

// EnsureRow 懒创建未激活记录，已存在时不做任何修改
func (r *EntitlementRepository) EnsureRow(kind model.SubjectKind, subjectID int64) error {
	e := model.NewInactive(kind, subjectID)
	e.UpdatedAt = time.Now()
	return r.table(kind).Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error
}

func inactiveFields() map[string]interface{} {
	return map[string]interface{}{
		"active":     false,
		"expire_at":  nil,
		"granted_by": nil,
		"granted_at": nil,
		"updated_at": time.Now(),
	}
}

// Deactivate 无条件撤销，返回是否有记录被修改
func (r *EntitlementRepository) Deactivate(kind model.SubjectKind, subjectID int64) (bool, error) {
	result := r.table(kind).Where("subject_id = ?", subjectID).Updates(inactiveFields())
	return result.RowsAffected > 0, result.Error
}

func whereExpireAt(db *gorm.DB, expireAt *time.Time) *gorm.DB {
	if expireAt == nil {
		return db.Where("expire_at IS NULL")
	}
	return db.Where("expire_at = ?", model.NormalizeTime(*expireAt))
}

// ConditionalDeactivate 仅当记录仍有效且过期时间等于 expected 时撤销
func (r *EntitlementRepository) ConditionalDeactivate(kind model.SubjectKind, subjectID int64, expected *time.Time) (bool, error) {
	q := r.table(kind).Where("subject_id = ? AND active = ?", subjectID, true)
	result := whereExpireAt(q, expected).Updates(inactiveFields())
	return result.RowsAffected == 1, result.Error
}

// DeactivateOwned 仅当记录仍由 grantedBy 持有且过期时间未变时撤销
func (r *EntitlementRepository) DeactivateOwned(kind model.SubjectKind, subjectID, grantedBy int64, expected *time.Time) (bool, error) {
	q := r.table(kind).Where("subject_id = ? AND active = ? AND granted_by = ?", subjectID, true, grantedBy)
	result := whereExpireAt(q, expected).Updates(inactiveFields())
	return result.RowsAffected == 1, result.Error
}

// ActivateIfInactive 仅当记录未激活时激活，记录不存在时先创建
func (r *EntitlementRepository) ActivateIfInactive(kind model.SubjectKind, subjectID int64, expireAt *time.Time, grantedBy int64, grantedAt time.Time) (bool, error) {
	if err := r.EnsureRow(kind, subjectID); err != nil {
		return false, err
	}

	var exp interface{}
	if expireAt != nil {
		exp = model.NormalizeTime(*expireAt)
	}
	result := r.table(kind).
		Where("subject_id = ? AND active = ?", subjectID, false).
		Updates(map[string]interface{}{
			"active":     true,
			"expire_at":  exp,
			"granted_by": grantedBy,
			"granted_at": model.NormalizeTime(grantedAt),
			"notified":   false,
			"updated_at": time.Now(),
		})
	return result.RowsAffected == 1, result.Error
}

// MarkNotified 设置到期通知标记，返回是否由本次调用设置。
// 只标记仍处于未激活状态的记录，撤销后被重新授予的记录保持未通知。
func (r *EntitlementRepository) MarkNotified(kind model.SubjectKind, subjectID int64) (bool, error) {
	result := r.table(kind).
		Where("subject_id = ? AND notified = ? AND active = ? AND expire_at IS NULL", subjectID, false, false).
		Updates(map[string]interface{}{"notified": true})
	return result.RowsAffected == 1, result.Error
}

// ListExpired 查询已过期但仍有效的记录，按过期时间升序
func (r *EntitlementRepository) ListExpired(kind model.SubjectKind, now time.Time, limit int) ([]model.Entitlement, error) {
	var list []model.Entitlement
	err := r.table(kind).
		Where("active = ? AND expire_at IS NOT NULL AND expire_at <= ?", true, model.NormalizeTime(now)).
		Order("expire_at ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Kind = kind
	}
	return list, nil
}

// CountActive 统计有效授权数量
func (r *EntitlementRepository) CountActive(kind model.SubjectKind) (int64, error) {
	var count int64
	err := r.table(kind).Where("active = ?", true).Count(&count).Error
	return count, err
}

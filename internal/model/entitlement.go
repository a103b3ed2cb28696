package model

import (
	"time"
)

// SubjectKind 授权对象类型
type SubjectKind string

const (
	SubjectUser  SubjectKind = "user"
	SubjectGuild SubjectKind = "guild"
)

func (k SubjectKind) Valid() bool {
	return k == SubjectUser || k == SubjectGuild
}

// Table 返回该类型授权记录所在的表
func (k SubjectKind) Table() string {
	if k == SubjectGuild {
		return GuildEntitlement{}.TableName()
	}
	return UserEntitlement{}.TableName()
}

// Entitlement 用户或服务器的高级会员授权状态
// Active 为 false 时 ExpireAt 与 GrantedBy 必须为空；ExpireAt 为空且 Active 表示永久
type Entitlement struct {
	SubjectID int64       `gorm:"primaryKey;autoIncrement:false" json:"subject_id"`
	Kind      SubjectKind `gorm:"-" json:"kind"`
	Active    bool        `gorm:"not null;index" json:"active"`
	ExpireAt  *time.Time  `gorm:"index" json:"expire_at"`
	GrantedBy *int64      `json:"granted_by"`
	GrantedAt *time.Time  `json:"granted_at"`
	Notified  bool        `gorm:"not null" json:"notified"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsLifetime 有效且没有过期时间即为永久授权
func (e *Entitlement) IsLifetime() bool {
	return e.Active && e.ExpireAt == nil
}

// NewInactive 返回默认的未激活记录（记录按需懒创建）
func NewInactive(kind SubjectKind, subjectID int64) *Entitlement {
	return &Entitlement{SubjectID: subjectID, Kind: kind}
}

type UserEntitlement struct {
	Entitlement `gorm:"embedded"`
}

func (UserEntitlement) TableName() string {
	return "user_entitlements"
}

type GuildEntitlement struct {
	Entitlement `gorm:"embedded"`
}

func (GuildEntitlement) TableName() string {
	return "guild_entitlements"
}

// NormalizeTime 统一为 UTC 毫秒精度，保证与数据库中保存的值可以精确比较
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

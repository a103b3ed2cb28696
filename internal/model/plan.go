package model

import (
	"time"
)

// Plan 高级会员套餐，被交易引用后不再修改
type Plan struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:50;not null;uniqueIndex" json:"name"`
	Price        float64   `gorm:"type:decimal(10,2);not null" json:"price"`
	DurationDays *int      `json:"duration_days"` // nil 表示永久
	Description  string    `gorm:"size:255" json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Plan) TableName() string {
	return "premium_plans"
}

// Duration 套餐时长，永久套餐返回 nil
func (p *Plan) Duration() *time.Duration {
	if p.DurationDays == nil {
		return nil
	}
	d := time.Duration(*p.DurationDays) * 24 * time.Hour
	return &d
}

func (p *Plan) IsLifetime() bool {
	return p.DurationDays == nil
}

package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/internal/model"
)

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) WithTx(tx *gorm.DB) *PlanRepository {
	return &PlanRepository{db: tx}
}

func (r *PlanRepository) Create(plan *model.Plan) error {
	return r.db.Create(plan).Error
}

func (r *PlanRepository) GetByID(id int64) (*model.Plan, error) {
	var plan model.Plan
	if err := r.db.Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *PlanRepository) GetByName(name string) (*model.Plan, error) {
	var plan model.Plan
	if err := r.db.Where("name = ?", name).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// List 按价格升序
func (r *PlanRepository) List() ([]model.Plan, error) {
	var plans []model.Plan
	err := r.db.Order("price ASC, id ASC").Find(&plans).Error
	return plans, err
}

func (r *PlanRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.Plan{}).Count(&count).Error
	return count, err
}

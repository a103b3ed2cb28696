package service

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/repository"
)

type PlanService struct {
	planRepo *repository.PlanRepository
	log      *zap.Logger
}

func NewPlanService(planRepo *repository.PlanRepository, log *zap.Logger) *PlanService {
	return &PlanService{planRepo: planRepo, log: log}
}

// EnsureDefaults 套餐表为空时写入配置中的默认套餐
func (s *PlanService) EnsureDefaults(defaults []config.PlanConfig) error {
	count, err := s.planRepo.Count()
	if err != nil {
		return persistence(err)
	}
	if count > 0 {
		return nil
	}

	for _, pc := range defaults {
		plan := &model.Plan{
			Name:        pc.Name,
			Price:       pc.Price,
			Description: pc.Description,
		}
		if pc.DurationDays > 0 {
			days := pc.DurationDays
			plan.DurationDays = &days
		}
		if err := s.planRepo.Create(plan); err != nil {
			return persistence(err)
		}
	}
	s.log.Info("default plans inserted", zap.Int("count", len(defaults)))
	return nil
}

func (s *PlanService) List() ([]model.Plan, error) {
	plans, err := s.planRepo.List()
	return plans, persistence(err)
}

func (s *PlanService) Get(id int64) (*model.Plan, error) {
	plan, err := s.planRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, persistence(err)
	}
	return plan, nil
}

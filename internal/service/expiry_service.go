package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/pkg/queue"
	"github.com/qs3c/premium_server/internal/repository"
)

// Scheduler 一次性延时动作，至少投递一次
type Scheduler interface {
	Schedule(ctx context.Context, t queue.Task) error
	Cancel(ctx context.Context, kind string, subjectID int64) (bool, error)
}

// 触发来源
const (
	SourceTimer = "timer"
	SourceSweep = "sweep"
)

type SweepResult struct {
	Users  int `json:"users"`
	Guilds int `json:"guilds"`
}

// ExpiryService 到期处理：授予时布置延时动作，另有周期扫描兜底。
// 两条路径都走条件撤销，重复或过期的触发都是空操作。
type ExpiryService struct {
	entRepo   *repository.EntitlementRepository
	scheduler Scheduler
	notify    notifier
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       *zap.Logger
	batchSize int
}

func NewExpiryService(
	entRepo *repository.EntitlementRepository,
	scheduler Scheduler,
	n Notifier,
	clk clock.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
	batchSize int,
) *ExpiryService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpiryService{
		entRepo:   entRepo,
		scheduler: scheduler,
		notify:    newNotifier(n, m, log),
		clock:     clk,
		metrics:   m,
		log:       log,
		batchSize: batchSize,
	}
}

// Arm 布置到期动作，expireAt 为 nil（永久）时取消已有动作
func (s *ExpiryService) Arm(ctx context.Context, kind model.SubjectKind, subjectID int64, expireAt *time.Time) error {
	if expireAt == nil {
		_, err := s.scheduler.Cancel(ctx, string(kind), subjectID)
		return err
	}
	return s.scheduler.Schedule(ctx, queue.Task{
		Kind:      string(kind),
		SubjectID: subjectID,
		ExpireAt:  model.NormalizeTime(*expireAt),
	})
}

// Disarm 尽力取消到期动作，失败时残留的动作也会因条件不符而失效
func (s *ExpiryService) Disarm(ctx context.Context, kind model.SubjectKind, subjectID int64) {
	if _, err := s.scheduler.Cancel(ctx, string(kind), subjectID); err != nil {
		s.log.Warn("failed to cancel expiry timer",
			zap.String("kind", string(kind)), zap.Int64("subject_id", subjectID), zap.Error(err))
	}
}

// Expire 条件撤销：仅当记录的过期时间仍为 expected 时生效。
// 撤销成功且尚未通知时发送到期通知。
func (s *ExpiryService) Expire(ctx context.Context, kind model.SubjectKind, subjectID int64, expected time.Time, source string) (bool, error) {
	expected = model.NormalizeTime(expected)

	before, err := s.entRepo.Get(kind, subjectID)
	if err != nil {
		return false, persistence(err)
	}

	ok, err := s.entRepo.ConditionalDeactivate(kind, subjectID, &expected)
	if err != nil {
		return false, persistence(err)
	}
	if !ok {
		if source == SourceTimer {
			s.metrics.StaleTimer()
		}
		s.log.Debug("expiry skipped",
			zap.String("kind", string(kind)), zap.Int64("subject_id", subjectID),
			zap.Time("expected", expected), zap.String("source", source))
		return false, nil
	}

	s.metrics.Deactivated(string(kind), source)
	s.log.Info("entitlement expired",
		zap.String("kind", string(kind)), zap.Int64("subject_id", subjectID),
		zap.Time("expire_at", expected), zap.String("source", source))

	marked, err := s.entRepo.MarkNotified(kind, subjectID)
	if err != nil {
		// 撤销已生效，通知标记失败不回滚
		s.log.Warn("failed to mark expiry notified",
			zap.String("kind", string(kind)), zap.Int64("subject_id", subjectID), zap.Error(err))
		return true, nil
	}
	if marked {
		snapshot := *before
		snapshot.Kind = kind
		snapshot.ExpireAt = &expected
		s.notify.send(ctx, entitlementMessage(pubsub.EventExpired, &snapshot, before.GrantedBy))
	}
	return true, nil
}

// HandleDue 处理延时队列中到期的任务
func (s *ExpiryService) HandleDue(ctx context.Context, t queue.Task) (bool, error) {
	kind := model.SubjectKind(t.Kind)
	if !kind.Valid() {
		return false, ErrInvalidSubject
	}
	return s.Expire(ctx, kind, t.SubjectID, t.ExpireAt, SourceTimer)
}

// Sweep 扫描所有已过期仍有效的记录并撤销，可重复执行
func (s *ExpiryService) Sweep(ctx context.Context) (*SweepResult, error) {
	users, err := s.sweepKind(ctx, model.SubjectUser)
	if err != nil {
		return nil, err
	}
	guilds, err := s.sweepKind(ctx, model.SubjectGuild)
	if err != nil {
		return nil, err
	}
	if users+guilds > 0 {
		s.log.Info("sweep completed", zap.Int("users", users), zap.Int("guilds", guilds))
	}
	s.refreshActive()
	return &SweepResult{Users: users, Guilds: guilds}, nil
}

func (s *ExpiryService) sweepKind(ctx context.Context, kind model.SubjectKind) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		list, err := s.entRepo.ListExpired(kind, s.clock.Now(), s.batchSize)
		if err != nil {
			return total, persistence(err)
		}

		applied := 0
		for _, e := range list {
			ok, err := s.Expire(ctx, kind, e.SubjectID, *e.ExpireAt, SourceSweep)
			if err != nil {
				return total, err
			}
			if ok {
				applied++
			}
		}
		total += applied

		// 满批且有进展才继续，避免并发修改时空转
		if len(list) < s.batchSize || applied == 0 {
			return total, nil
		}
	}
}

// refreshActive 更新有效授权数量指标，统计失败只记录日志
func (s *ExpiryService) refreshActive() {
	for _, kind := range []model.SubjectKind{model.SubjectUser, model.SubjectGuild} {
		n, err := s.entRepo.CountActive(kind)
		if err != nil {
			s.log.Warn("failed to count active entitlements", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		s.metrics.SetActive(string(kind), n)
	}
}

// Pending 列出已过期仍有效的记录，不做修改
func (s *ExpiryService) Pending(kind model.SubjectKind) ([]model.Entitlement, error) {
	list, err := s.entRepo.ListExpired(kind, s.clock.Now(), s.batchSize)
	if err != nil {
		return nil, persistence(err)
	}
	return list, nil
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/repository"
)

// EntitlementService 授权状态的唯一修改入口
type EntitlementService struct {
	db      *gorm.DB
	entRepo *repository.EntitlementRepository
	expiry  *ExpiryService
	notify  notifier
	clock   clock.Clock
	log     *zap.Logger
}

func NewEntitlementService(
	db *gorm.DB,
	entRepo *repository.EntitlementRepository,
	expiry *ExpiryService,
	n Notifier,
	clk clock.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *EntitlementService {
	return &EntitlementService{
		db:      db,
		entRepo: entRepo,
		expiry:  expiry,
		notify:  newNotifier(n, m, log),
		clock:   clk,
		log:     log,
	}
}

func validateSubject(kind model.SubjectKind, subjectID int64) error {
	if !kind.Valid() {
		return ErrInvalidSubject
	}
	if subjectID <= 0 {
		return ErrInvalidSubjectID
	}
	return nil
}

// Get 查询授权状态，不存在时返回默认未激活记录
func (s *EntitlementService) Get(kind model.SubjectKind, subjectID int64) (*model.Entitlement, error) {
	if err := validateSubject(kind, subjectID); err != nil {
		return nil, err
	}
	e, err := s.entRepo.Get(kind, subjectID)
	if err != nil {
		return nil, persistence(err)
	}
	return e, nil
}

// Grant 授予高级会员。duration 为 nil 表示永久。
// 覆盖之前的过期时间，并替换之前布置的到期动作。
func (s *EntitlementService) Grant(ctx context.Context, kind model.SubjectKind, subjectID int64, duration *time.Duration, grantedBy int64) (*model.Entitlement, error) {
	var granted *model.Entitlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		granted, err = s.GrantTx(ctx, tx, kind, subjectID, duration, grantedBy, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("entitlement granted",
		zap.String("kind", string(kind)), zap.Int64("subject_id", subjectID),
		zap.Int64("granted_by", grantedBy), zap.Bool("lifetime", granted.ExpireAt == nil))
	s.notify.send(ctx, entitlementMessage(pubsub.EventGranted, granted, granted.GrantedBy))
	return granted, nil
}

// GrantTx 在调用方的事务中授予并布置到期动作，任一步失败由调用方回滚
func (s *EntitlementService) GrantTx(ctx context.Context, tx *gorm.DB, kind model.SubjectKind, subjectID int64, duration *time.Duration, grantedBy int64, now time.Time) (*model.Entitlement, error) {
	if err := validateSubject(kind, subjectID); err != nil {
		return nil, err
	}
	if duration != nil && *duration <= 0 {
		return nil, ErrInvalidDuration
	}

	now = model.NormalizeTime(now)
	e := &model.Entitlement{
		SubjectID: subjectID,
		Kind:      kind,
		Active:    true,
		GrantedBy: &grantedBy,
		GrantedAt: &now,
		Notified:  false,
	}
	if duration != nil {
		expireAt := model.NormalizeTime(now.Add(*duration))
		e.ExpireAt = &expireAt
	}

	if err := s.entRepo.WithTx(tx).Upsert(e); err != nil {
		return nil, persistence(err)
	}
	if err := s.expiry.Arm(ctx, kind, subjectID, e.ExpireAt); err != nil {
		return nil, persistence(err)
	}
	return e, nil
}

// Revoke 撤销授权，已是未激活状态时同样成功
func (s *EntitlementService) Revoke(ctx context.Context, kind model.SubjectKind, subjectID int64) (*model.Entitlement, error) {
	if err := validateSubject(kind, subjectID); err != nil {
		return nil, err
	}

	before, err := s.entRepo.Get(kind, subjectID)
	if err != nil {
		return nil, persistence(err)
	}
	if _, err := s.entRepo.Deactivate(kind, subjectID); err != nil {
		return nil, persistence(err)
	}
	s.expiry.Disarm(ctx, kind, subjectID)

	if before.Active {
		s.log.Info("entitlement revoked", zap.String("kind", string(kind)), zap.Int64("subject_id", subjectID))
		s.notify.send(ctx, entitlementMessage(pubsub.EventRevoked, model.NewInactive(kind, subjectID), before.GrantedBy))
	}
	return s.Get(kind, subjectID)
}

// ConditionalDeactivate 仅当过期时间仍为 expected 时撤销，返回是否生效
func (s *EntitlementService) ConditionalDeactivate(kind model.SubjectKind, subjectID int64, expected *time.Time) (bool, error) {
	if err := validateSubject(kind, subjectID); err != nil {
		return false, err
	}
	ok, err := s.entRepo.ConditionalDeactivate(kind, subjectID, expected)
	if err != nil {
		return false, persistence(err)
	}
	return ok, nil
}

// ActivateGuild 用户把自己的高级会员用在一个服务器上，服务器继承用户的过期时间
func (s *EntitlementService) ActivateGuild(ctx context.Context, userID, guildID int64) (*model.Entitlement, error) {
	if err := validateSubject(model.SubjectUser, userID); err != nil {
		return nil, err
	}
	if err := validateSubject(model.SubjectGuild, guildID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var guild *model.Entitlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.entRepo.WithTx(tx)

		user, err := repo.Get(model.SubjectUser, userID)
		if err != nil {
			return persistence(err)
		}
		// 已过期但尚未被扫描的也视为非会员
		if !user.Active || (user.ExpireAt != nil && !user.ExpireAt.After(now)) {
			return ErrUserNotPremium
		}

		ok, err := repo.ActivateIfInactive(model.SubjectGuild, guildID, user.ExpireAt, userID, now)
		if err != nil {
			return persistence(err)
		}
		if !ok {
			return ErrGuildAlreadyPremium
		}

		if guild, err = repo.Get(model.SubjectGuild, guildID); err != nil {
			return persistence(err)
		}
		if err := s.expiry.Arm(ctx, model.SubjectGuild, guildID, guild.ExpireAt); err != nil {
			return persistence(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("guild activated", zap.Int64("guild_id", guildID), zap.Int64("user_id", userID))
	s.notify.send(ctx, entitlementMessage(pubsub.EventGranted, guild, guild.GrantedBy))
	return guild, nil
}

// DeactivateGuild 只有授予者或管理员可以取消服务器的高级会员
func (s *EntitlementService) DeactivateGuild(ctx context.Context, actorID, guildID int64, isAdmin bool) (*model.Entitlement, error) {
	if err := validateSubject(model.SubjectGuild, guildID); err != nil {
		return nil, err
	}

	guild, err := s.entRepo.Get(model.SubjectGuild, guildID)
	if err != nil {
		return nil, persistence(err)
	}
	if !guild.Active {
		return nil, ErrGuildNotPremium
	}
	if !isAdmin && (guild.GrantedBy == nil || *guild.GrantedBy != actorID) {
		return nil, ErrNotGrantor
	}

	ok, err := s.entRepo.ConditionalDeactivate(model.SubjectGuild, guildID, guild.ExpireAt)
	if err != nil {
		return nil, persistence(err)
	}
	if !ok {
		return nil, ErrSourceChanged
	}
	s.expiry.Disarm(ctx, model.SubjectGuild, guildID)

	s.log.Info("guild deactivated", zap.Int64("guild_id", guildID), zap.Int64("actor_id", actorID))
	s.notify.send(ctx, entitlementMessage(pubsub.EventRevoked, model.NewInactive(model.SubjectGuild, guildID), guild.GrantedBy))
	return s.Get(model.SubjectGuild, guildID)
}

// BackupGuild 导出服务器的会员记录，权限与取消相同
func (s *EntitlementService) BackupGuild(actorID, guildID int64, isAdmin bool) (*model.Entitlement, error) {
	guild, err := s.Get(model.SubjectGuild, guildID)
	if err != nil {
		return nil, err
	}
	if !guild.Active {
		return nil, ErrGuildNotPremium
	}
	if !isAdmin && (guild.GrantedBy == nil || *guild.GrantedBy != actorID) {
		return nil, ErrNotGrantor
	}
	return guild, nil
}

// Status 用户与（可选）服务器的授权快照，guildID 为 0 时只返回用户
func (s *EntitlementService) Status(userID, guildID int64) (user, guild *model.Entitlement, err error) {
	if user, err = s.Get(model.SubjectUser, userID); err != nil {
		return nil, nil, err
	}
	if guildID == 0 {
		return user, nil, nil
	}
	if guild, err = s.Get(model.SubjectGuild, guildID); err != nil {
		return nil, nil, err
	}
	return user, guild, nil
}

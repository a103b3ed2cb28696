package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/lock"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/repository"
)

// Locker 跨进程互斥，保证每个服务器同时最多一个转移
type Locker interface {
	AcquireAll(ctx context.Context, names []string, ttl time.Duration) (func(), error)
}

const transferLockTTL = 30 * time.Second

type TransferResult struct {
	Source *model.Entitlement
	Target *model.Entitlement
}

type TransferService struct {
	db      *gorm.DB
	entRepo *repository.EntitlementRepository
	expiry  *ExpiryService
	locker  Locker
	notify  notifier
	clock   clock.Clock
	log     *zap.Logger
}

func NewTransferService(
	db *gorm.DB,
	entRepo *repository.EntitlementRepository,
	expiry *ExpiryService,
	locker Locker,
	n Notifier,
	clk clock.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *TransferService {
	return &TransferService{
		db:      db,
		entRepo: entRepo,
		expiry:  expiry,
		locker:  locker,
		notify:  newNotifier(n, m, log),
		clock:   clk,
		log:     log,
	}
}

func guildLockNames(ids ...int64) []string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	names := make([]string, len(sorted))
	for i, id := range sorted {
		names[i] = fmt.Sprintf("guild:%d", id)
	}
	return names
}

// Transfer 把源服务器剩余的高级会员转移到目标服务器，两边同时成功或同时不变
func (s *TransferService) Transfer(ctx context.Context, sourceGuildID, targetGuildID, requestedBy int64) (*TransferResult, error) {
	if err := validateSubject(model.SubjectGuild, sourceGuildID); err != nil {
		return nil, err
	}
	if err := validateSubject(model.SubjectGuild, targetGuildID); err != nil {
		return nil, err
	}
	if sourceGuildID == targetGuildID {
		return nil, ErrSameGuild
	}

	if s.locker != nil {
		unlock, err := s.locker.AcquireAll(ctx, guildLockNames(sourceGuildID, targetGuildID), transferLockTTL)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, ErrTransferInProgress
			}
			return nil, persistence(err)
		}
		defer unlock()
	}

	now := s.clock.Now()
	result := &TransferResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.entRepo.WithTx(tx)

		source, err := repo.Get(model.SubjectGuild, sourceGuildID)
		if err != nil {
			return persistence(err)
		}
		if !source.Active {
			return ErrGuildNotPremium
		}
		if source.ExpireAt == nil {
			return ErrLifetimeTransfer
		}
		// 已过期但尚未被扫描的不能再转移
		if !source.ExpireAt.After(now) {
			return ErrGuildNotPremium
		}
		if source.GrantedBy == nil || *source.GrantedBy != requestedBy {
			return ErrNotGrantor
		}

		target, err := repo.Get(model.SubjectGuild, targetGuildID)
		if err != nil {
			return persistence(err)
		}
		if target.Active {
			return ErrGuildAlreadyPremium
		}

		ok, err := repo.DeactivateOwned(model.SubjectGuild, sourceGuildID, requestedBy, source.ExpireAt)
		if err != nil {
			return persistence(err)
		}
		if !ok {
			return ErrSourceChanged
		}

		ok, err = repo.ActivateIfInactive(model.SubjectGuild, targetGuildID, source.ExpireAt, requestedBy, now)
		if err != nil {
			return persistence(err)
		}
		if !ok {
			return ErrGuildAlreadyPremium
		}

		if result.Source, err = repo.Get(model.SubjectGuild, sourceGuildID); err != nil {
			return persistence(err)
		}
		if result.Target, err = repo.Get(model.SubjectGuild, targetGuildID); err != nil {
			return persistence(err)
		}
		if err := s.expiry.Arm(ctx, model.SubjectGuild, targetGuildID, result.Target.ExpireAt); err != nil {
			return persistence(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.expiry.Disarm(ctx, model.SubjectGuild, sourceGuildID)

	s.log.Info("guild premium transferred",
		zap.Int64("source_guild_id", sourceGuildID), zap.Int64("target_guild_id", targetGuildID),
		zap.Int64("requested_by", requestedBy))
	s.notify.send(ctx, entitlementMessage(pubsub.EventTransferred, result.Target, &requestedBy))
	return result, nil
}

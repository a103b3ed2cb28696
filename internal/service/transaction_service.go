package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/repository"
)

const txnIDPrefix = "QUO"

// ProofUploader 付款截图存储
type ProofUploader interface {
	UploadProof(txnID string, data []byte, ext string) (string, error)
}

// TransactionService 购买流程：pending -> pending_verification -> verified | denied
type TransactionService struct {
	db           *gorm.DB
	txnRepo      *repository.TransactionRepository
	planRepo     *repository.PlanRepository
	entRepo      *repository.EntitlementRepository
	entitlements *EntitlementService
	uploader     ProofUploader
	node         *snowflake.Node
	notify       notifier
	clock        clock.Clock
	metrics      *metrics.Metrics
	log          *zap.Logger
}

func NewTransactionService(
	db *gorm.DB,
	txnRepo *repository.TransactionRepository,
	planRepo *repository.PlanRepository,
	entRepo *repository.EntitlementRepository,
	entitlements *EntitlementService,
	uploader ProofUploader,
	node *snowflake.Node,
	n Notifier,
	clk clock.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *TransactionService {
	return &TransactionService{
		db:           db,
		txnRepo:      txnRepo,
		planRepo:     planRepo,
		entRepo:      entRepo,
		entitlements: entitlements,
		uploader:     uploader,
		node:         node,
		notify:       newNotifier(n, m, log),
		clock:        clk,
		metrics:      m,
		log:          log,
	}
}

func (s *TransactionService) getTxn(txnID string) (*model.Transaction, error) {
	txn, err := s.txnRepo.GetByTxnID(txnID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, persistence(err)
	}
	return txn, nil
}

func (s *TransactionService) Get(txnID string) (*model.Transaction, error) {
	return s.getTxn(txnID)
}

// Create 创建待付款交易，服务器已是高级会员时拒绝
func (s *TransactionService) Create(ctx context.Context, userID, guildID, planID int64) (*model.Transaction, *model.Plan, error) {
	if err := validateSubject(model.SubjectUser, userID); err != nil {
		return nil, nil, err
	}
	if err := validateSubject(model.SubjectGuild, guildID); err != nil {
		return nil, nil, err
	}

	plan, err := s.planRepo.GetByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrPlanNotFound
		}
		return nil, nil, persistence(err)
	}

	guild, err := s.entRepo.Get(model.SubjectGuild, guildID)
	if err != nil {
		return nil, nil, persistence(err)
	}
	if guild.Active {
		return nil, nil, ErrGuildAlreadyPremium
	}

	txn := &model.Transaction{
		TxnID:   txnIDPrefix + s.node.Generate().String(),
		UserID:  userID,
		GuildID: guildID,
		PlanID:  plan.ID,
		Amount:  plan.Price,
		Status:  model.TxnPending,
	}
	if err := s.txnRepo.Create(txn); err != nil {
		return nil, nil, persistence(err)
	}

	s.metrics.Transition(string(model.TxnPending))
	s.log.Info("transaction created",
		zap.String("txn_id", txn.TxnID), zap.Int64("user_id", userID),
		zap.Int64("guild_id", guildID), zap.String("plan", plan.Name))
	return txn, plan, nil
}

func validateProof(ref string) error {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidProof
	}
	return nil
}

// checkSubmitter 只有下单用户可以对待付款交易提交凭证
func checkSubmitter(txn *model.Transaction, actorID int64) error {
	if txn.UserID != actorID {
		return ErrNotTransactionOwner
	}
	if !txn.Status.CanTransition(model.TxnPendingVerification) {
		return ErrTransactionNotPending
	}
	return nil
}

// SubmitProof 提交付款凭证，交易进入待审核并通知管理员
func (s *TransactionService) SubmitProof(ctx context.Context, txnID string, actorID int64, proofReference string) (*model.Transaction, error) {
	if err := validateProof(proofReference); err != nil {
		return nil, err
	}
	txn, err := s.getTxn(txnID)
	if err != nil {
		return nil, err
	}
	if err := checkSubmitter(txn, actorID); err != nil {
		return nil, err
	}

	ref := strings.TrimSpace(proofReference)
	ok, err := s.txnRepo.UpdateStatus(txnID, model.TxnPending, model.TxnPendingVerification,
		map[string]interface{}{"proof_reference": ref})
	if err != nil {
		return nil, persistence(err)
	}
	if !ok {
		return nil, ErrTransactionNotPending
	}

	s.metrics.Transition(string(model.TxnPendingVerification))
	s.log.Info("proof submitted", zap.String("txn_id", txnID), zap.Int64("user_id", actorID))
	s.notify.send(ctx, &pubsub.NotifyMessage{
		Event:       pubsub.EventProofSubmitted,
		SubjectKind: string(model.SubjectGuild),
		SubjectID:   txn.GuildID,
		TxnID:       txnID,
	})
	return s.getTxn(txnID)
}

// UploadProof 上传付款截图后以其 URL 作为凭证提交
func (s *TransactionService) UploadProof(ctx context.Context, txnID string, actorID int64, data []byte, ext string) (*model.Transaction, error) {
	if s.uploader == nil {
		return nil, ErrUploadUnavailable
	}
	txn, err := s.getTxn(txnID)
	if err != nil {
		return nil, err
	}
	// 先检查再上传，避免产生无主文件
	if err := checkSubmitter(txn, actorID); err != nil {
		return nil, err
	}

	proofURL, err := s.uploader.UploadProof(txnID, data, ext)
	if err != nil {
		return nil, persistence(err)
	}
	return s.SubmitProof(ctx, txnID, actorID, proofURL)
}

// Verify 审核通过：状态切换、服务器授权和到期动作在同一个数据库事务中完成。
// 并发审核只有一个成功，其余返回冲突。
func (s *TransactionService) Verify(ctx context.Context, txnID string, verifierID int64) (*model.Transaction, error) {
	txn, err := s.getTxn(txnID)
	if err != nil {
		return nil, err
	}
	if !txn.Status.CanTransition(model.TxnVerified) {
		return nil, ErrTransactionNotReview
	}

	now := model.NormalizeTime(s.clock.Now())
	var granted *model.Entitlement
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.txnRepo.WithTx(tx).UpdateStatus(txnID, model.TxnPendingVerification, model.TxnVerified,
			map[string]interface{}{"verified_by": verifierID, "completed_at": now})
		if err != nil {
			return persistence(err)
		}
		if !ok {
			return ErrTransactionNotReview
		}

		plan, err := s.planRepo.WithTx(tx).GetByID(txn.PlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return persistence(err)
		}

		granted, err = s.entitlements.GrantTx(ctx, tx, model.SubjectGuild, txn.GuildID, plan.Duration(), verifierID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(model.TxnVerified))
	s.log.Info("transaction verified",
		zap.String("txn_id", txnID), zap.Int64("verifier_id", verifierID), zap.Int64("guild_id", txn.GuildID))

	msg := entitlementMessage(pubsub.EventTransactionVerified, granted, &txn.UserID)
	msg.TxnID = txnID
	s.notify.send(ctx, msg)
	return s.getTxn(txnID)
}

// Deny 审核拒绝，不改变授权
func (s *TransactionService) Deny(ctx context.Context, txnID string, verifierID int64) (*model.Transaction, error) {
	txn, err := s.getTxn(txnID)
	if err != nil {
		return nil, err
	}
	if !txn.Status.CanTransition(model.TxnDenied) {
		return nil, ErrTransactionNotReview
	}

	ok, err := s.txnRepo.UpdateStatus(txnID, model.TxnPendingVerification, model.TxnDenied,
		map[string]interface{}{"verified_by": verifierID, "completed_at": model.NormalizeTime(s.clock.Now())})
	if err != nil {
		return nil, persistence(err)
	}
	if !ok {
		return nil, ErrTransactionNotReview
	}

	s.metrics.Transition(string(model.TxnDenied))
	s.log.Info("transaction denied", zap.String("txn_id", txnID), zap.Int64("verifier_id", verifierID))
	s.notify.send(ctx, &pubsub.NotifyMessage{
		Event:       pubsub.EventTransactionDenied,
		SubjectKind: string(model.SubjectGuild),
		SubjectID:   txn.GuildID,
		UserID:      txn.UserID,
		TxnID:       txnID,
	})
	return s.getTxn(txnID)
}

const maxListSize = 100

// ListByStatus 管理员审核队列
func (s *TransactionService) ListByStatus(status model.TransactionStatus, limit int) ([]model.Transaction, error) {
	if !status.Valid() {
		return nil, newError(KindValidation, "无效的交易状态")
	}
	if limit <= 0 || limit > maxListSize {
		limit = maxListSize
	}
	list, err := s.txnRepo.ListByStatus(status, limit)
	return list, persistence(err)
}

// ListByUser 用户自己的交易，按时间倒序
func (s *TransactionService) ListByUser(userID int64, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > maxListSize {
		limit = maxListSize
	}
	list, err := s.txnRepo.ListByUser(userID, limit)
	return list, persistence(err)
}

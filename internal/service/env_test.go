package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/lock"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/pkg/queue"
	"github.com/qs3c/premium_server/internal/repository"
	"github.com/qs3c/premium_server/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingNotifier 记录所有通知，可注入失败
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []pubsub.NotifyMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg *pubsub.NotifyMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, *msg)
	return nil
}

func (n *recordingNotifier) events(event string) []pubsub.NotifyMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []pubsub.NotifyMessage
	for _, m := range n.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// brokenScheduler 模拟延时队列不可用
type brokenScheduler struct{}

func (brokenScheduler) Schedule(context.Context, queue.Task) error {
	return errors.New("redis: connection refused")
}

func (brokenScheduler) Cancel(context.Context, string, int64) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type fakeUploader struct {
	calls int
}

func (u *fakeUploader) UploadProof(txnID string, _ []byte, ext string) (string, error) {
	u.calls++
	return "https://cdn.example.com/proofs/" + txnID + ext, nil
}

type testEnv struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	queue    *queue.DelayQueue
	locker   *lock.Locker
	clock    *clock.Fake
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	uploader *fakeUploader

	entRepo *repository.EntitlementRepository

	expiry       *ExpiryService
	entitlements *EntitlementService
	transactions *TransactionService
	transfers    *TransferService
	plans        *PlanService
}

type envOption func(*envConfig)

type envConfig struct {
	scheduler Scheduler
	batchSize int
}

func withScheduler(s Scheduler) envOption {
	return func(c *envConfig) { c.scheduler = s }
}

func withBatchSize(n int) envOption {
	return func(c *envConfig) { c.batchSize = n }
}

func setupEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	mr, client := testutil.SetupTestRedis(t)

	env := &testEnv{
		db:       db,
		mr:       mr,
		queue:    queue.NewDelayQueue(client, "test:expiry"),
		locker:   lock.NewLocker(client, "test:transfer"),
		clock:    clock.NewFake(t0),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
		uploader: &fakeUploader{},
		entRepo:  repository.NewEntitlementRepository(db),
	}

	cfg := envConfig{scheduler: env.queue, batchSize: 100}
	for _, opt := range opts {
		opt(&cfg)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	planRepo := repository.NewPlanRepository(db)
	env.expiry = NewExpiryService(env.entRepo, cfg.scheduler, env.notifier, env.clock, env.metrics, log, cfg.batchSize)
	env.entitlements = NewEntitlementService(db, env.entRepo, env.expiry, env.notifier, env.clock, env.metrics, log)
	env.transactions = NewTransactionService(db, repository.NewTransactionRepository(db), planRepo, env.entRepo,
		env.entitlements, env.uploader, node, env.notifier, env.clock, env.metrics, log)
	env.transfers = NewTransferService(db, env.entRepo, env.expiry, env.locker, env.notifier, env.clock, env.metrics, log)
	env.plans = NewPlanService(planRepo, log)
	return env
}

func days(n int) *time.Duration {
	d := time.Duration(n) * 24 * time.Hour
	return &d
}

func hours(n int) *time.Duration {
	d := time.Duration(n) * time.Hour
	return &d
}

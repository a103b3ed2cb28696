package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/queue"
)

// TaskQueue 延时队列中 worker 使用的部分
type TaskQueue interface {
	PopDue(ctx context.Context, now time.Time, limit int) ([]queue.Task, error)
	Requeue(ctx context.Context, t queue.Task, at time.Time) error
}

// Handler 处理到期任务，必须幂等
type Handler interface {
	HandleDue(ctx context.Context, t queue.Task) (bool, error)
}

// Processor 消费到期的延时动作。处理失败的任务延后重新投递。
type Processor struct {
	queue      TaskQueue
	handler    Handler
	clock      clock.Clock
	log        *zap.Logger
	batchSize  int
	retryDelay time.Duration
}

func NewProcessor(q TaskQueue, h Handler, clk clock.Clock, log *zap.Logger, batchSize int, retryDelay time.Duration) *Processor {
	if batchSize <= 0 {
		batchSize = 100
	}
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return &Processor{
		queue:      q,
		handler:    h,
		clock:      clk,
		log:        log,
		batchSize:  batchSize,
		retryDelay: retryDelay,
	}
}

// Process 处理单个任务
func (p *Processor) Process(ctx context.Context, t queue.Task) error {
	applied, err := p.handler.HandleDue(ctx, t)
	if err != nil {
		p.log.Warn("expiry task failed, requeueing",
			zap.String("kind", t.Kind), zap.Int64("subject_id", t.SubjectID),
			zap.Time("expire_at", t.ExpireAt), zap.Error(err))
		if rqErr := p.queue.Requeue(ctx, t, p.clock.Now().Add(p.retryDelay)); rqErr != nil {
			// 任务丢失由周期扫描兜底
			p.log.Error("failed to requeue expiry task",
				zap.String("kind", t.Kind), zap.Int64("subject_id", t.SubjectID), zap.Error(rqErr))
		}
		return err
	}
	if applied {
		p.log.Debug("expiry task applied", zap.String("kind", t.Kind), zap.Int64("subject_id", t.SubjectID))
	}
	return nil
}

// PollOnce 取出一批到期任务并处理，返回取出的数量
func (p *Processor) PollOnce(ctx context.Context) (int, error) {
	tasks, err := p.queue.PopDue(ctx, p.clock.Now(), p.batchSize)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		_ = p.Process(ctx, t)
	}
	return len(tasks), nil
}

// Run 按 interval 轮询直到 ctx 结束。满批时立即继续下一轮。
func (p *Processor) Run(ctx context.Context, workerID int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("expiry worker started", zap.Int("worker_id", workerID), zap.Duration("interval", interval))
	for {
		n, err := p.PollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Warn("failed to poll expiry queue", zap.Int("worker_id", workerID), zap.Error(err))
		}
		if n >= p.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			p.log.Info("expiry worker shutting down", zap.Int("worker_id", workerID))
			return
		case <-ticker.C:
		}
	}
}

package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/qs3c/premium_server/internal/service"
)

// Sweeper 周期扫描
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
}

// Service 按 cron 表达式周期执行到期扫描，上一轮未结束时跳过本轮
type Service struct {
	sweeper Sweeper
	spec    string
	timeout time.Duration
	log     *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

func NewService(sweeper Sweeper, spec string, log *zap.Logger) *Service {
	if spec == "" {
		spec = "@every 15m"
	}
	sugar := zapCronLogger{log.Sugar()}
	return &Service{
		sweeper: sweeper,
		spec:    spec,
		timeout: 10 * time.Minute,
		log:     log,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(sugar),
			cron.WithChain(cron.Recover(sugar), cron.SkipIfStillRunning(sugar)),
		),
	}
}

// Start 注册并启动定时任务，重复调用无效
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.runSweep); err != nil {
		return fmt.Errorf("invalid sweep spec %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.started = true
	s.log.Info("sweep scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop 停止调度并等待正在执行的扫描结束
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info("sweep scheduler stopped")
}

func (s *Service) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.log.Error("scheduled sweep failed", zap.Error(err))
	}
}

// RunNow 立即执行一次扫描（用于手动触发）
func (s *Service) RunNow(ctx context.Context) (*service.SweepResult, error) {
	start := time.Now()
	result, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Debug("sweep finished",
		zap.Int("users", result.Users), zap.Int("guilds", result.Guilds),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// zapCronLogger 把 robfig/cron 的日志接到 zap
type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

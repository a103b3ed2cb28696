package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/database"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/cron"
	"github.com/qs3c/premium_server/internal/pkg/logger"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/pkg/queue"
	"github.com/qs3c/premium_server/internal/repository"
	"github.com/qs3c/premium_server/internal/service"
	"github.com/qs3c/premium_server/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	log.Info("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connected")

	clk := clock.Real()
	m := metrics.New()
	expiryQueue := queue.NewDelayQueue(rdb, cfg.Queue.ExpiryQueue)
	publisher := pubsub.NewPublisher(rdb, cfg.Queue.NotifyChannel)

	entRepo := repository.NewEntitlementRepository(db)
	expiryService := service.NewExpiryService(entRepo, expiryQueue, publisher, clk, m, log, cfg.Premium.BatchSize)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsSrv := &http.Server{
		Addr:    cfg.Premium.WorkerMetricsAddr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 启动时先补一次扫描，覆盖停机期间错过的到期
	sweeper := cron.NewService(expiryService, cfg.Premium.SweepSpec, log)
	if result, err := sweeper.RunNow(ctx); err != nil {
		log.Error("startup sweep failed", zap.Error(err))
	} else {
		log.Info("startup sweep finished", zap.Int("users", result.Users), zap.Int("guilds", result.Guilds))
	}
	if err := sweeper.Start(); err != nil {
		log.Fatal("failed to start sweep scheduler", zap.Error(err))
	}

	processor := worker.NewProcessor(expiryQueue, expiryService, clk, log,
		cfg.Premium.BatchSize, cfg.Premium.RetryDelay())

	log.Info("worker started", zap.Int("workers", cfg.Premium.Workers))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Premium.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processor.Run(ctx, workerID, cfg.Premium.PollInterval())
		}(i)
	}

	// 等待 context 取消
	<-ctx.Done()
	log.Info("received shutdown signal")

	wg.Wait()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("worker shutdown complete")
}

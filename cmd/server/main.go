package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/api"
	"github.com/qs3c/premium_server/internal/api/handler"
	"github.com/qs3c/premium_server/internal/database"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/lock"
	"github.com/qs3c/premium_server/internal/pkg/logger"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/oss"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/pkg/queue"
	"github.com/qs3c/premium_server/internal/pkg/ws"
	"github.com/qs3c/premium_server/internal/repository"
	"github.com/qs3c/premium_server/internal/service"
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
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	log.Info("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connected")

	// 初始化 OSS（可选），未配置时禁用截图上传
	var uploader service.ProofUploader
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Warn("failed to init OSS client, proof upload disabled", zap.Error(err))
		} else {
			uploader = ossClient
			log.Info("OSS client initialized")
		}
	}

	node, err := snowflake.NewNode(cfg.Premium.NodeID)
	if err != nil {
		log.Fatal("invalid snowflake node id", zap.Int64("node_id", cfg.Premium.NodeID), zap.Error(err))
	}

	clk := clock.Real()
	m := metrics.New()
	publisher := pubsub.NewPublisher(rdb, cfg.Queue.NotifyChannel)
	expiryQueue := queue.NewDelayQueue(rdb, cfg.Queue.ExpiryQueue)
	locker := lock.NewLocker(rdb, cfg.Queue.TransferLockNS)

	// 初始化 Repository
	entRepo := repository.NewEntitlementRepository(db)
	planRepo := repository.NewPlanRepository(db)
	txnRepo := repository.NewTransactionRepository(db)

	// 初始化 Service
	expiryService := service.NewExpiryService(entRepo, expiryQueue, publisher, clk, m, log, cfg.Premium.BatchSize)
	entitlementService := service.NewEntitlementService(db, entRepo, expiryService, publisher, clk, m, log)
	transactionService := service.NewTransactionService(db, txnRepo, planRepo, entRepo,
		entitlementService, uploader, node, publisher, clk, m, log)
	transferService := service.NewTransferService(db, entRepo, expiryService, locker, publisher, clk, m, log)
	planService := service.NewPlanService(planRepo, log)

	if err := planService.EnsureDefaults(cfg.Premium.Plans); err != nil {
		log.Fatal("failed to insert default plans", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// WebSocket 推送：订阅通知频道并转发给在线用户
	wsHub := ws.NewHub(log)
	subscriber := pubsub.NewSubscriber(rdb, cfg.Queue.NotifyChannel)
	go func() {
		err := subscriber.Subscribe(ctx, func(msg *pubsub.NotifyMessage) {
			if err := wsHub.Deliver(msg, cfg.Premium.AdminIDs); err != nil {
				log.Warn("failed to deliver notification", zap.String("event", msg.Event), zap.Error(err))
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Error("notification subscriber stopped", zap.Error(err))
		}
	}()

	// 初始化 Handler
	premiumHandler := handler.NewPremiumHandler(entitlementService, transferService, planService)
	transactionHandler := handler.NewTransactionHandler(transactionService, cfg.Premium, cfg.OSS.MaxProofSize)
	adminHandler := handler.NewAdminHandler(entitlementService, transactionService, expiryService, cfg.Premium.MinGrant())
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, log)

	// 初始化 Router
	router := api.NewRouter(
		premiumHandler,
		transactionHandler,
		adminHandler,
		websocketHandler,
		m.Registry,
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	log.Info("server shutdown complete")
}

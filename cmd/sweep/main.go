package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/database"
	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/logger"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/pkg/queue"
	"github.com/qs3c/premium_server/internal/repository"
	"github.com/qs3c/premium_server/internal/service"
)

var (
	configPath = flag.String("config", "", "path to config file (default $CONFIG_PATH or config.yaml)")
	dryRun     = flag.Bool("dry-run", true, "only list expired entitlements, don't deactivate them")
	timeout    = flag.Duration("timeout", 10*time.Minute, "overall timeout")
)

func main() {
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
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

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	expiryService := service.NewExpiryService(
		repository.NewEntitlementRepository(db),
		queue.NewDelayQueue(rdb, cfg.Queue.ExpiryQueue),
		pubsub.NewPublisher(rdb, cfg.Queue.NotifyChannel),
		clock.Real(), metrics.New(), log, cfg.Premium.BatchSize,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println(strings.Repeat("=", 60))
	if *dryRun {
		total := 0
		for _, kind := range []model.SubjectKind{model.SubjectUser, model.SubjectGuild} {
			list, err := expiryService.Pending(kind)
			if err != nil {
				log.Fatal("failed to list expired entitlements", zap.String("kind", string(kind)), zap.Error(err))
			}
			for _, e := range list {
				fmt.Printf("  - %-5s %d expired at %s\n", kind, e.SubjectID, e.ExpireAt.Format(time.RFC3339))
			}
			total += len(list)
		}
		fmt.Printf("Found %d expired entitlements (first batch per kind)\n", total)
		fmt.Println("DRY RUN MODE - nothing was changed, run with -dry-run=false to deactivate")
	} else {
		result, err := expiryService.Sweep(ctx)
		if err != nil {
			log.Fatal("sweep failed", zap.Error(err))
		}
		fmt.Printf("Deactivated %d user and %d guild entitlements\n", result.Users, result.Guilds)
	}
	fmt.Println(strings.Repeat("=", 60))
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus_market/internal/catalog"
	"campus_market/internal/config"
	"campus_market/internal/db"
	"campus_market/internal/logging"
	"campus_market/internal/middleware"
	"campus_market/internal/model"
	"campus_market/internal/negotiation"
	"campus_market/internal/queue"
	"campus_market/internal/router"
	"campus_market/internal/settlement"
	"campus_market/internal/store"
	"campus_market/internal/sweeper"
	"campus_market/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// .env 不存在时忽略，环境变量优先
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, log *slog.Logger) error {
	// 1. 数据库 + 建表
	gdb, err := db.Open(cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	s := store.New(gdb)

	// 2. Redis：商品占用、分布式锁、限流、幂等键
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Redis 故障时限流放行、catalog 通知失败只记日志，核心结算仍可用
		log.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}
	cancel()

	// 3. 核心组件
	ledger := wallet.New(s, wallet.Options{MaxBalance: cfg.MaxWalletBalance, Logger: log})
	tracker := negotiation.NewTracker(s, negotiation.Options{
		Band: negotiation.Band{
			MaxDiscountPercent: cfg.MaxDiscountPercent,
			MaxMarkupPercent:   cfg.MaxMarkupPercent,
		},
		Logger: log,
	})
	cat := catalog.NewRedis(rdb)
	coord := settlement.New(s, ledger, tracker, settlement.Options{
		OrderTTL: cfg.OrderTTL,
		Catalog:  cat,
		Logger:   log,
	})

	sw := sweeper.New(s, coord, sweeper.Config{
		Interval:   cfg.SweepInterval,
		BatchSize:  cfg.SweepBatchSize,
		MaxBatches: cfg.SweepMaxBatches,
		Locker:     sweeper.NewRedisLocker(rdb, "order-expiry", cfg.SweepLockTTL, log),
		Logger:     log,
	})

	// 4. outbox 转发（Kafka、catalog）+ 充值结果消费
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
	defer producer.Close()
	relay := queue.NewRelay(s, producer, queue.RelayConfig{
		Interval:    cfg.RelayInterval,
		BatchSize:   cfg.RelayBatchSize,
		MaxAttempts: cfg.RelayMaxAttempts,
		Logger:      log,
	})
	// catalog 指令走独立 sink，重试直到生效
	catalogRelay := queue.NewRelay(s, settlement.NewCatalogDispatcher(s, cat, log), queue.RelayConfig{
		Sink:         model.SinkCatalog,
		Interval:     cfg.RelayInterval,
		BatchSize:    cfg.RelayBatchSize,
		RetryForever: true,
		Logger:       log,
	})
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaRechargeTopic, cfg.KafkaGroupID, ledger, log)
	defer consumer.Close()

	// 5. HTTP
	r := gin.New()
	r.Use(middleware.AccessLog(log), gin.Recovery())
	router.Setup(r, router.Deps{
		Settlement:  coord,
		Negotiation: tracker,
		Wallet:      ledger,
		Redis:       rdb,
		Health: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		Logger:        log,
		PayRateLimit:  cfg.PayRateLimit,
		PayRateWindow: cfg.PayRateWindow,
		AdminToken:    cfg.AdminToken,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return catalogRelay.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

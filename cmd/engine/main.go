package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dexflow/engine/internal/config"
	"github.com/dexflow/engine/internal/engine"
	"github.com/dexflow/engine/internal/orderqueue"
	"github.com/dexflow/engine/internal/publisher"
	"github.com/dexflow/engine/internal/retry"
	"github.com/dexflow/engine/internal/router"
	"github.com/dexflow/engine/internal/server"
	"github.com/dexflow/engine/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("DEXFLOW_CONFIG_DIR"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	newRedis := func() *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
	}
	rdb := newRedis()
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	auditSink := publisher.NewAuditSink(db, zapLogger)
	if err := auditSink.Migrate(); err != nil {
		zapLogger.Fatal("Audit schema migration failed", zap.Error(err))
	}

	sinks := []publisher.Sink{
		auditSink,
		publisher.NewCacheSink(rdb, cfg.Redis.CacheTTL, zapLogger),
		publisher.NewBroadcastSink(rdb, zapLogger),
	}
	var kafkaSink *publisher.KafkaSink
	if cfg.Kafka.Broker != "" {
		kafkaSink = publisher.NewKafkaSink(cfg.Kafka.Broker, cfg.Kafka.Topic, zapLogger)
		sinks = append(sinks, kafkaSink)
	}

	pub := publisher.New(zapLogger, sinks...)
	pub.Start(ctx)

	venues := buildVenues(cfg.Venues)
	rtr := router.New(venues, zapLogger)

	policy := retry.Policy{
		MaxAttempts: cfg.Engine.RetryMaxAttempts,
		BaseDelay:   cfg.Engine.RetryBaseDelay,
		MaxDelay:    cfg.Engine.RetryMaxDelay,
		Exponential: cfg.Engine.RetryExponential,
		Logger:      zapLogger,
	}

	worker := engine.NewWorker(
		rtr,
		policy,
		pub,
		engine.NewRedisLocker(rdb),
		engine.NewRedisStateStore(rdb),
		cfg.Engine.LockTTL,
		zapLogger,
	)

	queue := orderqueue.NewRedisQueue(rdb, zapLogger)
	if recovered, err := queue.ReplayPending(ctx); err != nil {
		zapLogger.Error("Pending task recovery failed", zap.Error(err))
	} else if recovered > 0 {
		zapLogger.Info("Requeued stranded tasks", zap.Int("count", recovered))
	}

	pool := engine.NewPool(queue, worker, cfg.Engine.PoolSize, cfg.Engine.ExecTimeout, zapLogger)
	pool.Start(ctx)

	srv := server.New(db, rdb, queue, newRedis, cfg.Redis.CacheTTL, zapLogger)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	srv.Routes(ginEngine)

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: ginEngine}
	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP shutdown failed", zap.Error(err))
	}
	pool.Wait()
	if err := queue.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Queue shutdown failed", zap.Error(err))
	}
	pub.Close()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			zapLogger.Error("Kafka sink close failed", zap.Error(err))
		}
	}
	zapLogger.Info("Shutdown complete")
}

// buildVenues maps venue configuration into router venues. With no venues
// configured, two reference venues with distinct fee schedules and depths are
// used so the router always has competition.
func buildVenues(configs []config.VenueConfig) []*router.Venue {
	if len(configs) == 0 {
		configs = []config.VenueConfig{
			{
				Name:    "RAYDIUM",
				FeeRate: 0.003,
				Pools: map[string]config.PoolConfig{
					"USDC-SOL": {ReserveIn: 1_000_000, ReserveOut: 10_000},
				},
				Default: config.PoolConfig{ReserveIn: 1_000_000, ReserveOut: 1_000_000},
			},
			{
				Name:    "METEORA",
				FeeRate: 0.002,
				Pools: map[string]config.PoolConfig{
					"USDC-SOL": {ReserveIn: 500_000, ReserveOut: 5_000},
				},
				Default: config.PoolConfig{ReserveIn: 1_000_000, ReserveOut: 1_000_000},
			},
		}
	}

	venues := make([]*router.Venue, 0, len(configs))
	for _, vc := range configs {
		pools := make(map[string]router.PoolReserves, len(vc.Pools))
		for pair, pc := range vc.Pools {
			// viper lower-cases map keys; pool lookup keys are upper-case
			pools[strings.ToUpper(pair)] = router.PoolReserves{
				ReserveIn:  decimal.NewFromFloat(pc.ReserveIn),
				ReserveOut: decimal.NewFromFloat(pc.ReserveOut),
			}
		}
		venues = append(venues, router.NewVenue(router.VenueParams{
			Name:    vc.Name,
			FeeRate: decimal.NewFromFloat(vc.FeeRate),
			Pools:   pools,
			DefaultReserves: router.PoolReserves{
				ReserveIn:  decimal.NewFromFloat(vc.Default.ReserveIn),
				ReserveOut: decimal.NewFromFloat(vc.Default.ReserveOut),
			},
		}))
	}
	return venues
}

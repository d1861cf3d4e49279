package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"wallet_ledger/internal/api"
	"wallet_ledger/internal/casino"
	"wallet_ledger/internal/config"
	"wallet_ledger/internal/events"
	"wallet_ledger/internal/logger"
	"wallet_ledger/internal/metrics"
	"wallet_ledger/internal/otp"
	"wallet_ledger/internal/requests"
	"wallet_ledger/internal/wallet"
)

func main() {

	if err := godotenv.Load(); err != nil {
		fmt.Println("Error loading .env file", err)
	}

	cfg := config.Load()

	if cfg.LogFile != "" {
		if err := logger.InitWithFile(cfg.LogFile, cfg.LogLevel, cfg.LogFormat); err != nil {
			fmt.Println("Failed to open log file", err)
			os.Exit(1)
		}
	} else {
		logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DBConnStr), &gorm.Config{
		Logger: logger.NewGormLogger(),
	})
	if err != nil {
		logger.Fatal(ctx).Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(append(wallet.Models(), &otp.AuthCode{})...); err != nil {
		logger.Fatal(ctx).Err(err).Msg("failed to migrate database")
	}

	collector := metrics.NewCollector()
	walletOpts := []wallet.Option{
		wallet.WithLockTimeout(cfg.LockTimeout),
		wallet.WithMetrics(collector),
	}

	if cfg.KafkaBrokers != "" {
		writer := events.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer writer.Close()
		walletOpts = append(walletOpts, wallet.WithPublisher(events.NewKafkaPublisher(writer)))
		logger.Info(ctx).Str("topic", cfg.KafkaTopic).Msg("publishing ledger entries to kafka")
	}

	casinoOpts := []casino.Option{casino.WithRoundTTL(cfg.MinesRoundTTL)}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal(ctx).Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		casinoOpts = append(casinoOpts, casino.WithRoundStore(casino.NewRedisRoundStore(rdb)))
	}

	walletService := wallet.NewService(db, wallet.NewWalletRepositoryImpl(db), walletOpts...)
	codes := otp.NewStore(db, cfg.OTPTTL)
	requestService := requests.NewService(walletService, requests.NewRequestRepository(db), codes)
	engine := casino.NewEngine(walletService, casino.NewBetRepository(db), casinoOpts...)

	go codes.RunPurger(ctx, time.Minute)
	go engine.RunExpirer(ctx, time.Minute)

	metricsServer := collector.NewServer(cfg.MetricsPort, func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	})

	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware())
	api.NewHandler(walletService, requestService, engine, codes, api.NewTokens(cfg.JWTSecret)).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx).Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		logger.Info(ctx).Str("port", cfg.HTTPPort).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx).Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx).Err(err).Msg("http server shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx).Err(err).Msg("metrics server shutdown")
	}
}

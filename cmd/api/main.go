package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"payout/internal/cache"
	"payout/internal/config"
	"payout/internal/domain"
	httphandler "payout/internal/handler/http"
	"payout/internal/logger"
	"payout/internal/metrics"
	"payout/internal/port"
	"payout/internal/provider/flip"
	"payout/internal/provider/midtrans"
	"payout/internal/repository/memory"
	"payout/internal/repository/migration"
	"payout/internal/repository/postgresql"
	"payout/internal/service"
)

const midtransTestReference = "test-reference"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatal("failed to build logger: ", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orders, closeStore, err := openOrderStore(cfg.DB, lg)
	if err != nil {
		lg.Fatal("failed to open order store", zap.Error(err))
	}
	defer closeStore()

	bankCache, closeCache, err := openBankCache(ctx, cfg.Redis, lg)
	if err != nil {
		lg.Fatal("failed to open bank cache", zap.Error(err))
	}
	defer closeCache()

	flipProvider := flip.New(flip.Config{
		SecretKey:    cfg.Flip.SecretKey,
		Environment:  domain.Environment(cfg.Flip.Environment),
		BaseURL:      cfg.Flip.BaseURL,
		Timeout:      cfg.Flip.Timeout,
		BankCacheTTL: cfg.Flip.BankCacheTTL,
		RateLimit:    cfg.Flip.RateLimit,
	}, bankCache, m, lg)

	midtransProvider := midtrans.New(midtrans.Config{
		DisbursementKey: cfg.Midtrans.DisbursementKey,
		Environment:     domain.Environment(cfg.Midtrans.Environment),
		BaseURL:         cfg.Midtrans.BaseURL,
		Timeout:         cfg.Midtrans.Timeout,
		RateLimit:       cfg.Midtrans.RateLimit,
	}, m, lg)

	if cfg.Flip.SecretKey == "" {
		lg.Warn("flip secret key not set, flip disbursements will be rejected upstream")
	}
	if cfg.Midtrans.DisbursementKey == "" {
		lg.Warn("midtrans disbursement key not set, midtrans disbursements will be rejected upstream")
	}

	disbursements := service.NewDisbursementService(orders, []port.PayoutProvider{flipProvider, midtransProvider}, lg, m)

	webhooks := []port.WebhookService{
		service.NewWebhookService(service.WebhookConfig{
			Provider:      domain.ProviderFlip,
			Parser:        flip.NewWebhookParser(),
			RequireToken:  true,
			CallbackToken: cfg.Flip.CallbackToken,
		}, orders, lg, m),
		service.NewWebhookService(service.WebhookConfig{
			Provider:            domain.ProviderMidtrans,
			Parser:              midtrans.NewWebhookParser(),
			StrictNotFound:      true,
			TestReferenceMarker: midtransTestReference,
		}, orders, lg, m),
	}

	h := httphandler.NewHandler(disbursements, webhooks, orders, cfg.Token.AuthToken, lg, m)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Routes(reg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openOrderStore(cfg config.DBConfig, lg *zap.Logger) (port.OrderRepository, func(), error) {
	if cfg.DatabaseURL == "" {
		lg.Warn("database url not set, using in-memory order store")
		return memory.NewOrderRepository(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnection)
	db.SetMaxIdleConns(cfg.MaxIdleConnection)
	db.SetConnMaxLifetime(cfg.ConnectionLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if cfg.Migrate {
		if err := migration.RunMigrations(db, lg); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return postgresql.NewOrderRepository(db), func() { _ = db.Close() }, nil
}

func openBankCache(ctx context.Context, cfg config.RedisConfig, lg *zap.Logger) (port.BankCache, func(), error) {
	if cfg.Addr == "" {
		return cache.NewMemoryBankCache(), func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		UseTLS:   cfg.TLS,
	})
	if err != nil {
		return nil, nil, err
	}
	lg.Info("bank list cache on redis", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLS))
	return cache.NewRedisBankCache(client, ""), func() { _ = client.Close() }, nil
}

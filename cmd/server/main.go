package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tavari/mail-engine/internal/api"
	"github.com/tavari/mail-engine/internal/config"
	"github.com/tavari/mail-engine/internal/pkg/logger"
	"github.com/tavari/mail-engine/internal/repository/postgres"
	"github.com/tavari/mail-engine/internal/service/campaign"
	"github.com/tavari/mail-engine/internal/service/sending"
	"github.com/tavari/mail-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	guard, err := worker.NewRateGuardFromURL(cfg.Redis.URL,
		cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, cfg.RateLimit.DailyQuota)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer guard.Close()

	sender, err := buildSender(cfg)
	if err != nil {
		log.Fatalf("configure sender: %v", err)
	}

	campaignRepo := postgres.NewCampaignRepo(db)
	queueStore := postgres.NewQueueStore(db)
	contactRepo := postgres.NewContactRepo(db)
	campaigns := campaign.NewService(campaignRepo, queueStore, contactRepo)

	dispatcher := worker.NewDispatcher(queueStore, campaignRepo, campaigns, guard, sender,
		worker.DispatcherConfig{
			Retry: worker.RetryPolicy{
				BaseDelay:  cfg.Retry.BaseDelay(),
				MaxDelay:   cfg.Retry.MaxDelay(),
				MaxRetries: cfg.Retry.MaxRetries,
			},
			AttemptTimeout: cfg.Dispatch.AttemptTimeout(),
		})
	pool := worker.NewPool(dispatcher, cfg.Dispatch.NumWorkers, cfg.Dispatch.BatchSize, cfg.Dispatch.PollInterval())
	pool.Start()

	recoveryCtx, cancelRecovery := context.WithCancel(context.Background())
	recovery := worker.NewQueueRecoveryWorker(queueStore, cfg.Retry.MaxRetries)
	go recovery.Start(recoveryCtx)

	handlers := api.NewHandlers(campaigns, pool)
	server := api.NewServer(handlers)

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(cfg.Server.Addr()); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down")
	cancelRecovery()
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func buildSender(cfg *config.Config) (sending.Sender, error) {
	switch cfg.Dispatch.DefaultESP {
	case "mailgun":
		if cfg.Mailgun.APIKey == "" || cfg.Mailgun.Domain == "" {
			return nil, fmt.Errorf("mailgun credentials are required for esp %q", cfg.Dispatch.DefaultESP)
		}
		return worker.NewMailgunSender(cfg.Mailgun.APIKey, cfg.Mailgun.Domain), nil
	case "ses", "":
		return worker.NewSESSender(context.Background(), cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	default:
		return nil, fmt.Errorf("unknown esp %q", cfg.Dispatch.DefaultESP)
	}
}

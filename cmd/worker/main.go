// Dispatch-only process: runs the worker pool and queue recovery without the
// HTTP API. Useful for scaling send throughput independently of the API tier.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

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

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		log.Fatalf("ping database: %v", err)
	}

	guard, err := worker.NewRateGuardFromURL(cfg.Redis.URL,
		cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, cfg.RateLimit.DailyQuota)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer guard.Close()

	var sender sending.Sender
	if cfg.Dispatch.DefaultESP == "mailgun" {
		sender = worker.NewMailgunSender(cfg.Mailgun.APIKey, cfg.Mailgun.Domain)
	} else {
		sender, err = worker.NewSESSender(context.Background(), cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
		if err != nil {
			log.Fatalf("configure ses: %v", err)
		}
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

	logger.Info("dispatch worker running",
		"workers", cfg.Dispatch.NumWorkers, "batch_size", cfg.Dispatch.BatchSize)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down")
	cancelRecovery()
	pool.Stop()
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"alert-service/internal/api"
	"alert-service/internal/config"
	"alert-service/internal/db"
	"alert-service/internal/kafka"
	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/providers"
	"alert-service/internal/scheduler"
	"alert-service/internal/services"
	"alert-service/internal/vitals"
	"alert-service/pkg/sms"
)

// cardChannel is a card adapter usable by both the orchestrator and the
// vitals notifier.
type cardChannel interface {
	services.CardSender
	vitals.CardSender
}

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	dbConn, err := db.New(cfg.DB.DSN, db.Options{
		LockTimeout:              cfg.DB.LockTimeout,
		StatementTimeout:         cfg.DB.StatementTimeout,
		IdleInTransactionTimeout: cfg.DB.IdleInTransactionTimeout,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()

	translator, err := messages.NewTranslator()
	if err != nil {
		log.Fatalf("Failed to load message catalog: %v", err)
	}

	twilio := sms.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	smsChannel := providers.NewSMS(twilio, logger)

	var cards cardChannel
	var telegram *providers.Telegram
	switch {
	case cfg.Teams.CardFlowURL != "":
		cards = providers.NewTeams(cfg.Teams.CardFlowURL, cfg.Teams.APIKey, logger)
		logger.Info("Card channel: Teams")
	case cfg.Telegram.BotToken != "":
		telegram, err = providers.NewTelegram(cfg.Telegram.BotToken, cfg.RateLimit.TelegramRateLimiter, logger)
		if err != nil {
			log.Fatalf("Failed to init Telegram: %v", err)
		}
		cards = telegram
		logger.Info("Card channel: Telegram")
	default:
		logger.Warn("No card channel configured, alerts go out by SMS only")
	}

	var devices services.DeviceController
	if cfg.Particle.AccessToken != "" {
		devices = providers.NewParticle(cfg.Particle.APIURL, cfg.Particle.AccessToken, cfg.Particle.ProductGroup, logger)
	} else {
		logger.Warn("Particle access token not set, device commands are skipped")
	}

	var tasks scheduler.Scheduler
	switch cfg.Scheduler.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Scheduler.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Redis connection failed: %v", err)
		}
		defer rdb.Close()
		tasks = scheduler.NewRedis(rdb, cfg.Scheduler.RedisKey, cfg.Scheduler.PollInterval, logger)
	default:
		tasks = scheduler.NewMemory(logger)
	}
	logger.Infof("Scheduler backend: %s", cfg.Scheduler.Backend)

	hub := services.NewHub(logger)

	deps := services.Deps{
		DB:         dbConn,
		SMS:        smsChannel,
		Devices:    devices,
		Translator: translator,
		Scheduler:  tasks,
		Publisher:  hub,
		Cards:      cards,
	}
	svc := services.New(deps, logger, cfg)
	notifier := vitals.New(dbConn, smsChannel, cards, translator, logger, cfg)

	var wg sync.WaitGroup
	svc.Start(ctx, &wg)
	notifier.Start(ctx, &wg)

	if telegram != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			telegram.Listen(ctx, func(ctx context.Context, resp providers.CardResponse) {
				if err := svc.HandleCardResponse(ctx, services.CardResponse{MessageID: resp.MessageID, Text: resp.Text}); err != nil {
					logger.Errorf("Card response %s failed: %v", resp.MessageID, err)
				}
			})
		}()
	}

	if cfg.Kafka.Brokers != "" {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, svc, notifier, logger)
		if err != nil {
			log.Fatalf("Kafka consumer init failed: %v", err)
		}
		defer consumer.Close()
		consumer.Start(ctx, &wg)
	}

	apiKeys, err := api.ParseAPIKeys(cfg.SensorsAPI.KeysJSON)
	if err != nil {
		logger.Errorf("Sessions API disabled: %v", err)
	}
	handler := api.NewHandler(svc, notifier, dbConn, hub, logger)
	router := api.NewRouter(handler, logger, api.RouterConfig{
		PublicURL:   cfg.API.PublicURL,
		Signatures:  twilio,
		TeamsAPIKey: cfg.Teams.APIKey,
		Keys:        api.NewKeyRing(apiKeys, cfg.SensorsAPI.RatePerMinute),
	})
	if err := api.NewServer(cfg.API.Port, router, logger).Run(ctx); err != nil {
		logger.Errorf("API server failed: %v", err)
		stop()
	}

	logger.Info("Shutting down...")
	wg.Wait()
	logger.Info("Service stopped")
}

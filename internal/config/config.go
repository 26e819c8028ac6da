package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API struct {
		Port string
		// PublicURL is the externally visible base URL, used to rebuild the
		// URL Twilio signed.
		PublicURL string
	}
	DB struct {
		DSN                      string
		LockTimeout              time.Duration
		StatementTimeout         time.Duration
		IdleInTransactionTimeout time.Duration
	}
	Logging struct {
		Dir   string
		Level string
	}
	Sensors struct {
		WebhookAPIKey string
	}
	Twilio struct {
		AccountSID string
		AuthToken  string
	}
	Teams struct {
		CardFlowURL string
		APIKey      string
	}
	Telegram struct {
		BotToken string
	}
	Particle struct {
		AccessToken  string
		ProductGroup string
		APIURL       string
	}
	Alerts struct {
		StillnessReminderInterval time.Duration
	}
	Vitals struct {
		CheckInterval                  time.Duration
		DeviceDisconnectionThreshold   time.Duration
		DoorDisconnectionThreshold     time.Duration
		DisconnectionReminderThreshold time.Duration
		LowBatteryTimeout              time.Duration
		OpenDoorHeartbeatThreshold     int
		OpenDoorFollowUp               int
		SendWindowStart                string
		SendWindowEnd                  string
		Concurrency                    int
	}
	Scheduler struct {
		Backend      string
		RedisAddr    string
		RedisKey     string
		PollInterval time.Duration
	}
	Kafka struct {
		Brokers string
		Topic   string
		GroupID string
	}
	SensorsAPI struct {
		KeysJSON      string
		RatePerMinute int
	}
	RateLimit struct {
		TelegramRateLimiter int
	}
	Workers struct {
		QueueSize  int
		MaxWorkers int
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.PublicURL = strings.TrimRight(os.Getenv("PUBLIC_URL"), "/")

	cfg.DB.DSN = os.Getenv("DB_DSN")
	cfg.DB.LockTimeout = seconds("DB_LOCK_TIMEOUT_SECONDS", 15)
	cfg.DB.StatementTimeout = seconds("DB_STATEMENT_TIMEOUT_SECONDS", 15)
	cfg.DB.IdleInTransactionTimeout = seconds("DB_IDLE_IN_TRANSACTION_TIMEOUT_SECONDS", 60)

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	cfg.Sensors.WebhookAPIKey = os.Getenv("PARTICLE_WEBHOOK_API_KEY")

	cfg.Twilio.AccountSID = os.Getenv("TWILIO_SID")
	cfg.Twilio.AuthToken = os.Getenv("TWILIO_TOKEN")

	cfg.Teams.CardFlowURL = os.Getenv("TEAMS_CARD_FLOW_URL")
	cfg.Teams.APIKey = os.Getenv("TEAMS_API_KEY")

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	cfg.Particle.AccessToken = os.Getenv("PARTICLE_ACCESS_TOKEN")
	cfg.Particle.ProductGroup = os.Getenv("PARTICLE_PRODUCT_GROUP")
	cfg.Particle.APIURL = os.Getenv("PARTICLE_API_URL")

	cfg.Alerts.StillnessReminderInterval = seconds("STILLNESS_ALERT_REMINDER", 300)

	cfg.Vitals.CheckInterval = seconds("CHECK_DEVICE_DISCONNECTION_INTERVAL", 60)
	cfg.Vitals.DeviceDisconnectionThreshold = seconds("DEVICE_DISCONNECTION_THRESHOLD_SECONDS", 1800)
	cfg.Vitals.DoorDisconnectionThreshold = seconds("DOOR_DISCONNECTION_THRESHOLD_SECONDS", 1800)
	cfg.Vitals.DisconnectionReminderThreshold = seconds("DISCONNECTION_REMINDER_THRESHOLD_SECONDS", 86400)
	cfg.Vitals.LowBatteryTimeout = seconds("LOW_BATTERY_ALERT_TIMEOUT", 86400)
	cfg.Vitals.OpenDoorHeartbeatThreshold = integer("CONSECUTIVE_OPEN_DOOR_HEARTBEAT_THRESHOLD", 540)
	cfg.Vitals.OpenDoorFollowUp = integer("CONSECUTIVE_OPEN_DOOR_FOLLOW_UP", 540)
	cfg.Vitals.SendWindowStart = os.Getenv("VITALS_START_TIME")
	cfg.Vitals.SendWindowEnd = os.Getenv("VITALS_END_TIME")
	cfg.Vitals.Concurrency = integer("VITALS_CONCURRENCY", 8)

	cfg.Scheduler.Backend = os.Getenv("SCHEDULER_BACKEND")
	cfg.Scheduler.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.Scheduler.RedisKey = os.Getenv("SCHEDULER_REDIS_KEY")
	cfg.Scheduler.PollInterval = seconds("SCHEDULER_POLL_INTERVAL_SECONDS", 1)

	cfg.Kafka.Brokers = os.Getenv("KAFKA_BROKERS")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	cfg.SensorsAPI.KeysJSON = os.Getenv("SENSORS_API_KEYS")
	cfg.SensorsAPI.RatePerMinute = integer("SENSORS_API_RATE_LIMIT", 600)

	cfg.RateLimit.TelegramRateLimiter = integer("TELEGRAM_RATE_LIMIT", 20)

	cfg.Workers.QueueSize = integer("WORKER_QUEUE_SIZE", 100)
	cfg.Workers.MaxWorkers = integer("MAX_WORKERS", 4)

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Sensors.WebhookAPIKey == "" {
		missing = append(missing, "PARTICLE_WEBHOOK_API_KEY")
	}
	if cfg.Scheduler.Backend == "redis" && cfg.Scheduler.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Apply defaults
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Particle.APIURL == "" {
		cfg.Particle.APIURL = "https://api.particle.io"
	}
	if cfg.Vitals.SendWindowStart == "" {
		cfg.Vitals.SendWindowStart = "00:00"
	}
	if cfg.Vitals.SendWindowEnd == "" {
		cfg.Vitals.SendWindowEnd = "23:59"
	}
	if cfg.Scheduler.Backend == "" {
		cfg.Scheduler.Backend = "memory"
	}
	if cfg.Scheduler.RedisKey == "" {
		cfg.Scheduler.RedisKey = "alert-service:scheduled-tasks"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "alert-service"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "sensor-events"
	}

	return cfg, nil
}

func integer(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func seconds(key string, def int) time.Duration {
	return time.Duration(integer(key, def)) * time.Second
}

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Slots         SlotsConfig
	Booking       BookingConfig
	Quota         QuotaConfig
	Waitlist      WaitlistConfig
	Notifications NotificationsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SlotsConfig tunes slot listing and the slot cache.
type SlotsConfig struct {
	CacheEnabled    bool
	CacheTTL        time.Duration
	DefaultDuration int
	MaxLookaheadDay int
}

// BookingConfig governs appointment defaults and limits.
type BookingConfig struct {
	DefaultDurationMinutes int
	MaxDurationMinutes     int
	MaxBatchSize           int
}

// QuotaConfig defines the monthly quota policy per service level.
type QuotaConfig struct {
	Level1MonthlyCap       int
	Level1AutoApproveLimit int
}

// WaitlistConfig bounds waitlist maintenance batches.
type WaitlistConfig struct {
	MaxBatchSize int
}

// NotificationsConfig configures the outbox dispatcher.
type NotificationsConfig struct {
	Enabled           bool
	WorkerConcurrency int
	WorkerRetries     int
	SendTimeout       time.Duration
	PollInterval      time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Slots = SlotsConfig{
		CacheEnabled:    v.GetBool("SLOTS_CACHE_ENABLED"),
		CacheTTL:        parseDuration(v.GetString("SLOTS_CACHE_TTL"), 2*time.Minute),
		DefaultDuration: v.GetInt("SLOTS_DEFAULT_DURATION"),
		MaxLookaheadDay: v.GetInt("SLOTS_MAX_LOOKAHEAD_DAYS"),
	}

	cfg.Booking = BookingConfig{
		DefaultDurationMinutes: v.GetInt("BOOKING_DEFAULT_DURATION"),
		MaxDurationMinutes:     v.GetInt("BOOKING_MAX_DURATION"),
		MaxBatchSize:           v.GetInt("BOOKING_MAX_BATCH_SIZE"),
	}

	cfg.Quota = QuotaConfig{
		Level1MonthlyCap:       v.GetInt("QUOTA_LEVEL1_MONTHLY_CAP"),
		Level1AutoApproveLimit: v.GetInt("QUOTA_LEVEL1_AUTO_APPROVE_LIMIT"),
	}

	cfg.Waitlist = WaitlistConfig{
		MaxBatchSize: v.GetInt("WAITLIST_MAX_BATCH_SIZE"),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:           v.GetBool("NOTIFICATIONS_ENABLED"),
		WorkerConcurrency: v.GetInt("NOTIFICATIONS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("NOTIFICATIONS_WORKER_RETRIES"),
		SendTimeout:       parseDuration(v.GetString("NOTIFICATIONS_SEND_TIMEOUT"), 5*time.Second),
		PollInterval:      parseDuration(v.GetString("NOTIFICATIONS_POLL_INTERVAL"), 15*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "booking_api")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SLOTS_CACHE_ENABLED", true)
	v.SetDefault("SLOTS_CACHE_TTL", "2m")
	v.SetDefault("SLOTS_DEFAULT_DURATION", 30)
	v.SetDefault("SLOTS_MAX_LOOKAHEAD_DAYS", 90)

	v.SetDefault("BOOKING_DEFAULT_DURATION", 30)
	v.SetDefault("BOOKING_MAX_DURATION", 240)
	v.SetDefault("BOOKING_MAX_BATCH_SIZE", 2000)

	v.SetDefault("QUOTA_LEVEL1_MONTHLY_CAP", 4)
	v.SetDefault("QUOTA_LEVEL1_AUTO_APPROVE_LIMIT", 2)

	v.SetDefault("WAITLIST_MAX_BATCH_SIZE", 2000)

	v.SetDefault("NOTIFICATIONS_ENABLED", true)
	v.SetDefault("NOTIFICATIONS_WORKER_CONCURRENCY", 2)
	v.SetDefault("NOTIFICATIONS_WORKER_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_SEND_TIMEOUT", "5s")
	v.SetDefault("NOTIFICATIONS_POLL_INTERVAL", "15s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

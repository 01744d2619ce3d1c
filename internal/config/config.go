package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Broadcast BroadcastConfig
	Game      GameConfig
	Reveal    RevealConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Environment    string // "development", "production", "test"
	Debug          bool
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

const (
	BroadcastDriverRedis  = "redis"
	BroadcastDriverNATS   = "nats"
	BroadcastDriverMemory = "memory"
)

// BroadcastConfig selects the advisory start_spin channel.
type BroadcastConfig struct {
	Driver  string
	NATSURL string
}

type GameConfig struct {
	RankMaxAttempts  int
	CardChoices      int
	JoinRateLimit    int64
	JoinRateWindow   time.Duration
	FeedReconnectMax time.Duration
	// Games untouched for StaleAfter are finished by the sweeper, which runs
	// on SweepSchedule (cron syntax, "@every" accepted).
	StaleAfter    time.Duration
	SweepSchedule string
}

type RevealConfig struct {
	ProfilePath string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

var loadDotEnv = func() error {
	return loadDotEnvFrom()
}

// loadDotEnvFrom never overrides variables already present in the process.
func loadDotEnvFrom(files ...string) error {
	return godotenv.Load(files...)
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			Environment:    getEnv("APP_ENV", "development"),
			Debug:          getEnvBool("DEBUG", false),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "bingo"),
			Password: getEnv("DB_PASSWORD", "bingo"),
			DBName:   getEnv("DB_NAME", "bingohall"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Broadcast: BroadcastConfig{
			Driver:  strings.ToLower(getEnvNonEmpty("BROADCAST_DRIVER", BroadcastDriverRedis)),
			NATSURL: getEnvNonEmpty("NATS_URL", "nats://127.0.0.1:4222"),
		},
		Game: GameConfig{
			RankMaxAttempts:  getEnvInt("RANK_MAX_ATTEMPTS", 10),
			CardChoices:      getEnvInt("CARD_CHOICES", 3),
			JoinRateLimit:    int64(getEnvInt("JOIN_RATE_LIMIT", 30)),
			JoinRateWindow:   getEnvDuration("JOIN_RATE_WINDOW", time.Minute),
			FeedReconnectMax: getEnvDuration("CHANGE_FEED_RECONNECT_MAX", 30*time.Second),
			StaleAfter:       getEnvDuration("GAME_STALE_AFTER", 12*time.Hour),
			SweepSchedule:    getEnvNonEmpty("GAME_SWEEP_SCHEDULE", "@every 10m"),
		},
		Reveal: RevealConfig{
			ProfilePath: getEnv("REVEAL_PROFILE_PATH", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Broadcast.Driver {
	case BroadcastDriverRedis, BroadcastDriverNATS, BroadcastDriverMemory:
	default:
		return fmt.Errorf("unknown BROADCAST_DRIVER %q", c.Broadcast.Driver)
	}
	if c.Game.RankMaxAttempts < 1 {
		return fmt.Errorf("RANK_MAX_ATTEMPTS must be at least 1")
	}
	if c.Game.CardChoices < 1 || c.Game.CardChoices > 10 {
		return fmt.Errorf("CARD_CHOICES must be between 1 and 10")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvNonEmpty(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		if strings.TrimSpace(value) != "" {
			return value
		}
		return defaultValue
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValues []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return defaultValues
		}
		parts := strings.Split(trimmed, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			item := strings.TrimSpace(part)
			if item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return defaultValues
}

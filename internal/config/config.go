package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	pkgcfg "github.com/Skotchmaster/football_stats/pkg/config"
)

const DefaultSecretKey = "football-stats-super-secret-key-change-in-production"

type Config struct {
	HTTPAddr string
	LogLevel string

	DatabaseURL   string
	DBAutoMigrate bool

	SecretKey     []byte
	Algorithm     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	BcryptCost    int
	SweepSchedule string

	RedisURL        string
	LoginRateLimit  int
	LoginRateWindow time.Duration

	KafkaBrokers    []string
	UserEventsTopic string

	ESURL        string
	ESUser       string
	ESPassword   string
	ESUsersIndex string

	CORSOrigins []string
}

// Load reads .env (when present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("notice: .env not loaded: %v", err)
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		HTTPAddr: pkgcfg.EnvDefault("HTTP_ADDR", ":8000"),
		LogLevel: pkgcfg.EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBAutoMigrate: pkgcfg.EnvBoolDefault("DB_AUTO_MIGRATE", false),

		SecretKey:     []byte(pkgcfg.EnvDefault("SECRET_KEY", DefaultSecretKey)),
		Algorithm:     strings.ToUpper(pkgcfg.EnvDefault("ALGORITHM", "HS256")),
		AccessTTL:     time.Duration(positive(pkgcfg.EnvIntDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30), 30)) * time.Minute,
		RefreshTTL:    time.Duration(positive(pkgcfg.EnvIntDefault("REFRESH_TOKEN_EXPIRE_DAYS", 30), 30)) * 24 * time.Hour,
		ResetTTL:      time.Duration(positive(pkgcfg.EnvIntDefault("PASSWORD_RESET_EXPIRE_MINUTES", 60), 60)) * time.Minute,
		BcryptCost:    pkgcfg.EnvIntDefault("BCRYPT_COST", bcrypt.DefaultCost),
		SweepSchedule: pkgcfg.EnvDefault("SWEEP_SCHEDULE", "@every 24h"),

		RedisURL:        os.Getenv("REDIS_URL"),
		LoginRateLimit:  positive(pkgcfg.EnvIntDefault("LOGIN_RATE_LIMIT", 10), 10),
		LoginRateWindow: pkgcfg.EnvDurationDefault("LOGIN_RATE_WINDOW", time.Minute),

		KafkaBrokers:    pkgcfg.CSV(os.Getenv("KAFKA_BROKERS")),
		UserEventsTopic: pkgcfg.EnvDefault("KAFKA_USER_EVENTS_TOPIC", "user_events"),

		ESURL:        os.Getenv("ES_URL"),
		ESUser:       os.Getenv("ES_USER"),
		ESPassword:   os.Getenv("ES_PASSWORD"),
		ESUsersIndex: pkgcfg.EnvDefault("ES_USERS_INDEX", "users"),

		CORSOrigins: pkgcfg.CSV(pkgcfg.EnvDefault("CORS_ORIGINS", "*")),
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing required env DATABASE_URL")
	}
	if c.LoginRateLimit <= 0 || c.LoginRateWindow <= 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT and LOGIN_RATE_WINDOW must be positive")
	}
	switch c.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported ALGORITHM %q", c.Algorithm)
	}
	return nil
}

func (c Config) UsesDefaultSecret() bool {
	return string(c.SecretKey) == DefaultSecretKey
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	JWTSecret     string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Approvals
	ApprovalValidityDays int
	FreshnessWindowDays  int

	// Outbox
	ReconcileInterval time.Duration
	ReconcileLookback time.Duration
	DispatchInterval  time.Duration
	DispatchBatchSize int
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	WebhookTimeout    time.Duration
	ClaimLease        time.Duration
	DefaultWebhookURL string
	DefaultWebhookKey string
	DefaultOpsEmail   string
	UseRedisClaimLock bool

	// Email fallback
	EmailProvider string
	EmailFrom     string
	AWSRegion     string
	AWSAccessKey  string
	AWSSecretKey  string
	AWSEndpoint   string

	// Audit
	AuditSink    string
	KafkaBrokers []string
	KafkaTopic   string

	// Cart proxy
	CommerceUpstreamURL string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "rxgate"),
		DBPort:        getEnv("DB_PORT", "5432"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		ApprovalValidityDays: getEnvAsInt("APPROVAL_VALIDITY_DAYS", 365),
		FreshnessWindowDays:  getEnvAsInt("APPROVAL_FRESHNESS_DAYS", 90),

		ReconcileInterval: getEnvAsDuration("OUTBOX_RECONCILE_INTERVAL", 2*time.Minute),
		ReconcileLookback: getEnvAsDuration("OUTBOX_RECONCILE_LOOKBACK", 7*24*time.Hour),
		DispatchInterval:  getEnvAsDuration("OUTBOX_DISPATCH_INTERVAL", 30*time.Second),
		DispatchBatchSize: getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
		MaxAttempts:       getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
		BackoffBase:       getEnvAsDuration("OUTBOX_BACKOFF_BASE", 60*time.Second),
		BackoffCap:        getEnvAsDuration("OUTBOX_BACKOFF_CAP", time.Hour),
		WebhookTimeout:    getEnvAsDuration("OUTBOX_WEBHOOK_TIMEOUT", 10*time.Second),
		ClaimLease:        getEnvAsDuration("OUTBOX_CLAIM_LEASE", 2*time.Minute),
		DefaultWebhookURL: getEnv("FULFILLMENT_WEBHOOK_URL", ""),
		DefaultWebhookKey: getEnv("FULFILLMENT_WEBHOOK_SECRET", ""),
		DefaultOpsEmail:   getEnv("OPS_EMAIL", ""),
		UseRedisClaimLock: getEnvAsBool("OUTBOX_REDIS_LOCK", true),

		EmailProvider: getEnv("EMAIL_PROVIDER", "log"),
		EmailFrom:     getEnv("EMAIL_FROM", "no-reply@rxgate.local"),
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKey:  getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpoint:   getEnv("AWS_ENDPOINT", ""),

		AuditSink:    getEnv("AUDIT_SINK", "log"),
		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:   getEnv("KAFKA_AUDIT_TOPIC", "rxgate.audit"),

		CommerceUpstreamURL: getEnv("COMMERCE_UPSTREAM_URL", "http://localhost:9000"),
	}
}

// ApprovalValidity is how long a freshly issued approval stays valid at the gates.
func (c *Config) ApprovalValidity() time.Duration {
	return time.Duration(c.ApprovalValidityDays) * 24 * time.Hour
}

// FreshnessWindow caps reorder eligibility regardless of the stored expiry.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

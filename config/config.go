package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort        string
	AppMode        string
	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	JWTSecret      string
	JWTExpiryHours int
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitTokenTTL  time.Duration

	// RingTimeout bounds how long a call may ring unanswered on either side.
	RingTimeout time.Duration
	// ConnectTimeout bounds the wait for a remote participant after the transport connects.
	ConnectTimeout time.Duration
	// ReaperGrace is added to RingTimeout before the server marks a ringing call missed.
	ReaperGrace    time.Duration
	ReaperSchedule string

	CallRateLimit int

	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string
	S3Endpoint   string
	AuditBucket  string

	// Agent settings, used by cmd/callagent.
	RegistryURL string
	GatewayURL  string
	AgentToken  string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:          getEnv("APP_PORT", "8080"),
		AppMode:          getEnv("APP_MODE", "debug"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "ringline"),
		DBPort:           getEnv("DB_PORT", "5432"),
		JWTSecret:        getEnv("JWT_SECRET", "change-me"),
		JWTExpiryHours:   getEnvAsInt("JWT_EXPIRY_HOURS", 24),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvAsInt("REDIS_DB", 0),
		LiveKitURL:       getEnv("LIVEKIT_URL", "ws://localhost:7880"),
		LiveKitAPIKey:    getEnv("LIVEKIT_API_KEY", "devkey"),
		LiveKitAPISecret: getEnv("LIVEKIT_API_SECRET", "secret"),
		LiveKitTokenTTL:  getEnvAsDuration("LIVEKIT_TOKEN_TTL", 2*time.Hour),
		RingTimeout:      getEnvAsDuration("RING_TIMEOUT", 30*time.Second),
		ConnectTimeout:   getEnvAsDuration("CONNECT_TIMEOUT", 45*time.Second),
		ReaperGrace:      getEnvAsDuration("REAPER_GRACE", 15*time.Second),
		ReaperSchedule:   getEnv("REAPER_SCHEDULE", "@every 10s"),
		CallRateLimit:    getEnvAsInt("CALL_RATE_LIMIT", 10),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		AuditBucket:      getEnv("AUDIT_BUCKET", ""),
		RegistryURL:      getEnv("REGISTRY_URL", "http://localhost:8080"),
		GatewayURL:       getEnv("GATEWAY_URL", "ws://localhost:8080/v1/ws"),
		AgentToken:       getEnv("AGENT_TOKEN", ""),
	}
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return fallback
}

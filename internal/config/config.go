package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Feeds   FeedsConfig
	Push    PushConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string
	// UpdateCooldown is the minimum delay between manual update
	// requests through the API.
	UpdateCooldown time.Duration
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Backend       string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// FeedsConfig holds source adapter configuration
type FeedsConfig struct {
	RequestTimeout time.Duration
	RateLimitDur   time.Duration
	UserAgent      string
	RedditBaseURL  string
	CreatorBaseURL string
	// UpdatePeriodMinutes is the timer period used until the user
	// saves settings of their own.
	UpdatePeriodMinutes int
}

// PushConfig holds web push notification configuration. Notifications
// are disabled when the VAPID key pair is absent.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	ContactEmail    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// Load parses flags and environment variables to build configuration
func Load() *Config {
	cfg := &Config{}

	// Define flags with defaults
	httpAddr := flag.String("http", ":8080", "HTTP server address")
	updateCooldown := flag.Duration("update-cooldown", 10*time.Second, "Minimum delay between manual update requests")
	storageBackend := flag.String("storage-backend", "memory", "Storage backend: memory or redis")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	requestTimeout := flag.Duration("request-timeout", 30*time.Second, "HTTP timeout for upstream feed requests")
	rateLimitDur := flag.Duration("rate-limit", time.Second, "Minimum delay between requests to same host")
	redditBaseURL := flag.String("reddit-base-url", "https://www.reddit.com", "Base URL for the link aggregator API")
	creatorBaseURL := flag.String("creator-base-url", "https://kemono.su", "Base URL for the creator platform API")
	updatePeriod := flag.Int("update-period", 30, "Default update period in minutes")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	// Apply environment variable overrides
	applyEnvOverrides(httpAddr, updateCooldown, storageBackend, redisAddr, requestTimeout, rateLimitDur, redditBaseURL, creatorBaseURL, updatePeriod, logLevel)

	cfg.Server = ServerConfig{
		HTTPAddr:       *httpAddr,
		UpdateCooldown: *updateCooldown,
	}

	cfg.Storage = StorageConfig{
		Backend:       *storageBackend,
		RedisAddr:     *redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisPrefix:   getEnvOrDefault("REDIS_PREFIX", "feedwatch:"),
	}

	cfg.Feeds = FeedsConfig{
		RequestTimeout:      *requestTimeout,
		RateLimitDur:        *rateLimitDur,
		UserAgent:           getEnvOrDefault("FEED_USER_AGENT", "feedwatch/1.0"),
		RedditBaseURL:       *redditBaseURL,
		CreatorBaseURL:      *creatorBaseURL,
		UpdatePeriodMinutes: *updatePeriod,
	}

	cfg.Push = PushConfig{
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		ContactEmail:    os.Getenv("VAPID_CONTACT_EMAIL"),
	}

	cfg.Logging = LoggingConfig{
		Level: *logLevel,
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func applyEnvOverrides(
	httpAddr *string,
	updateCooldown *time.Duration,
	storageBackend *string,
	redisAddr *string,
	requestTimeout *time.Duration,
	rateLimitDur *time.Duration,
	redditBaseURL *string,
	creatorBaseURL *string,
	updatePeriod *int,
	logLevel *string,
) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		*httpAddr = v
	}
	if v := os.Getenv("UPDATE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*updateCooldown = d
		}
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		*storageBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		*redisAddr = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*requestTimeout = d
		}
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*rateLimitDur = d
		}
	}
	if v := os.Getenv("REDDIT_BASE_URL"); v != "" {
		*redditBaseURL = v
	}
	if v := os.Getenv("CREATOR_BASE_URL"); v != "" {
		*creatorBaseURL = v
	}
	if v := os.Getenv("UPDATE_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*updatePeriod = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*logLevel = v
	}
}

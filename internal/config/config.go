package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for all services
type Config struct {
	// Service name
	ServiceName string

	// gRPC server port (health service)
	GRPCPort int

	// HTTP server port (healthz)
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Feed kind: "kafka" or "websocket"
	FeedKind string

	// Websocket feed URL (used when FeedKind is "websocket")
	FeedURL string

	// Kafka consumer group for the tick feed
	FeedGroup string

	// Per-worker event queue capacity
	QueueCapacity int

	// Number of pipeline workers
	Workers int

	// Starting cash for the portfolio
	InitialCapital float64

	// Largest allowed absolute position per symbol, in units
	MaxPositionSize float64

	// Drawdown fraction from the high-water mark that halts new orders
	MaxDrawdown float64

	// Venue dispatch retry ceiling
	DispatchMaxAttempts int

	// Initial backoff between dispatch attempts
	DispatchBackoff time.Duration

	// Interval between replays of queued durable finalizations
	ReconcileInterval time.Duration

	// Path to the SQLite state database
	StorePath string

	// TTL for cached portfolio snapshots
	CacheTTL time.Duration

	// Simulated venue slippage in basis points
	VenueSlippageBps float64

	// Publish terminal order events to Kafka
	PublishOrderEvents bool
}

// LoadConfig loads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first if present.
func LoadConfig(serviceName string) *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:         serviceName,
		GRPCPort:            getEnvAsInt("PORT_GRPC", 50051),
		HTTPPort:            getEnvAsInt("PORT_HTTP", 8080),
		LogLevel:            getEnvAsString("LOG_LEVEL", "info"),
		FeedKind:            getEnvAsString("FEED_KIND", "kafka"),
		FeedURL:             getEnvAsString("FEED_URL", ""),
		FeedGroup:           getEnvAsString("FEED_GROUP", "tradeloop-trader"),
		QueueCapacity:       getEnvAsInt("QUEUE_CAPACITY", 1024),
		Workers:             getEnvAsInt("WORKERS", 4),
		InitialCapital:      getEnvAsFloat("INITIAL_CAPITAL", 1_000_000),
		MaxPositionSize:     getEnvAsFloat("MAX_POSITION_SIZE", 1000),
		MaxDrawdown:         getEnvAsFloat("MAX_DRAWDOWN", 0.20),
		DispatchMaxAttempts: getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBackoff:     getEnvAsDuration("DISPATCH_BACKOFF", 100*time.Millisecond),
		ReconcileInterval:   getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second),
		StorePath:           getEnvAsString("STORE_PATH", "data/tradeloop.db"),
		CacheTTL:            getEnvAsDuration("CACHE_TTL", time.Second),
		VenueSlippageBps:    getEnvAsFloat("VENUE_SLIPPAGE_BPS", 2),
		PublishOrderEvents:  getEnvAsBool("PUBLISH_ORDER_EVENTS", false),
	}

	return cfg
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

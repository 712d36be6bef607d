package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the TWAP engine.
type Config struct {
	Port     string
	GRPCPort string
	LogLevel string
	LogJSON  bool

	// Database
	DBDriver string // "sqlite" (default) or "postgres"
	DBPath   string // sqlite file
	DBURL    string // postgres DSN

	// Batch writer
	BatchSize     int
	BatchInterval time.Duration

	// Tokens and venue
	TokensPath        string
	EscrowAddress     string
	LiquidityAddress  string
	VenueFeeBps       float64
	VenueSlippageBps  float64
	VenueLatencyMinMs int
	VenueLatencyMaxMs int
	PriceTickInterval time.Duration
	UseMockFeed       bool

	// Chain (optional): router quotes and chain time
	RPCURL             string
	RPCRateLimit       float64
	RouterAddress      string
	UseRouterQuotes    bool
	ChainTimeSync      time.Duration
	QuoteReferenceSym  string
	ChainPriceInterval time.Duration

	// Engine
	ClaimTTL          time.Duration
	MinFeePerInterval string // base units of the native asset

	// Keeper
	KeeperEnabled    bool
	KeeperInterval   time.Duration
	KeeperWorkers    int
	KeeperQueueSize  int
	KeeperAddress    string
	KeeperPrivateKey string
	RedisAddr        string // empty runs a single keeper without a lease
	RedisPassword    string
	RedisDB          int
	LeaseKey         string
	LeaseTTL         time.Duration
	MaxFailureRatio  float64
	MaxVenueP95Ms    float64
	MaxKeeperQueue   int

	// Reconciliation
	ReconcileInterval time.Duration

	// API
	JWTSecret       string
	JWTTTL          time.Duration
	NonceTTL        time.Duration
	EnableFaucet    bool
	CORSOrigins     []string
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "9090"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogJSON:  getEnvBool("LOG_JSON", false),

		DBDriver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:   getEnv("DB_PATH", "./data/twap.db"),
		DBURL:    getEnv("DATABASE_URL", ""),

		BatchSize:     getEnvInt("BATCH_SIZE", 50),
		BatchInterval: getEnvDuration("BATCH_INTERVAL", 500*time.Millisecond),

		TokensPath:        getEnv("TOKENS_PATH", "./tokens.yaml"),
		EscrowAddress:     getEnv("ESCROW_ADDRESS", "0x000000000000000000000000000000000000E5C0"),
		LiquidityAddress:  getEnv("LIQUIDITY_ADDRESS", "0x0000000000000000000000000000000000001100"),
		VenueFeeBps:       getEnvFloat("VENUE_FEE_BPS", 30),
		VenueSlippageBps:  getEnvFloat("VENUE_SLIPPAGE_BPS", 20),
		VenueLatencyMinMs: getEnvInt("VENUE_LATENCY_MIN_MS", 0),
		VenueLatencyMaxMs: getEnvInt("VENUE_LATENCY_MAX_MS", 0),
		PriceTickInterval: getEnvDuration("PRICE_TICK_INTERVAL", 2*time.Second),
		UseMockFeed:       getEnvBool("USE_MOCK_FEED", true),

		RPCURL:             getEnv("RPC_URL", ""),
		RPCRateLimit:       getEnvFloat("RPC_RATE_LIMIT", 10),
		RouterAddress:      getEnv("ROUTER_ADDRESS", "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		UseRouterQuotes:    getEnvBool("USE_ROUTER_QUOTES", false),
		ChainTimeSync:      getEnvDuration("CHAIN_TIME_SYNC", time.Minute),
		QuoteReferenceSym:  getEnv("QUOTE_REFERENCE", "USDC"),
		ChainPriceInterval: getEnvDuration("CHAIN_PRICE_INTERVAL", 30*time.Second),

		ClaimTTL:          getEnvDuration("CLAIM_TTL", 2*time.Minute),
		MinFeePerInterval: getEnv("MIN_FEE_PER_INTERVAL", "0"),

		KeeperEnabled:    getEnvBool("KEEPER_ENABLED", true),
		KeeperInterval:   getEnvDuration("KEEPER_INTERVAL", 5*time.Second),
		KeeperWorkers:    getEnvInt("KEEPER_WORKERS", 4),
		KeeperQueueSize:  getEnvInt("KEEPER_QUEUE_SIZE", 256),
		KeeperAddress:    getEnv("KEEPER_ADDRESS", "0x000000000000000000000000000000000000bEEF"),
		KeeperPrivateKey: os.Getenv("KEEPER_PRIVATE_KEY"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		LeaseKey:         getEnv("KEEPER_LEASE_KEY", "twap:keeper:leader"),
		LeaseTTL:         getEnvDuration("KEEPER_LEASE_TTL", 15*time.Second),
		MaxFailureRatio:  getEnvFloat("ALERT_MAX_FAILURE_RATIO", 0.5),
		MaxVenueP95Ms:    getEnvFloat("ALERT_MAX_VENUE_P95_MS", 5000),
		MaxKeeperQueue:   getEnvInt("ALERT_MAX_KEEPER_QUEUE", 200),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),

		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		JWTTTL:          getEnvDuration("JWT_TTL", 24*time.Hour),
		NonceTTL:        getEnvDuration("NONCE_TTL", 5*time.Minute),
		EnableFaucet:    getEnvBool("ENABLE_FAUCET", true),
		CORSOrigins:     splitAndTrim(getEnv("CORS_ORIGINS", "*")),
		RateLimitPerSec: getEnvFloat("RATE_LIMIT_PER_SEC", 20),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 40),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the process cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for sqlite")
		}
	case "postgres", "pgx":
		if c.DBURL == "" {
			return errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.UseRouterQuotes && c.RPCURL == "" {
		return errors.New("USE_ROUTER_QUOTES requires RPC_URL")
	}
	if c.ClaimTTL < 2*time.Second {
		return fmt.Errorf("CLAIM_TTL %s is too short", c.ClaimTTL)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	MarketData MarketDataConfig
	Trading    TradingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// KafkaConfig holds Kafka/Redpanda configuration
type KafkaConfig struct {
	Brokers       []string
	SignalsTopic  string
	OutcomesTopic string
	CandlesTopic  string
	HealthTopic   string
	ConsumerGroup string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// MarketDataConfig holds the upstream price feed configuration
type MarketDataConfig struct {
	PriceURL    string
	APIKey      string
	Timeout     time.Duration
	CacheMaxAge time.Duration
}

// TradingConfig holds the signal engine's trading parameters
type TradingConfig struct {
	Symbol             string
	PipValue           float64
	AccountBalance     float64
	RiskPerTradePct    float64
	DailyLossLimitPct  float64
	MaxConcurrent      int
	MinConfidence      float64
	MinRiskReward      float64
	MinBacktestTrades  int
	SignalInterval     time.Duration
	OutcomeInterval    time.Duration
	BacktestInterval   time.Duration
	CooldownDuration   time.Duration
	DedupWindow        time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8081"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "trader"),
			Password: getEnv("DB_PASSWORD", "trader5"),
			DBName:   getEnv("DB_NAME", "signal_engine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:       parseBrokers(getEnv("KAFKA_BROKERS", "localhost:19092")),
			SignalsTopic:  getEnv("KAFKA_SIGNALS_TOPIC", "trading.signals"),
			OutcomesTopic: getEnv("KAFKA_OUTCOMES_TOPIC", "trading.outcomes"),
			CandlesTopic:  getEnv("KAFKA_CANDLES_TOPIC", "marketdata.candles"),
			HealthTopic:   getEnv("KAFKA_HEALTH_TOPIC", "trading.strategy-health"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "signal-engine"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		MarketData: MarketDataConfig{
			PriceURL:    getEnv("PRICE_FEED_URL", "http://localhost:8090/v1/price"),
			APIKey:      getEnv("PRICE_FEED_API_KEY", ""),
			Timeout:     getDuration("PRICE_FEED_TIMEOUT", 10*time.Second),
			CacheMaxAge: getDuration("PRICE_CACHE_MAX_AGE", 5*time.Minute),
		},
		Trading: TradingConfig{
			Symbol:            getEnv("TRADING_SYMBOL", "XAUUSD"),
			PipValue:          getFloat("TRADING_PIP_VALUE", 0.10),
			AccountBalance:    getFloat("ACCOUNT_BALANCE", 10000),
			RiskPerTradePct:   getFloat("RISK_PER_TRADE_PCT", 1.0),
			DailyLossLimitPct: getFloat("DAILY_LOSS_LIMIT_PCT", 2.0),
			MaxConcurrent:     getInt("MAX_CONCURRENT_SIGNALS", 2),
			MinConfidence:     getFloat("MIN_CONFIDENCE", 65),
			MinRiskReward:     getFloat("MIN_RISK_REWARD", 2.0),
			MinBacktestTrades: getInt("MIN_BACKTEST_TRADES", 30),
			SignalInterval:    getDuration("SIGNAL_CYCLE_INTERVAL", 30*time.Minute),
			OutcomeInterval:   getDuration("OUTCOME_CYCLE_INTERVAL", 20*time.Second),
			BacktestInterval:  getDuration("BACKTEST_CYCLE_INTERVAL", 24*time.Hour),
			CooldownDuration:  getDuration("CIRCUIT_BREAKER_COOLDOWN", 24*time.Hour),
			DedupWindow:       getDuration("SIGNAL_DEDUP_WINDOW", 4*time.Hour),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseBrokers splits a comma-separated broker list
func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

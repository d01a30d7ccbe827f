package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds settings for the engine process.
type Config struct {
	PlanPath     string        `yaml:"plan_path"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Timezone     string        `yaml:"timezone"`
	DBPath       string        `yaml:"db_path"`

	// Binance USDT-M futures
	BinanceAPIKey    string `yaml:"binance_api_key"`
	BinanceAPISecret string `yaml:"binance_api_secret"`
	BinanceTestnet   bool   `yaml:"binance_testnet"`
	BinanceBaseURL   string `yaml:"binance_base_url"`

	// Venue call policy
	RetryAttempts int           `yaml:"retry_attempts"`
	BackoffMin    time.Duration `yaml:"backoff_min"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	RateLimit     float64       `yaml:"rate_limit"` // calls per second, 0 disables
	RateBurst     int           `yaml:"rate_burst"`

	// Notifications
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	TelegramURL    string `yaml:"telegram_url"`
	NotifyMin      string `yaml:"notify_min"` // info, warning, critical

	// Ops HTTP
	HTTPAddr  string `yaml:"http_addr"`  // empty disables
	JWTSecret string `yaml:"jwt_secret"` // signs operator tokens; empty disables mutating routes

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// Off-venue market inputs
	DominanceURL string `yaml:"dominance_url"` // empty disables
	NewsFile     string `yaml:"news_file"`     // empty disables

	// Paper trading
	DryRun         bool    `yaml:"dry_run"`
	PaperBalance   float64 `yaml:"paper_balance"`
	ReloadSchedule string  `yaml:"reload_schedule"` // cron expression in the reference zone
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		PlanPath:       "./plan.json",
		TickInterval:   30 * time.Second,
		Timezone:       "Europe/Kyiv",
		DBPath:         "./data/engine.db",
		RetryAttempts:  5,
		BackoffMin:     2 * time.Second,
		BackoffMax:     10 * time.Second,
		CallTimeout:    10 * time.Second,
		RateLimit:      10,
		RateBurst:      5,
		TelegramURL:    "https://api.telegram.org",
		NotifyMin:      "warning",
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		PaperBalance:   10000,
		ReloadSchedule: "0 0 * * *",
	}
}

// Load reads an optional YAML file named by ENGINE_CONFIG, then environment
// variables (optionally via .env), which take precedence.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.PlanPath = getEnv("PLAN_PATH", c.PlanPath)
	c.TickInterval = getEnvDuration("TICK_INTERVAL", c.TickInterval)
	c.Timezone = getEnv("ENGINE_TIMEZONE", c.Timezone)
	c.DBPath = getEnv("DB_PATH", c.DBPath)

	c.BinanceAPIKey = getEnv("BINANCE_API_KEY", c.BinanceAPIKey)
	c.BinanceAPISecret = getEnv("BINANCE_API_SECRET", c.BinanceAPISecret)
	c.BinanceTestnet = getEnvBool("BINANCE_TESTNET", c.BinanceTestnet)
	c.BinanceBaseURL = getEnv("BINANCE_BASE_URL", c.BinanceBaseURL)

	c.RetryAttempts = getEnvInt("RETRY_ATTEMPTS", c.RetryAttempts)
	c.BackoffMin = getEnvDuration("BACKOFF_MIN", c.BackoffMin)
	c.BackoffMax = getEnvDuration("BACKOFF_MAX", c.BackoffMax)
	c.CallTimeout = getEnvDuration("CALL_TIMEOUT", c.CallTimeout)
	c.RateLimit = getEnvFloat("RATE_LIMIT", c.RateLimit)
	c.RateBurst = getEnvInt("RATE_BURST", c.RateBurst)

	c.TelegramToken = getEnv("TELEGRAM_TOKEN", c.TelegramToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.TelegramURL = getEnv("TELEGRAM_URL", c.TelegramURL)
	c.NotifyMin = strings.ToLower(getEnv("NOTIFY_MIN", c.NotifyMin))

	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.LogPretty = getEnvBool("LOG_PRETTY", c.LogPretty)

	c.DominanceURL = getEnv("DOMINANCE_URL", c.DominanceURL)
	c.NewsFile = getEnv("NEWS_FILE", c.NewsFile)

	c.DryRun = getEnvBool("DRY_RUN", c.DryRun)
	c.PaperBalance = getEnvFloat("PAPER_BALANCE", c.PaperBalance)
	c.ReloadSchedule = getEnv("RELOAD_SCHEDULE", c.ReloadSchedule)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.PlanPath == "" {
		problems = append(problems, "plan path is empty")
	}
	if c.TickInterval < time.Second {
		problems = append(problems, "tick interval must be at least 1s")
	}
	if c.RetryAttempts < 1 {
		problems = append(problems, "retry attempts must be positive")
	}
	if c.BackoffMax < c.BackoffMin {
		problems = append(problems, "backoff max below min")
	}
	if !c.DryRun && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		problems = append(problems, "binance credentials missing (set DRY_RUN=true for paper trading)")
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		problems = append(problems, "telegram needs both token and chat id")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		problems = append(problems, "jwt secret must be at least 16 bytes")
	}
	switch c.NotifyMin {
	case "info", "warning", "critical":
	default:
		problems = append(problems, fmt.Sprintf("unknown notify level %q", c.NotifyMin))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

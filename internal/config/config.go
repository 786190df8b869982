package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string

	// Overrides. Empty values never match a request.
	AdminUserID  string
	VIPChannelID string

	// Database
	DatabasePath string

	// Quotas
	StandardHourlyLimit int
	GuildHourlyLimit    int
	GuildDailyLimit     int

	// Ledger eviction
	LedgerSweepInterval time.Duration

	// Cardano payments
	KoiosBaseURL         string
	PaymentWalletAddress string

	// Replicate
	ReplicateAPIToken     string
	ReplicateModelVersion string

	// Health server
	HealthAddr string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		DiscordToken:          getenv("DISCORD_BOT_TOKEN"),
		DiscordApplicationID:  getenv("DISCORD_APPLICATION_ID"),
		AdminUserID:           getenv("ADMIN_USER_ID"),
		VIPChannelID:          getenv("VIP_CHANNEL_ID"),
		DatabasePath:          get("DATABASE_PATH", "./data/bot.db"),
		KoiosBaseURL:          get("KOIOS_BASE_URL", "https://api.koios.rest/api/v1"),
		PaymentWalletAddress:  getenv("PAYMENT_WALLET_ADDRESS"),
		ReplicateAPIToken:     getenv("REPLICATE_API_TOKEN"),
		ReplicateModelVersion: getenv("REPLICATE_MODEL_VERSION"),
		HealthAddr:            get("HEALTH_ADDR", ":8080"),
		LogLevel:              get("LOG_LEVEL", "info"),
	}

	limits := []struct {
		key string
		def string
		dst *int
	}{
		{"STANDARD_HOURLY_LIMIT", "10", &cfg.StandardHourlyLimit},
		{"GUILD_HOURLY_LIMIT", "5", &cfg.GuildHourlyLimit},
		{"GUILD_DAILY_LIMIT", "25", &cfg.GuildDailyLimit},
	}
	for _, l := range limits {
		n, err := strconv.Atoi(get(l.key, l.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", l.key, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", l.key)
		}
		*l.dst = n
	}

	// Parse sweep interval
	sweepStr := get("LEDGER_SWEEP_INTERVAL_SECONDS", "600")
	sweep, err := strconv.Atoi(sweepStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_SWEEP_INTERVAL_SECONDS: %w", err)
	}
	if sweep <= 0 {
		return nil, fmt.Errorf("invalid LEDGER_SWEEP_INTERVAL_SECONDS: must be positive")
	}
	cfg.LedgerSweepInterval = time.Duration(sweep) * time.Second

	return cfg, nil
}

// Validate checks the fields the Discord bot needs to run
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if c.PaymentWalletAddress == "" {
		return fmt.Errorf("PAYMENT_WALLET_ADDRESS is required")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Database    DatabaseConfig    `mapstructure:"database"`
	AutoDeposit AutoDepositConfig `mapstructure:"autodeposit"`
	Casino      CasinoConfig      `mapstructure:"casino"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	AdminChatID    int64         `mapstructure:"admin_chat_id"`
	AdminUsers     []int64       `mapstructure:"admin_users"`
	PollingTimeout int           `mapstructure:"polling_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AutoDepositConfig is the watcher's knob set. Mailbox credentials are
// deliberately absent: they live on the active requisite record, so
// rotating payment details also rotates the monitored mailbox.
type AutoDepositConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	IMAPHost       string        `mapstructure:"imap_host"`
	Folder         string        `mapstructure:"folder"`
	Interval       time.Duration `mapstructure:"interval"`
	Idle           bool          `mapstructure:"idle"`
	Keepalive      time.Duration `mapstructure:"keepalive"`
	Window         time.Duration `mapstructure:"window"`
	PaymentWindow  time.Duration `mapstructure:"payment_window"`
	ReceiptGrace   time.Duration `mapstructure:"receipt_grace"`
	RandomizeCents bool          `mapstructure:"randomize_cents"`
}

type CasinoConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WebhookConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	JSONFormat bool   `mapstructure:"json_format"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("telegram.polling_timeout", 60)
	v.SetDefault("telegram.request_timeout", "1m")
	v.SetDefault("database.path", "./data/kassa.db")
	v.SetDefault("autodeposit.enabled", true)
	v.SetDefault("autodeposit.folder", "INBOX")
	v.SetDefault("autodeposit.interval", "60s")
	v.SetDefault("autodeposit.idle", true)
	v.SetDefault("autodeposit.keepalive", "5m")
	v.SetDefault("autodeposit.window", "15m")
	v.SetDefault("autodeposit.payment_window", "30m")
	v.SetDefault("autodeposit.receipt_grace", "10m")
	v.SetDefault("autodeposit.randomize_cents", false)
	v.SetDefault("webhook.timeout", "5s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_format", false)

	// Config file locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/kassa-bot")

	// Environment variables
	v.SetEnvPrefix("KASSA_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found is OK, use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.AdminChatID == 0 {
		return fmt.Errorf("telegram.admin_chat_id is required")
	}
	if c.AutoDeposit.Interval <= 0 {
		return fmt.Errorf("autodeposit.interval must be positive")
	}
	if c.AutoDeposit.Keepalive <= 0 {
		return fmt.Errorf("autodeposit.keepalive must be positive")
	}
	if c.AutoDeposit.Window <= 0 {
		return fmt.Errorf("autodeposit.window must be positive")
	}
	if c.AutoDeposit.PaymentWindow <= 0 {
		return fmt.Errorf("autodeposit.payment_window must be positive")
	}
	return nil
}

package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramAPIURL string `mapstructure:"telegram_api_url"`
	AdminChatID    int64  `mapstructure:"admin_chat_id"`

	DataFile        string        `mapstructure:"data_file"`
	MaxProblemSize  int           `mapstructure:"max_problem_size"`
	ProblemLifetime time.Duration `mapstructure:"problem_lifetime"`

	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	PollErrorDelay time.Duration `mapstructure:"poll_error_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RequestRetries int           `mapstructure:"request_retries"`

	BotHandleTimeout time.Duration `mapstructure:"bot_handle_timeout"`
	HandlerWorkers   int           `mapstructure:"handler_workers"`

	StatusListen string `mapstructure:"status_listen"`
	Maintenance  bool   `mapstructure:"maintenance"`
}

func New() *Config {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		logrus.Fatalf("unmarshalling config: %v", err)
	}
	if cfg.TelegramToken == "" {
		logrus.Fatalf("telegram_token is not set")
	}
	if !cfg.Maintenance && cfg.AdminChatID == 0 {
		logrus.Fatalf("admin_chat_id is not set")
	}
	if cfg.HandlerWorkers <= 0 {
		logrus.Fatalf("handler_workers must be positive, got %d", cfg.HandlerWorkers)
	}
	return cfg
}

func SetupCommon() {
	viper.SetDefault("telegram_api_url", "https://api.telegram.org")
	viper.SetDefault("data_file", "/var/lib/hok-daemon/users_data.json")
	viper.SetDefault("max_problem_size", 1024)
	viper.SetDefault("problem_lifetime", "720h")
	viper.SetDefault("poll_timeout", "30s")
	viper.SetDefault("poll_error_delay", "1s")
	viper.SetDefault("connect_timeout", "15s")
	viper.SetDefault("request_timeout", "30s")
	viper.SetDefault("request_retries", 2)
	viper.SetDefault("bot_handle_timeout", "30s")
	viper.SetDefault("handler_workers", 64)
	viper.SetDefault("status_listen", "")
	viper.SetDefault("maintenance", false)
	viper.SetEnvPrefix("HOK")

	viper.MustBindEnv("telegram_token")
	viper.MustBindEnv("admin_chat_id")
	viper.AutomaticEnv()
}

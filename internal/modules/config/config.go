package config

import (
	"os"
	"time"

	"updown_bot/internal/models"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	databaseDSNENV    = "DATABASE_DSN"
	redisAddrENV      = "REDIS_ADDR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	feedUserIDENV     = "FEED_USER_ID"
	feedUserSecretENV = "FEED_USER_SECRET"
	gatewayKeyENV     = "GATEWAY_API_KEY"
	gatewaySecretENV  = "GATEWAY_API_SECRET"
)

type Config struct {
	DB string `yaml:"db_dsn"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Feed struct {
		WSURL      string `yaml:"ws_url"`
		APIURL     string `yaml:"api_url"`
		UserID     string `yaml:"user_id"`
		UserSecret string `yaml:"user_secret"`
		// feed ID (hex) -> symbol, e.g. "0x0003...": "BTC"
		Feeds map[string]string `yaml:"feeds"`
		// plausible price band per symbol; violations are logged only
		PriceRanges map[string]models.PriceRange `yaml:"price_ranges"`
	} `yaml:"feed"`

	Gateway struct {
		ClobHost  string `yaml:"clob_host"`
		GammaHost string `yaml:"gamma_host"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"gateway"`

	Engine struct {
		// how often the runner set is re-synced with the strategy store
		SyncIntervalSeconds int           `yaml:"sync_interval_seconds"`
		SyncInterval        time.Duration `yaml:"-"`
	} `yaml:"engine"`

	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	Debug bool `yaml:"debug"`
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	config := Config{}
	config.Feed.WSURL = "wss://ws.testnet-dataengine.chain.link"
	config.Feed.APIURL = "https://api.testnet-dataengine.chain.link"
	config.Gateway.ClobHost = "https://clob.polymarket.com"
	config.Gateway.GammaHost = "https://gamma-api.polymarket.com"
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}

	if v := os.Getenv(databaseDSNENV); v != "" {
		config.DB = v
	}
	if v := os.Getenv(redisAddrENV); v != "" {
		config.Redis.Addr = v
	}
	if v := os.Getenv(tokenTelegramENV); v != "" {
		config.Telegram.Token = v
	}
	if v := os.Getenv(feedUserIDENV); v != "" {
		config.Feed.UserID = v
	}
	if v := os.Getenv(feedUserSecretENV); v != "" {
		config.Feed.UserSecret = v
	}
	if v := os.Getenv(gatewayKeyENV); v != "" {
		config.Gateway.APIKey = v
	}
	if v := os.Getenv(gatewaySecretENV); v != "" {
		config.Gateway.APISecret = v
	}
	if config.Engine.SyncIntervalSeconds > 0 {
		config.Engine.SyncInterval = time.Duration(config.Engine.SyncIntervalSeconds) * time.Second
	}
	if os.Getenv("ENGINE_SYNC_INTERVAL") != "" {
		config.Engine.SyncInterval = durationFromEnv("ENGINE_SYNC_INTERVAL", "30s")
	}
	if config.Engine.SyncInterval <= 0 {
		config.Engine.SyncInterval = 30 * time.Second
	}

	return &config, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

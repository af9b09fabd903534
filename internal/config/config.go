package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"true"`
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"passgate"`
}

// CompoundDBConfig points at the compound management MySQL database:
// units, owners, seasons, services and service payments live there.
type CompoundDBConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"true"`
	HostName string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"3306"`
	UserName string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"compound"`
	Prefix   string `yaml:"prefix" env-default:""`
}

type StripeConfig struct {
	Enabled           bool   `yaml:"enabled" env-default:"false"`
	APIKey            string `yaml:"api_key" env-default:""`
	WebhookSecret     string `yaml:"webhook_secret" env-default:""`
	TestMode          bool   `yaml:"test_mode" env-default:"false"`
	TestKey           string `yaml:"test_key" env-default:""`
	TestWebhookSecret string `yaml:"test_webhook_secret" env-default:""`
	SuccessURL        string `yaml:"success_url" env-default:""`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" env-default:"false"`
	ApiKey  string `yaml:"api_key" env-default:""`
}

// TokenConfig carries the server-side keys for opaque-code handling.
// HashKey salts the one-way lookup hash; IssuerKey derives the
// deterministic owner-pass codes. Both must stay secret and stable.
type TokenConfig struct {
	HashKey   string `yaml:"hash_key" env:"PASSGATE_HASH_KEY" env-default:""`
	IssuerKey string `yaml:"issuer_key" env:"PASSGATE_ISSUER_KEY" env-default:""`
}

type ReaperConfig struct {
	Enabled             bool `yaml:"enabled" env-default:"true"`
	IntervalMinutes     int  `yaml:"interval_minutes" env-default:"60"`
	LedgerRetentionDays int  `yaml:"ledger_retention_days" env-default:"365"`
}

type IssueLimitConfig struct {
	WindowMinutes int `yaml:"window_minutes" env-default:"60"`
	MaxPerWindow  int `yaml:"max_per_window" env-default:"30"`
}

type Config struct {
	Listen     Listen           `yaml:"listen"`
	Mongo      MongoConfig      `yaml:"mongo"`
	CompoundDB CompoundDBConfig `yaml:"compound_db"`
	Stripe     StripeConfig     `yaml:"stripe"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Token      TokenConfig      `yaml:"token"`
	Reaper     ReaperConfig     `yaml:"reaper"`
	IssueLimit IssueLimitConfig `yaml:"issue_limit"`
	Location   string           `yaml:"location" env-default:"UTC"`
	Env        string           `yaml:"env" env-default:"local"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
		if instance.Token.HashKey == "" {
			log.Fatal("config: token.hash_key is required")
		}
		if instance.Token.IssuerKey == "" {
			log.Fatal("config: token.issuer_key is required")
		}
	})
	return instance
}

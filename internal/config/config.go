package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"offerledger/pkg/amount"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Business BusinessConfig `mapstructure:"business"`
	Plans    []PlanConfig   `mapstructure:"plans"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"`
}

// DatabaseConfig driver 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // 仅 sqlite
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// 仅限开发环境，打开后签名校验失败的事件仍会被处理
	AllowUnverifiedWebhooks bool   `mapstructure:"allow_unverified_webhooks"`
	Currency                string `mapstructure:"currency"`
	SuccessURL              string `mapstructure:"success_url"`
	CancelURL               string `mapstructure:"cancel_url"`
	OnboardingRefreshURL    string `mapstructure:"onboarding_refresh_url"`
	OnboardingReturnURL     string `mapstructure:"onboarding_return_url"`
}

// AuthConfig jwt_secret 为空时信任网关注入的 X-Account-ID 头
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type BusinessConfig struct {
	PageSize              int           `mapstructure:"page_size"`
	FirstPageMaxCharge    int           `mapstructure:"first_page_max_charge"`
	AttributionShare      string        `mapstructure:"attribution_share"`
	UnlockLockTTL         time.Duration `mapstructure:"unlock_lock_ttl"`
	// 首次访问窗口：窗口内逐页收费，窗口过后整个集合免费
	FirstVisitWindow      time.Duration `mapstructure:"first_visit_window"`
	MaxRetryCount         int           `mapstructure:"max_retry_count"`
	PayoutCompensateAfter time.Duration `mapstructure:"payout_compensate_after"`
}

// ShareCents 每次归因给上传者的现金
func (b BusinessConfig) ShareCents() (amount.Cents, error) {
	return amount.ParseCents(b.AttributionShare)
}

// PlanConfig 点数套餐，ID 即支付渠道的 price id
type PlanConfig struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Credits int64  `mapstructure:"credits"`
	Mode    string `mapstructure:"mode"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger_events", "offerledger.ledger_events")

	v.SetDefault("stripe.currency", "usd")

	v.SetDefault("auth.issuer", "offerledger")

	v.SetDefault("log.level", "info")

	v.SetDefault("business.page_size", 5)
	v.SetDefault("business.first_page_max_charge", 5)
	v.SetDefault("business.attribution_share", "0.10")
	v.SetDefault("business.unlock_lock_ttl", "30s")
	v.SetDefault("business.first_visit_window", "30m")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.payout_compensate_after", "5m")

	v.SetDefault("plans", []map[string]interface{}{
		{"id": "price_1RgDedGPA4p9u1zTZGQ54PIc", "name": "Starter Pack", "credits": 50, "mode": "payment"},
		{"id": "price_1RgDg3GPA4p9u1zT6QgWE03I", "name": "Standard Pack", "credits": 100, "mode": "payment"},
	})
}

// LoadConfig 加载配置文件，configPath 为空时只用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OFFERLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 启动前校验
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}

	if c.Business.PageSize <= 0 {
		return errors.New("business.page_size 必须大于 0")
	}
	if c.Business.FirstPageMaxCharge <= 0 {
		return errors.New("business.first_page_max_charge 必须大于 0")
	}
	share, err := c.Business.ShareCents()
	if err != nil {
		return fmt.Errorf("business.attribution_share 无效: %w", err)
	}
	if share <= 0 {
		return errors.New("business.attribution_share 必须大于 0")
	}

	if len(c.Plans) == 0 {
		return errors.New("至少需要配置一个套餐")
	}
	seen := make(map[string]bool, len(c.Plans))
	for _, p := range c.Plans {
		if p.ID == "" || p.Credits <= 0 {
			return fmt.Errorf("套餐配置无效: %+v", p)
		}
		if seen[p.ID] {
			return fmt.Errorf("套餐 ID 重复: %s", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

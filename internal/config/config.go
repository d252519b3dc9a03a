package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Business BusinessConfig `mapstructure:"business"`
	Risk     RiskConfig     `mapstructure:"risk"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	WorkerID int `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Notification string `mapstructure:"notification"`
	Email        string `mapstructure:"email"`
}

// GatewayConfig 第三方支付网关（Paystack 兼容接口）
type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SecretKey      string `mapstructure:"secret_key"`
	CallbackURL    string `mapstructure:"callback_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Currency       string `mapstructure:"currency"` // ISO 4217，网关核实时必须一致
}

type BusinessConfig struct {
	DefaultFee             int64  `mapstructure:"default_fee"`
	FeeRate                string `mapstructure:"fee_rate"`
	PaymentExpiryMinutes   int    `mapstructure:"payment_expiry_minutes"`
	PaymentCooldownSeconds int    `mapstructure:"payment_cooldown_seconds"`
	StalePaymentMinutes    int    `mapstructure:"stale_payment_minutes"`
	LockTTLSeconds         int    `mapstructure:"lock_ttl_seconds"`
	TransferHourlyLimit    int    `mapstructure:"transfer_hourly_limit"`
	MaxRetryCount          int    `mapstructure:"max_retry_count"`
}

// RiskConfig 可疑交易监控阈值，金额均为最小货币单位
type RiskConfig struct {
	RapidWindowMinutes   int     `mapstructure:"rapid_window_minutes"`
	RapidCount           int     `mapstructure:"rapid_count"`
	LargeAmount          int64   `mapstructure:"large_amount"`
	RoundAmountUnit      int64   `mapstructure:"round_amount_unit"`
	SameRecipientCount   int     `mapstructure:"same_recipient_count"`
	FailureMinAttempts   int     `mapstructure:"failure_min_attempts"`
	FailureRateThreshold float64 `mapstructure:"failure_rate_threshold"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.notification", "wallet-notification")
	v.SetDefault("kafka.topic.email", "wallet-email")

	v.SetDefault("gateway.base_url", "https://api.paystack.co")
	v.SetDefault("gateway.timeout_seconds", 5)
	v.SetDefault("gateway.currency", "NGN")

	v.SetDefault("business.default_fee", 600)
	v.SetDefault("business.fee_rate", "0.10")
	v.SetDefault("business.payment_expiry_minutes", 30)
	v.SetDefault("business.payment_cooldown_seconds", 120)
	v.SetDefault("business.stale_payment_minutes", 5)
	v.SetDefault("business.lock_ttl_seconds", 30)
	v.SetDefault("business.transfer_hourly_limit", 10)
	v.SetDefault("business.max_retry_count", 5)

	v.SetDefault("risk.rapid_window_minutes", 10)
	v.SetDefault("risk.rapid_count", 5)
	v.SetDefault("risk.large_amount", 5000000)
	v.SetDefault("risk.round_amount_unit", 100000)
	v.SetDefault("risk.same_recipient_count", 3)
	v.SetDefault("risk.failure_min_attempts", 3)
	v.SetDefault("risk.failure_rate_threshold", 0.5)
}

// Load 读取配置文件，环境变量 CAMPUSWALLET_* 优先级更高。
// configPath 为空时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("campuswallet")
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
	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出进程
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	return cfg
}

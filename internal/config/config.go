package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig 聚合运行时配置：默认值 -> 可选 YAML 文件 -> 环境变量覆盖。
type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// DBDriver 取值 sqlite / postgres
	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	// Kafka 集群地址、事件 Topic、充值回调 Topic、消费者组
	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaEventTopic    string   `yaml:"kafka_event_topic"`
	KafkaRechargeTopic string   `yaml:"kafka_recharge_topic"`
	KafkaGroupID       string   `yaml:"kafka_group_id"`

	// 未支付订单的支付时限
	OrderTTL time.Duration `yaml:"order_ttl"`

	// 过期扫描：周期、单批大小、每轮最多批次、分布式锁 TTL
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepBatchSize  int           `yaml:"sweep_batch_size"`
	SweepMaxBatches int           `yaml:"sweep_max_batches"`
	SweepLockTTL    time.Duration `yaml:"sweep_lock_ttl"`

	// Outbox -> Kafka 转发
	RelayInterval    time.Duration `yaml:"relay_interval"`
	RelayBatchSize   int           `yaml:"relay_batch_size"`
	RelayMaxAttempts int           `yaml:"relay_max_attempts"`

	// 支付接口限流
	PayRateLimit  int           `yaml:"pay_rate_limit"`
	PayRateWindow time.Duration `yaml:"pay_rate_window"`

	// 议价允许的最大折扣 / 最大加价（百分比）
	MaxDiscountPercent int64 `yaml:"max_discount_percent"`
	MaxMarkupPercent   int64 `yaml:"max_markup_percent"`

	// 钱包余额上限（分）
	MaxWalletBalance int64 `yaml:"max_wallet_balance"`

	// 充值回调接口的管理员令牌（demo 级别保护）
	AdminToken string `yaml:"admin_token"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default 返回内置默认配置。
func Default() AppConfig {
	return AppConfig{
		HTTPAddr:           ":8080",
		DBDriver:           "sqlite",
		DBDSN:              "campus_market.db",
		RedisAddr:          "localhost:6379",
		RedisDB:            0,
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaEventTopic:    "campus-market-events",
		KafkaRechargeTopic: "campus-market-recharges",
		KafkaGroupID:       "campus-market-recharge-consumer",
		OrderTTL:           30 * time.Minute,
		SweepInterval:      time.Minute,
		SweepBatchSize:     100,
		SweepMaxBatches:    20,
		SweepLockTTL:       50 * time.Second,
		RelayInterval:      time.Second,
		RelayBatchSize:     50,
		RelayMaxAttempts:   8,
		PayRateLimit:       20,
		PayRateWindow:      time.Second,
		MaxDiscountPercent: 50,
		MaxMarkupPercent:   20,
		MaxWalletBalance:   100_000_000, // 100 万元
		AdminToken:         "dev-admin-token",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load 读取并校验配置。path 为空时取 CONFIG_PATH；两者都为空则跳过文件。
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", cfg.DBDriver))
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	cfg.KafkaEventTopic = getEnv("KAFKA_EVENT_TOPIC", cfg.KafkaEventTopic)
	cfg.KafkaRechargeTopic = getEnv("KAFKA_RECHARGE_TOPIC", cfg.KafkaRechargeTopic)
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", cfg.AdminToken)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.SweepBatchSize, err = getEnvInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize); err != nil {
		return fmt.Errorf("invalid SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.SweepMaxBatches, err = getEnvInt("SWEEP_MAX_BATCHES", cfg.SweepMaxBatches); err != nil {
		return fmt.Errorf("invalid SWEEP_MAX_BATCHES: %w", err)
	}
	if cfg.RelayBatchSize, err = getEnvInt("RELAY_BATCH_SIZE", cfg.RelayBatchSize); err != nil {
		return fmt.Errorf("invalid RELAY_BATCH_SIZE: %w", err)
	}
	if cfg.RelayMaxAttempts, err = getEnvInt("RELAY_MAX_ATTEMPTS", cfg.RelayMaxAttempts); err != nil {
		return fmt.Errorf("invalid RELAY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.PayRateLimit, err = getEnvInt("PAY_RATE_LIMIT", cfg.PayRateLimit); err != nil {
		return fmt.Errorf("invalid PAY_RATE_LIMIT: %w", err)
	}
	if cfg.MaxDiscountPercent, err = getEnvInt64("MAX_DISCOUNT_PERCENT", cfg.MaxDiscountPercent); err != nil {
		return fmt.Errorf("invalid MAX_DISCOUNT_PERCENT: %w", err)
	}
	if cfg.MaxMarkupPercent, err = getEnvInt64("MAX_MARKUP_PERCENT", cfg.MaxMarkupPercent); err != nil {
		return fmt.Errorf("invalid MAX_MARKUP_PERCENT: %w", err)
	}
	if cfg.MaxWalletBalance, err = getEnvInt64("MAX_WALLET_BALANCE", cfg.MaxWalletBalance); err != nil {
		return fmt.Errorf("invalid MAX_WALLET_BALANCE: %w", err)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ORDER_TTL", &cfg.OrderTTL},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
		{"SWEEP_LOCK_TTL", &cfg.SweepLockTTL},
		{"RELAY_INTERVAL", &cfg.RelayInterval},
		{"PAY_RATE_WINDOW", &cfg.PayRateWindow},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}
	return nil
}

// Validate 校验取值范围。
func (c AppConfig) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("DB_DSN must not be empty")
	}
	if c.OrderTTL <= 0 {
		return errors.New("ORDER_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be > 0")
	}
	if c.SweepBatchSize <= 0 {
		return errors.New("SWEEP_BATCH_SIZE must be > 0")
	}
	if c.SweepMaxBatches <= 0 {
		return errors.New("SWEEP_MAX_BATCHES must be > 0")
	}
	if c.RelayInterval <= 0 || c.RelayBatchSize <= 0 || c.RelayMaxAttempts <= 0 {
		return errors.New("RELAY_* settings must be > 0")
	}
	if c.PayRateLimit <= 0 {
		return errors.New("PAY_RATE_LIMIT must be > 0")
	}
	if c.PayRateWindow < time.Second {
		return errors.New("PAY_RATE_WINDOW must be >= 1s")
	}
	if c.MaxDiscountPercent < 0 || c.MaxDiscountPercent >= 100 {
		return errors.New("MAX_DISCOUNT_PERCENT must be in [0,100)")
	}
	if c.MaxMarkupPercent < 0 {
		return errors.New("MAX_MARKUP_PERCENT must be >= 0")
	}
	if c.MaxWalletBalance <= 0 {
		return errors.New("MAX_WALLET_BALANCE must be > 0")
	}
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS must not be empty")
	}
	if c.KafkaEventTopic == "" || c.KafkaRechargeTopic == "" || c.KafkaGroupID == "" {
		return errors.New("KAFKA topics and group must not be empty")
	}
	return nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// getEnvDuration 接受 Go duration 字符串（如 90s、30m）。
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

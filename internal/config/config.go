package config

import (
	"fmt"
	"strings"

	"github.com/cvlens-pay/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Log      LogConfig         `mapstructure:"log"`
	Database DatabaseConfig    `mapstructure:"database"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Queue    QueueConfig       `mapstructure:"queue"`
	CORS     CORSConfig        `mapstructure:"cors"`
	Security SecurityConfig    `mapstructure:"security"`
	Email    EmailConfig       `mapstructure:"email"`
	Payment  PaymentConfig     `mapstructure:"payment"`
	Report   ReportConfig      `mapstructure:"report"`
	Delivery DeliveryConfig    `mapstructure:"delivery"`
	Secrets  map[string]string `mapstructure:"secrets"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
		Service:    "cvlens-pay",
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // sqlite / postgres / memory
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	InitiateRateLimit RateLimitConfig `mapstructure:"initiate_rate_limit"`
	StatusRateLimit   RateLimitConfig `mapstructure:"status_rate_limit"`
}

// RateLimitConfig 接口限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// EmailConfig 邮件服务配置
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
	UseSSL   bool   `mapstructure:"use_ssl"`
	// TimeoutSeconds 单封邮件的最长发送时间
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// PaymentConfig 支付网关配置
type PaymentConfig struct {
	TimeoutSeconds      int                      `mapstructure:"timeout_seconds"`
	AntiPhishingKey     string                   `mapstructure:"anti_phishing_key"`
	FallbackAmount      string                   `mapstructure:"fallback_amount"`
	AllowFallbackAmount bool                     `mapstructure:"allow_fallback_amount"`
	StatusCacheSeconds  int                      `mapstructure:"status_cache_seconds"`
	MBWay               PaymentGatewayConfig     `mapstructure:"mbway"`
	Multibanco          PaymentGatewayConfig     `mapstructure:"multibanco"`
	Payshop             PaymentGatewayConfig     `mapstructure:"payshop"`
	Description         PaymentDescriptionConfig `mapstructure:"description"`
}

// PaymentGatewayConfig 单个支付方式配置
type PaymentGatewayConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Key        string `mapstructure:"key"`
	BaseURL    string `mapstructure:"base_url"`
	ExpiryDays int    `mapstructure:"expiry_days"`
}

// PaymentDescriptionConfig 支付描述默认值
type PaymentDescriptionConfig struct {
	Default string `mapstructure:"default"`
}

// ReportConfig 报告生成服务配置
type ReportConfig struct {
	GeneratorURL   string `mapstructure:"generator_url"`
	AuthToken      string `mapstructure:"auth_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Filename       string `mapstructure:"filename"`
}

// DeliveryConfig 报告交付配置
type DeliveryConfig struct {
	LeaseSeconds         int    `mapstructure:"lease_seconds"`
	RetryDelaySeconds    int    `mapstructure:"retry_delay_seconds"`
	MaxRetries           int    `mapstructure:"max_retries"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"` // worker 定期补发间隔，0 表示关闭
	Subject              string `mapstructure:"subject"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	// .env 仅用于本地开发，缺失不影响启动
	if err := godotenv.Load(); err == nil {
		logger.Infow("config_dotenv_loaded", "file", ".env")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./etc")
	v.AddConfigPath("../") // 从 cmd/server 运行

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // payment.anti_phishing_key -> PAYMENT_ANTI_PHISHING_KEY

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "cvlens-pay.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/cvlens-pay.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "cvpay")
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.queues", map[string]int{"default": 1})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"X-Requested-With",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.initiate_rate_limit.window_seconds", 60)
	v.SetDefault("security.initiate_rate_limit.max_requests", 10)
	v.SetDefault("security.status_rate_limit.window_seconds", 60)
	v.SetDefault("security.status_rate_limit.max_requests", 60)
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("email.timeout_seconds", 60)
	// 空字符串默认值让 viper.Unmarshal 能读取到对应环境变量
	v.SetDefault("payment.anti_phishing_key", "")
	v.SetDefault("payment.mbway.key", "")
	v.SetDefault("payment.multibanco.key", "")
	v.SetDefault("payment.payshop.key", "")
	v.SetDefault("payment.timeout_seconds", 30)
	v.SetDefault("payment.fallback_amount", "30.00")
	v.SetDefault("payment.allow_fallback_amount", false)
	v.SetDefault("payment.status_cache_seconds", 5)
	v.SetDefault("payment.mbway.enabled", true)
	v.SetDefault("payment.mbway.base_url", "https://api.ifthenpay.com/spg/payment/mbway")
	v.SetDefault("payment.multibanco.enabled", true)
	v.SetDefault("payment.multibanco.base_url", "https://api.ifthenpay.com/multibanco/reference/init")
	v.SetDefault("payment.multibanco.expiry_days", 3)
	v.SetDefault("payment.payshop.enabled", true)
	v.SetDefault("payment.payshop.base_url", "https://ifthenpay.com/api/payshop/reference/")
	v.SetDefault("payment.payshop.expiry_days", 3)
	v.SetDefault("payment.description.default", "Relatório de análise de CV")
	v.SetDefault("report.generator_url", "")
	v.SetDefault("report.auth_token", "")
	v.SetDefault("report.timeout_seconds", 120)
	v.SetDefault("report.filename", "relatorio-cv.pdf")
	v.SetDefault("delivery.lease_seconds", 300)
	v.SetDefault("delivery.retry_delay_seconds", 60)
	v.SetDefault("delivery.max_retries", 5)
	v.SetDefault("delivery.sweep_interval_seconds", 600)
	v.SetDefault("delivery.subject", "O seu relatório de análise de CV")
}

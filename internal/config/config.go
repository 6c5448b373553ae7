package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
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
	OrderPaid   string `mapstructure:"order_paid"`
	TaskSettled string `mapstructure:"task_settled"`
}

// UpstreamConfig 第三方 AI 接口配置
type UpstreamConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	ConnectTimeout int    `mapstructure:"connect_timeout_seconds"`
	ReadTimeout    int    `mapstructure:"read_timeout_seconds"`
}

type BusinessConfig struct {
	MinRechargeAmount   float64 `mapstructure:"min_recharge_amount"`   // 最低充值金额（元）
	ExchangeRate        int64   `mapstructure:"exchange_rate"`         // 1元兑换的算力
	OrderCancelMinutes  int     `mapstructure:"order_cancel_minutes"`  // 订单创建后多少分钟内允许取消
	OrderRateLimit      int     `mapstructure:"order_rate_limit"`      // 同一用户窗口期内最多创建订单数
	OrderRateWindowSecs int     `mapstructure:"order_rate_window"`     // 限流窗口（秒）
	TaskCost            int64   `mapstructure:"task_cost"`             // 单次分析任务默认扣费
	TaskTimeoutMinutes  int     `mapstructure:"task_timeout_minutes"`  // 任务超时阈值（分钟）
	CleanupIntervalSecs int     `mapstructure:"cleanup_interval"`      // 清理任务执行间隔（秒）
	MaxRetryCount       int     `mapstructure:"max_retry_count"`       // outbox 消息最大重试次数
}

func (b *BusinessConfig) CancelWindow() time.Duration {
	return time.Duration(b.OrderCancelMinutes) * time.Minute
}

func (b *BusinessConfig) TaskTimeout() time.Duration {
	return time.Duration(b.TaskTimeoutMinutes) * time.Minute
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	return config
}

package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 配置加载（数据库、执行器密钥等）

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
}

// BridgeConfig 远程执行器通道配置
type BridgeConfig struct {
	// 主密钥，用于加解密各执行器的共享密钥（32字节hex）
	MasterKey string `yaml:"master-key"`
	// 签名时间戳允许的最大偏差
	SignatureSkew time.Duration `yaml:"signature-skew"`
	// nonce 防重放窗口
	NonceWindow time.Duration `yaml:"nonce-window"`
	// 结果消费的 kafka 消费组
	ResultGroupID string `yaml:"result-group-id"`
}

// QueueConfig 指令队列配置
type QueueConfig struct {
	// pop 之后未 ack 的租约时长，超过视为投递失败进入重试
	LeaseTimeout time.Duration `yaml:"lease-timeout"`
	// 重试基础延迟，按次数指数翻倍
	RetryBaseDelay time.Duration `yaml:"retry-base-delay"`
	// 重试延迟上限
	RetryMaxDelay time.Duration `yaml:"retry-max-delay"`
	// 默认最大重试次数（指令未指定时）
	DefaultMaxRetries int `yaml:"default-max-retries"`
}

// EngineConfig 策略引擎配置
type EngineConfig struct {
	// 每个 (策略, 交易对) 的评估间隔
	TickInterval time.Duration `yaml:"tick-interval"`
	// 评估需要的最小K线数量
	MinBars int `yaml:"min-bars"`
	// 单轮评估的并发上限
	MaxConcurrent int `yaml:"max-concurrent"`
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	MaxPingCount int    `yaml:"max-ping-count"`

	Db     `yaml:"database"`
	Log    LogConfig    `yaml:"log"`
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Bridge BridgeConfig `yaml:"bridge"`
	Queue  QueueConfig  `yaml:"queue"`
	Engine EngineConfig `yaml:"engine"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	applyDefaults(&AppConfig)
	return nil
}

func applyDefaults(c *Config) {
	if c.Queue.LeaseTimeout <= 0 {
		c.Queue.LeaseTimeout = 30 * time.Second
	}
	if c.Queue.RetryBaseDelay <= 0 {
		c.Queue.RetryBaseDelay = time.Second
	}
	if c.Queue.RetryMaxDelay <= 0 {
		c.Queue.RetryMaxDelay = time.Minute
	}
	if c.Queue.DefaultMaxRetries <= 0 {
		c.Queue.DefaultMaxRetries = 3
	}
	if c.Bridge.SignatureSkew <= 0 {
		c.Bridge.SignatureSkew = 30 * time.Second
	}
	if c.Bridge.NonceWindow <= 0 {
		c.Bridge.NonceWindow = 5 * time.Minute
	}
	if c.Bridge.ResultGroupID == "" {
		c.Bridge.ResultGroupID = "tradewire-results"
	}
	if c.Engine.TickInterval <= 0 {
		c.Engine.TickInterval = 15 * time.Minute
	}
	if c.Engine.MinBars <= 0 {
		c.Engine.MinBars = 200
	}
	if c.Engine.MaxConcurrent <= 0 {
		c.Engine.MaxConcurrent = 3
	}
}

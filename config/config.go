package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Premium   PremiumConfig   `mapstructure:"premium"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
	MaxProofSize    int64  `mapstructure:"max_proof_size"` // 付款截图最大字节数
}

type QueueConfig struct {
	ExpiryQueue    string `mapstructure:"expiry_queue"`
	NotifyChannel  string `mapstructure:"notify_channel"`
	TransferLockNS string `mapstructure:"transfer_lock_ns"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RateLimitConfig 提交付款凭证的限流（每个用户）
type RateLimitConfig struct {
	ProofPerMinute int `mapstructure:"proof_per_minute"`
	ProofBurst     int `mapstructure:"proof_burst"`
}

type PremiumConfig struct {
	AdminIDs            []int64      `mapstructure:"admin_ids"`
	SweepSpec           string       `mapstructure:"sweep_spec"`
	PollIntervalSeconds int          `mapstructure:"poll_interval_seconds"`
	RetryDelaySeconds   int          `mapstructure:"retry_delay_seconds"`
	Workers             int          `mapstructure:"workers"`
	BatchSize           int          `mapstructure:"batch_size"`
	MinGrantHours       int          `mapstructure:"min_grant_hours"`
	NodeID              int64        `mapstructure:"node_id"`
	UPIID               string       `mapstructure:"upi_id"`
	PaymentWindowDays   int          `mapstructure:"payment_window_days"`
	WorkerMetricsAddr   string       `mapstructure:"worker_metrics_addr"`
	Plans               []PlanConfig `mapstructure:"plans"`
}

// PlanConfig 默认套餐，DurationDays 为 0 表示永久
type PlanConfig struct {
	Name         string  `mapstructure:"name"`
	Price        float64 `mapstructure:"price"`
	DurationDays int     `mapstructure:"duration_days"`
	Description  string  `mapstructure:"description"`
}

// IsAdmin 判断用户是否拥有管理员权限
func (p PremiumConfig) IsAdmin(userID int64) bool {
	for _, id := range p.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (p PremiumConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

func (p PremiumConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}

func (p PremiumConfig) MinGrant() time.Duration {
	return time.Duration(p.MinGrantHours) * time.Hour
}

// ApplyDefaults 填充未配置的默认值
func (c *Config) ApplyDefaults() {
	if c.Queue.ExpiryQueue == "" {
		c.Queue.ExpiryQueue = "premium:expiry"
	}
	if c.Queue.NotifyChannel == "" {
		c.Queue.NotifyChannel = "premium_notify"
	}
	if c.Queue.TransferLockNS == "" {
		c.Queue.TransferLockNS = "premium:transfer"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RateLimit.ProofPerMinute <= 0 {
		c.RateLimit.ProofPerMinute = 6
	}
	if c.RateLimit.ProofBurst <= 0 {
		c.RateLimit.ProofBurst = 3
	}
	if c.OSS.MaxProofSize <= 0 {
		c.OSS.MaxProofSize = 5 << 20
	}

	p := &c.Premium
	if p.SweepSpec == "" {
		p.SweepSpec = "@every 15m"
	}
	if p.PollIntervalSeconds <= 0 {
		p.PollIntervalSeconds = 5
	}
	if p.RetryDelaySeconds <= 0 {
		p.RetryDelaySeconds = 30
	}
	if p.Workers <= 0 {
		p.Workers = 2
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 100
	}
	if p.MinGrantHours <= 0 {
		p.MinGrantHours = 24
	}
	if p.PaymentWindowDays <= 0 {
		p.PaymentWindowDays = 3
	}
	if p.WorkerMetricsAddr == "" {
		p.WorkerMetricsAddr = ":9091"
	}
	if len(p.Plans) == 0 {
		p.Plans = []PlanConfig{
			{Name: "Monthly", Price: 99, DurationDays: 30, Description: "30 天高级会员"},
			{Name: "Quarterly", Price: 249, DurationDays: 90, Description: "90 天高级会员"},
			{Name: "Lifetime", Price: 999, DurationDays: 0, Description: "永久高级会员"},
		}
	}
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

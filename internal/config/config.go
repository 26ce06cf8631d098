package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Mode            string   `mapstructure:"mode"` // debug, release, test
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // 秒
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 存储驱动: memory(进程内), postgres, sqlite
	Driver          string `mapstructure:"driver"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
	LogLevel        string `mapstructure:"log_level"`         // silent, error, warn, info
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 登录令牌配置
type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	Issuer         string `mapstructure:"issuer"`
	AccessTokenTTL string `mapstructure:"access_token_ttl"` // 如 "2h"
}

// GovernanceConfig 治理策略配置
type GovernanceConfig struct {
	Fallback        FallbackConfig `mapstructure:"fallback"`
	DeletePolicy    string         `mapstructure:"delete_policy"` // restrict, orphan
	SeedFile        string         `mapstructure:"seed_file"`
	EventBufferSize int            `mapstructure:"event_buffer_size"`
}

// FallbackConfig 未命中审批规则时的兜底审批人
type FallbackConfig struct {
	Policy  string   `mapstructure:"policy"` // deny, default_group
	UserIDs []string `mapstructure:"user_ids"`
	RoleIDs []string `mapstructure:"role_ids"`
}

// QueueConfig 异步通知队列配置，依赖 Redis
type QueueConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
	MaxRetry    int  `mapstructure:"max_retry"`
}

// WebhookConfig 审批事件外部推送
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"`
	Timeout int               `mapstructure:"timeout"` // 秒
	Headers map[string]string `mapstructure:"headers"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.sqlite_path", "mdm.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("auth.issuer", "mdm-governance")
	v.SetDefault("auth.access_token_ttl", "2h")
	v.SetDefault("governance.fallback.policy", "deny")
	v.SetDefault("governance.delete_policy", "restrict")
	v.SetDefault("governance.event_buffer_size", 16)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.max_retry", 3)
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver 不支持: %q (可选: memory, postgres, sqlite)", c.Database.Driver))
	}
	if c.Server.Mode == "release" && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("release 模式必须配置 auth.jwt_secret"))
	}
	if _, err := c.Auth.TTL(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Governance.Fallback.Policy) {
	case "", "deny":
	case "default_group":
		if len(c.Governance.Fallback.UserIDs) == 0 && len(c.Governance.Fallback.RoleIDs) == 0 {
			errs = append(errs, errors.New("default_group 兜底策略需要配置 user_ids 或 role_ids"))
		}
	default:
		errs = append(errs, fmt.Errorf("governance.fallback.policy 不支持: %q", c.Governance.Fallback.Policy))
	}
	switch strings.ToLower(c.Governance.DeletePolicy) {
	case "", "restrict", "orphan":
	default:
		errs = append(errs, fmt.Errorf("governance.delete_policy 不支持: %q", c.Governance.DeletePolicy))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level 不支持: %q", c.Log.Level))
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("queue.enabled 需要 redis.enabled"))
	}
	return errors.Join(errs...)
}

// TTL 解析访问令牌有效期
func (a *AuthConfig) TTL() (time.Duration, error) {
	if a.AccessTokenTTL == "" {
		return 2 * time.Hour, nil
	}
	d, err := time.ParseDuration(a.AccessTokenTTL)
	if err != nil {
		return 0, fmt.Errorf("auth.access_token_ttl 无效: %w", err)
	}
	return d, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr 返回 Redis 单节点地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"TopEquations/pkg/logger"
)

// Config 描述收录系统在启动阶段需要加载的全部配置，构造各组件时显式传入。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage" toml:"storage"`
	Queue     QueueConfig     `json:"queue" yaml:"queue" toml:"queue"`
	Scoring   ScoringConfig   `json:"scoring" yaml:"scoring" toml:"scoring"`
	LLM       LLMConfig       `json:"llm" yaml:"llm" toml:"llm"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger" toml:"ledger"`
	Promotion PromotionConfig `json:"promotion" yaml:"promotion" toml:"promotion"`
	Site      SiteConfig      `json:"site" yaml:"site" toml:"site"`
	Auth      AuthConfig      `json:"auth" yaml:"auth" toml:"auth"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts" toml:"alerts"`
	Log       logger.Config   `json:"log" yaml:"log" toml:"log"`
}

// ServerConfig 控制 API 服务与指标端点的监听地址。
type ServerConfig struct {
	Address        string `json:"address" yaml:"address" toml:"address"`
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address" toml:"metrics_address"`
}

// StorageConfig 描述记录存储后端。driver 取值 file、mysql、sqlite。
type StorageConfig struct {
	Driver  string     `json:"driver" yaml:"driver" toml:"driver"`
	DataDir string     `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	DSN     string     `json:"dsn" yaml:"dsn" toml:"dsn"`
	Lock    LockConfig `json:"lock" yaml:"lock" toml:"lock"`
}

// LockConfig 描述写入互斥方式。driver 取值 file、redis、none。
type LockConfig struct {
	Driver         string `json:"driver" yaml:"driver" toml:"driver"`
	Path           string `json:"path" yaml:"path" toml:"path"`
	RedisAddress   string `json:"redis_address" yaml:"redis_address" toml:"redis_address"`
	RedisKey       string `json:"redis_key" yaml:"redis_key" toml:"redis_key"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// QueueConfig 描述单写者队列。driver 取值 memory、redis、rabbitmq。
type QueueConfig struct {
	Driver       string `json:"driver" yaml:"driver" toml:"driver"`
	RedisAddress string `json:"redis_address" yaml:"redis_address" toml:"redis_address"`
	RabbitMQURL  string `json:"rabbitmq_url" yaml:"rabbitmq_url" toml:"rabbitmq_url"`
	Name         string `json:"name" yaml:"name" toml:"name"`
}

// ScoringConfig 包含晋级阈值与混合权重。
type ScoringConfig struct {
	Threshold       int     `json:"threshold" yaml:"threshold" toml:"threshold"`
	HeuristicWeight float64 `json:"heuristic_weight" yaml:"heuristic_weight" toml:"heuristic_weight"`
	AdvisoryWeight  float64 `json:"advisory_weight" yaml:"advisory_weight" toml:"advisory_weight"`
	RuleSet         string  `json:"rule_set" yaml:"rule_set" toml:"rule_set"`
}

// LLMConfig 配置大模型评审的调用方式。
type LLMConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	BaseURL        string  `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model          string  `json:"model" yaml:"model" toml:"model"`
	APIKeyEnv      string  `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	Temperature    float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens      int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// LedgerConfig 配置证书上链所需的节点与钱包。
type LedgerConfig struct {
	NodeURL        string    `json:"node_url" yaml:"node_url" toml:"node_url"`
	WalletFile     string    `json:"wallet_file" yaml:"wallet_file" toml:"wallet_file"`
	TimeoutSeconds int       `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	RatePerSecond  float64   `json:"rate_per_second" yaml:"rate_per_second" toml:"rate_per_second"`
	EVM            EVMConfig `json:"evm" yaml:"evm" toml:"evm"`
}

// EVMConfig 启用后改为在 EVM 链上锚定 metadata_hash。
type EVMConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	RPCURL  string `json:"rpc_url" yaml:"rpc_url" toml:"rpc_url"`
	ChainID int64  `json:"chain_id" yaml:"chain_id" toml:"chain_id"`
}

// PromotionConfig 控制排名记录的派生字段。
type PromotionConfig struct {
	RepoURLBase string `json:"repo_url_base" yaml:"repo_url_base" toml:"repo_url_base"`
}

// SiteConfig 指向外部站点产物，仅用于新鲜度检查。
type SiteConfig struct {
	ArtifactPath string `json:"artifact_path" yaml:"artifact_path" toml:"artifact_path"`
}

// AuthConfig 配置策展人接口的 JWT 认证。
type AuthConfig struct {
	Enabled    bool      `json:"enabled" yaml:"enabled" toml:"enabled"`
	Secret     string    `json:"secret" yaml:"secret" toml:"secret"`
	Issuer     string    `json:"issuer" yaml:"issuer" toml:"issuer"`
	TTLMinutes int       `json:"ttl_minutes" yaml:"ttl_minutes" toml:"ttl_minutes"`
	Curators   []Curator `json:"curators" yaml:"curators" toml:"curators"`
}

// AlertsConfig 配置写作业最终失败时的告警渠道。
type AlertsConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url" toml:"webhook_url"`
}

// Curator 是可以评分与晋级的账户，密码以 bcrypt 哈希保存。
type Curator struct {
	Username     string   `json:"username" yaml:"username" toml:"username"`
	PasswordHash string   `json:"password_hash" yaml:"password_hash" toml:"password_hash"`
	Permissions  []string `json:"permissions" yaml:"permissions" toml:"permissions"`
	Disabled     bool     `json:"disabled" yaml:"disabled" toml:"disabled"`
}

// Load 根据扩展名解析 JSON、YAML 或 TOML 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	case ".toml":
		err = toml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回以 baseDir 为根目录的默认配置。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	return cfg
}

func (c *Config) applyEnv() {
	if secret := os.Getenv("TOPEQ_AUTH_SECRET"); secret != "" {
		c.Auth.Secret = secret
	}
	if base := os.Getenv("OPENAI_API_BASE"); base != "" && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = base
	}
	if model := os.Getenv("LLM_SCORE_MODEL"); model != "" && c.LLM.Model == "" {
		c.LLM.Model = model
	}
}

// applyDefaults 在用户未填写部分字段时设置默认值，并将相对路径解析到配置文件目录。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	c.Storage.DataDir = resolve(baseDir, c.Storage.DataDir, "data")
	if c.Storage.Lock.Driver == "" {
		c.Storage.Lock.Driver = "file"
	}
	if c.Storage.Lock.Path == "" {
		c.Storage.Lock.Path = filepath.Join(c.Storage.DataDir, ".topeq.lock")
	} else {
		c.Storage.Lock.Path = resolve(baseDir, c.Storage.Lock.Path, "")
	}
	if c.Storage.Lock.RedisKey == "" {
		c.Storage.Lock.RedisKey = "topeq:store:lock"
	}
	if c.Storage.Lock.TimeoutSeconds <= 0 {
		c.Storage.Lock.TimeoutSeconds = 30
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "topeq.jobs"
	}

	if c.Scoring.Threshold == 0 {
		c.Scoring.Threshold = 65
	}
	if c.Scoring.HeuristicWeight == 0 && c.Scoring.AdvisoryWeight == 0 {
		c.Scoring.HeuristicWeight = 0.4
		c.Scoring.AdvisoryWeight = 0.6
	}
	if c.Scoring.RuleSet == "" {
		c.Scoring.RuleSet = "heuristic-v2"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 30
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 200
	}

	if c.Ledger.NodeURL == "" {
		c.Ledger.NodeURL = "http://127.0.0.1:5000"
	}
	c.Ledger.NodeURL = strings.TrimRight(c.Ledger.NodeURL, "/")
	if c.Ledger.WalletFile != "" {
		c.Ledger.WalletFile = resolve(baseDir, c.Ledger.WalletFile, "")
	}
	if c.Ledger.TimeoutSeconds <= 0 {
		c.Ledger.TimeoutSeconds = 8
	}

	if c.Promotion.RepoURLBase == "" {
		c.Promotion.RepoURLBase = "https://github.com/RDM3DC"
	}
	c.Promotion.RepoURLBase = strings.TrimRight(c.Promotion.RepoURLBase, "/")

	if c.Site.ArtifactPath != "" {
		c.Site.ArtifactPath = resolve(baseDir, c.Site.ArtifactPath, "")
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "topeq"
	}
	if c.Auth.TTLMinutes <= 0 {
		c.Auth.TTLMinutes = 60
	}
}

// Validate 检查权重与阈值等组合约束。
func (c *Config) Validate() error {
	w := c.Scoring
	if w.HeuristicWeight < 0 || w.HeuristicWeight > 1 || w.AdvisoryWeight < 0 || w.AdvisoryWeight > 1 {
		return fmt.Errorf("混合权重必须位于 [0,1]: heuristic=%v advisory=%v", w.HeuristicWeight, w.AdvisoryWeight)
	}
	if math.Abs(w.HeuristicWeight+w.AdvisoryWeight-1) > 1e-9 {
		return fmt.Errorf("混合权重之和必须为 1: %v", w.HeuristicWeight+w.AdvisoryWeight)
	}
	if w.Threshold < 0 || w.Threshold > 100 {
		return fmt.Errorf("晋级阈值必须位于 [0,100]: %d", w.Threshold)
	}
	switch c.Storage.Driver {
	case "file", "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	if (c.Storage.Driver == "mysql" || c.Storage.Driver == "sqlite") && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("存储驱动 %s 需要配置 dsn", c.Storage.Driver)
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("启用认证时必须配置 auth.secret 或 TOPEQ_AUTH_SECRET")
	}
	return nil
}

// LLMTimeout 返回大模型请求超时。
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// LedgerTimeout 返回账本请求超时。
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.Ledger.TimeoutSeconds) * time.Second
}

// LockTimeout 返回获取写锁的最长等待时间。
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Storage.Lock.TimeoutSeconds) * time.Second
}

// APIKey 从配置的环境变量读取大模型密钥。
func (c *Config) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnv))
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

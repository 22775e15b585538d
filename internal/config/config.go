package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AGENTD_CONFIG"

// DefaultConfigPath 是未设置 AGENTD_CONFIG 时使用的配置文件。
const DefaultConfigPath = "configs/agentd.json"

// Config 描述了 agentd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Network  NetworkConfig  `json:"network"`
	Storage  StorageConfig  `json:"storage"`
	Redis    RedisConfig    `json:"redis"`
	Queue    QueueConfig    `json:"queue"`
	LLM      LLMConfig      `json:"llm"`
	Secret   SecretConfig   `json:"secret"`
	Agent    AgentConfig    `json:"agent"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  logger.Config  `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `json:"address"`
	ShutdownTimeoutSecs int    `json:"shutdown_timeout_seconds"`
	GinMode             string `json:"gin_mode"`
}

// NetworkConfig 选择 NEAR 网络及其定义文件。
type NetworkConfig struct {
	Name            string  `json:"name"`
	DefinitionsPath string  `json:"definitions_path"`
	RPCRateLimit    float64 `json:"rpc_rate_limit"`
	RPCBurst        int     `json:"rpc_burst"`
}

// StorageConfig 描述智能体与任务历史的存储后端。
type StorageConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN                 string `json:"dsn"`
	DSNEnv              string `json:"dsn_env"`
	MaxOpenConns        int    `json:"max_open_conns"`
	MaxIdleConns        int    `json:"max_idle_conns"`
	ConnMaxLifetimeSecs int    `json:"conn_max_lifetime_seconds"`
	SkipMigrations      bool   `json:"skip_migrations"`
}

// RedisConfig 启用后提供分布式运行锁、价格缓存与进度广播。
type RedisConfig struct {
	Enabled     bool   `json:"enabled"`
	Address     string `json:"address"`
	Password    string `json:"-"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Prefix      string `json:"prefix"`
}

// QueueConfig 描述异步运行队列。
type QueueConfig struct {
	Driver           string         `json:"driver"`
	Workers          int            `json:"workers"`
	MemorySize       int            `json:"memory_size"`
	MaxRequeue       int            `json:"max_requeue"`
	RequeueDelaySecs int            `json:"requeue_delay_seconds"`
	Redis            RedisQueue     `json:"redis"`
	RabbitMQ         RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列。启用 redis 时复用其客户端，否则按 address 单独连接。
type RedisQueue struct {
	Address       string `json:"address"`
	Password      string `json:"-"`
	PasswordEnv   string `json:"password_env"`
	DB            int    `json:"db"`
	Queue         string `json:"queue"`
	BlockWaitSecs int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"-"`
	URLEnv   string `json:"url_env"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider        string             `json:"provider"`
	CallTimeoutSecs int                `json:"call_timeout_seconds"`
	OpenAI          OpenAIConfig       `json:"openai"`
	Python          PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey      string  `json:"-"`
	APIKeyEnv   string  `json:"api_key_env"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	TimeoutSecs int     `json:"timeout_seconds"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// SecretConfig 指定私钥加密密钥所在的环境变量。密钥本身不写入配置文件。
type SecretConfig struct {
	Key    string `json:"-"`
	KeyEnv string `json:"key_env"`
}

// AgentConfig 控制编排与兑换参数。
type AgentConfig struct {
	RunBudgetSecs     int    `json:"run_budget_seconds"`
	SlippageBps       int    `json:"slippage_bps"`
	GasReserveYocto   string `json:"gas_reserve_yocto"`
	FundingAmount     string `json:"funding_amount"`
	FaucetAttempts    int    `json:"faucet_attempts"`
	StaticTokensPath  string `json:"static_tokens_path"`
	MaxTokens         int    `json:"max_tokens"`
	MaxCandidates     int    `json:"max_candidates"`
	PriceCacheTTLSecs int    `json:"price_cache_ttl_seconds"`
	SwapScanLimit     int    `json:"swap_scan_limit"`
	FilterScanLimit   int    `json:"filter_scan_limit"`
}

// AlertingConfig 配置告警 webhook，留空时只写审计日志。
type AlertingConfig struct {
	WebhookURL     string            `json:"webhook_url"`
	WebhookHeaders map[string]string `json:"webhook_headers"`
}

// Path 返回配置文件路径，优先使用 AGENTD_CONFIG。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultConfigPath
}

// Load 负责解析指定路径的 JSON 配置文件，补全默认值并解析环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "打开配置文件失败")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置失败")
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSecs <= 0 {
		c.Server.ShutdownTimeoutSecs = 15
	}

	if c.Network.Name == "" {
		c.Network.Name = "testnet"
	}
	c.Network.Name = strings.ToLower(strings.TrimSpace(c.Network.Name))
	c.Network.DefinitionsPath = resolvePath(baseDir, c.Network.DefinitionsPath)

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MySQL.DSNEnv == "" {
		c.Storage.MySQL.DSNEnv = "AGENTD_MYSQL_DSN"
	}

	if c.Redis.PasswordEnv == "" {
		c.Redis.PasswordEnv = "AGENTD_REDIS_PASSWORD"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "agentd"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.MemorySize <= 0 {
		c.Queue.MemorySize = 256
	}
	if c.Queue.MaxRequeue <= 0 {
		c.Queue.MaxRequeue = 3
	}
	if c.Queue.RequeueDelaySecs <= 0 {
		c.Queue.RequeueDelaySecs = 5
	}
	if c.Queue.Redis.PasswordEnv == "" {
		c.Queue.Redis.PasswordEnv = c.Redis.PasswordEnv
	}
	if c.Queue.RabbitMQ.URLEnv == "" {
		c.Queue.RabbitMQ.URLEnv = "AGENTD_RABBITMQ_URL"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.CallTimeoutSecs <= 0 {
		c.LLM.CallTimeoutSecs = 20
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.ScriptPath = resolvePath(baseDir, c.LLM.Python.ScriptPath)
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Secret.KeyEnv == "" {
		c.Secret.KeyEnv = "AGENT_SECRET_KEY"
	}

	// 预算需覆盖两次模型调用（各 20s）与包装、兑换两次终局轮询（各最长 30s），另留网络往返余量。
	if c.Agent.RunBudgetSecs <= 0 {
		c.Agent.RunBudgetSecs = 180
	}
	if c.Agent.FaucetAttempts <= 0 {
		c.Agent.FaucetAttempts = 5
	}
	if c.Agent.PriceCacheTTLSecs <= 0 {
		c.Agent.PriceCacheTTLSecs = 60
	}
	c.Agent.StaticTokensPath = resolvePath(baseDir, c.Agent.StaticTokensPath)
}

// resolveEnv 从环境变量读取密钥与连接串，配置文件中只保存变量名。
func (c *Config) resolveEnv() {
	c.Secret.Key = strings.TrimSpace(os.Getenv(c.Secret.KeyEnv))
	c.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv))
	c.Redis.Password = os.Getenv(c.Redis.PasswordEnv)
	c.Queue.Redis.Password = os.Getenv(c.Queue.Redis.PasswordEnv)
	c.Queue.RabbitMQ.URL = strings.TrimSpace(os.Getenv(c.Queue.RabbitMQ.URLEnv))
	if dsn := strings.TrimSpace(os.Getenv(c.Storage.MySQL.DSNEnv)); dsn != "" {
		c.Storage.MySQL.DSN = dsn
	}
}

// Validate 检查启动所需的配置是否齐全。
func (c *Config) Validate() error {
	if c.Secret.Key == "" {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("缺少私钥加密密钥，请设置环境变量 %s", c.Secret.KeyEnv))
	}
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return xerrors.New(xerrors.CodeConfiguration, "storage.driver 为 mysql 时必须提供 DSN")
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, "不支持的存储驱动: "+c.Storage.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled && strings.TrimSpace(c.Queue.Redis.Address) == "" {
			return xerrors.New(xerrors.CodeConfiguration, "queue.driver 为 redis 时必须启用 redis 或设置 queue.redis.address")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("queue.driver 为 rabbitmq 时必须设置环境变量 %s", c.Queue.RabbitMQ.URLEnv))
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, "不支持的队列驱动: "+c.Queue.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "python_bridge", "none":
	default:
		return xerrors.New(xerrors.CodeConfiguration, "不支持的模型提供方: "+c.LLM.Provider)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return xerrors.New(xerrors.CodeConfiguration, "启用 redis 时必须提供 address")
	}
	return nil
}

// RunBudget 返回单次运行的时间预算。
func (c *Config) RunBudget() time.Duration {
	return time.Duration(c.Agent.RunBudgetSecs) * time.Second
}

// LLMCallTimeout 返回单次模型调用的超时。
func (c *Config) LLMCallTimeout() time.Duration {
	return time.Duration(c.LLM.CallTimeoutSecs) * time.Second
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

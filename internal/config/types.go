// Package config 统一配置管理
//
// 评测服务（eval-server）和命令行工具（evalctl）共用同一 YAML schema，
// 通过章节（section）区分各组件的配置。
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（configs/common.yaml，然后 configs/{env}.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：密码/密钥只从环境变量读取，YAML 中不存储任何密码。
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml
//   - 测试: APP_ENV=test → configs/test.yaml
//   - 生产: APP_ENV=prod → /etc/agents-eval/prod.yaml
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Etcd      EtcdConfig      `yaml:"etcd"`
	Processor ProcessorConfig `yaml:"processor"`
	LLM       LLMConfig       `yaml:"llm"`
	Connector ConnectorConfig `yaml:"connector"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite"（默认）、"postgres"、"mongodb"、"memory"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

// RedisConfig Redis 配置，未启用时事件总线和唤醒队列退化为进程内实现
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"` // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"`
}

// MinIOConfig MinIO 对象存储配置，Endpoint 为空时不归档对话记录
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// EtcdConfig etcd 配置，Endpoints 为空时不启用单实例锁
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	LockKey     string        `yaml:"lock_key"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ProcessorConfig 运行处理器配置
type ProcessorConfig struct {
	ProjectID         string        `yaml:"project_id"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`
	UnparseableLimit  int           `yaml:"unparseable_limit"`
	MaxTurnsCap       int           `yaml:"max_turns_cap"`
}

// LLMConfig 模拟用户和评判模型配置
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	SimulatorModel string        `yaml:"simulator_model"`
	JudgeModel     string        `yaml:"judge_model"`
	Timeout        time.Duration `yaml:"timeout"`
	Mock           bool          `yaml:"mock"` // 使用脚本化的 MockClient（EVAL_LLM_MODE=MOCK）
	APIKey         string        `yaml:"-"`    // 只从 OPENAI_API_KEY 环境变量读取
}

// ConnectorConfig 连接器调用配置
type ConnectorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig 认证配置，JWTSecret 为空时 API 不鉴权
type AuthConfig struct {
	JWTSecret string `yaml:"-"` // 只从 JWT_SECRET 环境变量读取
	Issuer    string `yaml:"issuer"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "sqlite", "postgres", "mongodb", "memory"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisURL       string // 为空表示未启用 Redis
	APIPort        string
	MinIO          MinIOConfig
	Etcd           EtcdConfig
	Processor      ProcessorConfig
	LLM            LLMConfig
	Connector      ConnectorConfig
	Auth           AuthConfig
	Log            LogConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用，生产环境由 systemd 注入）
var envSearchDirs = []string{".", ".."}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
func SetConfigDir(dir string) {
	configDir = dir
}

// configPathsForEnv 根据环境返回配置文件搜索路径
func configPathsForEnv(env Environment) []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	if env == EnvProduction {
		return []string{"/etc/agents-eval"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// Load 加载配置
//  1. 加载 .env（敏感信息 + APP_ENV）
//  2. 根据 APP_ENV 加载 common.yaml 和 {env}.yaml
//  3. 环境变量覆盖，填充默认值
func Load() *Config {
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	db := yamlCfg.Database
	db.Password = firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")

	databaseURL := getEnv("DATABASE_URL", "")
	driver := detectDatabaseDriver(db.Driver, databaseURL)
	db.Driver = driver
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(db, db.Password)
	}

	redisCfg := yamlCfg.Redis
	redisCfg.Password = os.Getenv("REDIS_PASSWORD")
	redisURL := getEnv("REDIS_URL", "")
	if redisURL == "" && redisCfg.Enabled {
		redisURL = buildRedisURL(redisCfg)
	}

	minioCfg := yamlCfg.MinIO
	minioCfg.AccessKey = os.Getenv("MINIO_ROOT_USER")
	minioCfg.SecretKey = os.Getenv("MINIO_ROOT_PASSWORD")

	llmCfg := yamlCfg.LLM
	llmCfg.APIKey = os.Getenv("OPENAI_API_KEY")
	llmCfg.BaseURL = getEnv("OPENAI_BASE_URL", llmCfg.BaseURL)
	if strings.EqualFold(os.Getenv("EVAL_LLM_MODE"), "MOCK") {
		llmCfg.Mock = true
	}

	authCfg := yamlCfg.Auth
	authCfg.JWTSecret = os.Getenv("JWT_SECRET")

	logCfg := yamlCfg.Log
	logCfg.Level = getEnv("LOG_LEVEL", logCfg.Level)
	logCfg.Format = getEnv("LOG_FORMAT", logCfg.Format)

	proc := yamlCfg.Processor
	proc.ProjectID = getEnv("EVAL_PROJECT_ID", proc.ProjectID)
	if v := os.Getenv("EVAL_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			proc.MaxConcurrent = n
		}
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		DatabaseDBName: db.Name,
		RedisURL:       redisURL,
		APIPort:        getEnv("API_PORT", yamlCfg.Server.Port),
		MinIO:          minioCfg,
		Etcd:           yamlCfg.Etcd,
		Processor:      proc,
		LLM:            llmCfg,
		Connector:      yamlCfg.Connector,
		Auth:           authCfg,
		Log:            logCfg,
		ConfigFilePath: yamlCfg.loadedFrom,
	}
	cfg.validate()
	return cfg
}

// defaultYAMLConfig 代码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "data/agents-eval.db", Host: "localhost", Port: 5432, User: "agents", Name: "agents_eval", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		MinIO:    MinIOConfig{Bucket: "agents-eval"},
		Etcd:     EtcdConfig{LockKey: "/agents-eval/processor", DialTimeout: 5 * time.Second},
		Processor: ProcessorConfig{
			PollInterval:      2 * time.Second,
			MaxConcurrent:     3,
			HeartbeatInterval: 10 * time.Second,
			StaleThreshold:    2 * time.Minute,
			UnparseableLimit:  3,
			MaxTurnsCap:       50,
		},
		LLM:       LLMConfig{SimulatorModel: "gpt-4o-mini", JudgeModel: "gpt-4o-mini", Timeout: 60 * time.Second},
		Connector: ConnectorConfig{Timeout: 120 * time.Second},
		Auth:      AuthConfig{Issuer: "agents-eval"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	for _, name := range []string{"common.yaml", fmt.Sprintf("%s.yaml", env)} {
		for _, base := range configPathsForEnv(env) {
			path := filepath.Join(base, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
				log.Printf("[config] failed to parse %s: %v", path, err)
				break
			}
			cfg.loadedFrom = path
			break
		}
	}

	return cfg
}

// validate 填充缺失的默认值
func (c *Config) validate() {
	d := defaultYAMLConfig()
	if c.APIPort == "" {
		c.APIPort = d.Server.Port
	}
	p := &c.Processor
	if p.PollInterval <= 0 {
		p.PollInterval = d.Processor.PollInterval
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = d.Processor.MaxConcurrent
	}
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = d.Processor.HeartbeatInterval
	}
	if p.StaleThreshold <= p.HeartbeatInterval {
		p.StaleThreshold = 3 * p.HeartbeatInterval
	}
	if p.MaxTurnsCap <= 0 {
		p.MaxTurnsCap = d.Processor.MaxTurnsCap
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.LLM.SimulatorModel == "" {
		c.LLM.SimulatorModel = d.LLM.SimulatorModel
	}
	if c.LLM.JudgeModel == "" {
		c.LLM.JudgeModel = d.LLM.JudgeModel
	}
	if c.Connector.Timeout <= 0 {
		c.Connector.Timeout = d.Connector.Timeout
	}
	if c.Etcd.LockKey == "" {
		c.Etcd.LockKey = d.Etcd.LockKey
	}
	if c.Etcd.DialTimeout <= 0 {
		c.Etcd.DialTimeout = d.Etcd.DialTimeout
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = d.MinIO.Bucket
	}
}

// Package sysconfig 运行配置查看 API
//
// 返回进程实际生效的配置（合并 YAML、环境变量和默认值之后），不包含任何密钥。
package sysconfig

import (
	"encoding/json"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"agents-eval/internal/config"
)

// Handler 配置查看处理器
type Handler struct {
	cfg *config.Config
}

// NewHandler 创建配置查看处理器
func NewHandler(cfg *config.Config) *Handler {
	return &Handler{cfg: cfg}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/config", h.GetConfig)
}

// Effective 生效配置摘要
type Effective struct {
	Env            string           `json:"env" yaml:"env"`
	FilePath       string           `json:"file_path" yaml:"file_path"`
	DatabaseDriver string           `json:"database_driver" yaml:"database_driver"`
	RedisEnabled   bool             `json:"redis_enabled" yaml:"redis_enabled"`
	ArchiveEnabled bool             `json:"archive_enabled" yaml:"archive_enabled"`
	LockEnabled    bool             `json:"lock_enabled" yaml:"lock_enabled"`
	AuthEnabled    bool             `json:"auth_enabled" yaml:"auth_enabled"`
	Processor      ProcessorView    `json:"processor" yaml:"processor"`
	LLM            LLMView          `json:"llm" yaml:"llm"`
	Connector      ConnectorView    `json:"connector" yaml:"connector"`
	Log            config.LogConfig `json:"log" yaml:"log"`
}

// ProcessorView 处理器配置，时长以字符串输出
type ProcessorView struct {
	ProjectID         string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	PollInterval      string `json:"poll_interval" yaml:"poll_interval"`
	MaxConcurrent     int    `json:"max_concurrent" yaml:"max_concurrent"`
	HeartbeatInterval string `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	StaleThreshold    string `json:"stale_threshold" yaml:"stale_threshold"`
	UnparseableLimit  int    `json:"unparseable_limit" yaml:"unparseable_limit"`
	MaxTurnsCap       int    `json:"max_turns_cap" yaml:"max_turns_cap"`
}

// LLMView 模型配置，不含 API Key
type LLMView struct {
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	SimulatorModel string `json:"simulator_model" yaml:"simulator_model"`
	JudgeModel     string `json:"judge_model" yaml:"judge_model"`
	Timeout        string `json:"timeout" yaml:"timeout"`
	Mock           bool   `json:"mock" yaml:"mock"`
	APIKeySet      bool   `json:"api_key_set" yaml:"api_key_set"`
}

// ConnectorView 连接器调用配置
type ConnectorView struct {
	Timeout string `json:"timeout" yaml:"timeout"`
}

// Summarize 生成不含密钥的配置摘要
func Summarize(cfg *config.Config) Effective {
	p := cfg.Processor
	return Effective{
		Env:            string(cfg.Env),
		FilePath:       cfg.ConfigFilePath,
		DatabaseDriver: cfg.DatabaseDriver,
		RedisEnabled:   cfg.RedisURL != "",
		ArchiveEnabled: cfg.MinIO.Endpoint != "",
		LockEnabled:    len(cfg.Etcd.Endpoints) > 0,
		AuthEnabled:    cfg.Auth.JWTSecret != "",
		Processor: ProcessorView{
			ProjectID:         p.ProjectID,
			PollInterval:      duration(p.PollInterval),
			MaxConcurrent:     p.MaxConcurrent,
			HeartbeatInterval: duration(p.HeartbeatInterval),
			StaleThreshold:    duration(p.StaleThreshold),
			UnparseableLimit:  p.UnparseableLimit,
			MaxTurnsCap:       p.MaxTurnsCap,
		},
		LLM: LLMView{
			BaseURL:        cfg.LLM.BaseURL,
			SimulatorModel: cfg.LLM.SimulatorModel,
			JudgeModel:     cfg.LLM.JudgeModel,
			Timeout:        duration(cfg.LLM.Timeout),
			Mock:           cfg.LLM.Mock,
			APIKeySet:      cfg.LLM.APIKey != "",
		},
		Connector: ConnectorView{Timeout: duration(cfg.Connector.Timeout)},
		Log:       cfg.Log,
	}
}

func duration(d time.Duration) string {
	if d < 0 {
		return "disabled"
	}
	return d.String()
}

// ConfigResponse GET /api/v1/config 响应
type ConfigResponse struct {
	Effective Effective `json:"effective"`
	// Content 与 Effective 相同内容的 YAML 文本，便于直接拷贝到配置文件
	Content string `json:"content"`
}

// GetConfig GET /api/v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	eff := Summarize(h.cfg)
	content, err := yaml.Marshal(eff)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Failed to render config: " + err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ConfigResponse{Effective: eff, Content: string(content)})
}

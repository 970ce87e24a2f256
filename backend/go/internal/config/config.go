package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/models"
)

// DefaultPath 是未设置 CONFIG_PATH 时使用的配置文件路径。
const DefaultPath = "config.yaml"

// requiredKeys 是启动前必须出现在配置文件中的键。
var requiredKeys = []string{
	"redis.username",
	"redis.password",
	"redis.host",
	"redis.port",
	"inference_server.type",
	"inference_server.url",
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
	Topic       string `yaml:"topic"`       // 问候语中展示的文档主题
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// RedisConfig 定义了向量库所在 Redis 的连接配置。
type RedisConfig struct {
	Username string `yaml:"username"`  // 用户名
	Password string `yaml:"password"`  // 密码
	Host     string `yaml:"host"`      // 主机地址
	Port     int    `yaml:"port"`      // 端口
	DB       int    `yaml:"db"`        // Redis 数据库编号
	PoolSize int    `yaml:"pool_size"` // 连接池大小，0 表示使用驱动默认值
}

// Address 返回 host:port 形式的地址。
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// URL 返回 redis://{username}:{password}@{host}:{port} 形式的连接串。
func (r RedisConfig) URL() string {
	return fmt.Sprintf("redis://%s:%s@%s:%d", r.Username, r.Password, r.Host, r.Port)
}

// InferenceServerConfig 定义了模型后端及其生成参数。
type InferenceServerConfig struct {
	Type              string               `yaml:"type"`                                        // 后端类型: "ollama", "tgi", "huggingface", "openai"
	URL               string               `yaml:"url" env:"INFERENCE_SERVER_URL"`              // 后端地址
	Model             string               `yaml:"model"`                                       // 模型名称
	APIKey            string               `yaml:"api_key" env:"INFERENCE_SERVER_API_KEY"`      // API 密钥 (openai 兼容后端)
	MaxNewTokens      int                  `yaml:"max_new_tokens" env:"MAX_NEW_TOKENS"`         // 最多生成的 token 数
	TopK              int                  `yaml:"top_k" env:"TOP_K"`                           // top-k 采样
	TopP              float64              `yaml:"top_p" env:"TOP_P"`                           // nucleus 采样
	TypicalP          float64              `yaml:"typical_p" env:"TYPICAL_P"`                   // typical 采样
	Temperature       float64              `yaml:"temperature" env:"TEMPERATURE"`               // 温度
	RepetitionPenalty float64              `yaml:"repetition_penalty" env:"REPETITION_PENALTY"` // 重复惩罚
	Timeout           string               `yaml:"timeout"`                                     // 单次请求超时, 例如 "120s"
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`                             // 后端熔断配置
}

// EmbeddingConfig 定义了 Embedding 模型的配置。
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`                       // 提供商: "ollama", "openai", "huggingface", "gemini", "hashing"
	Model     string `yaml:"model"`                          // 模型名称
	URL       string `yaml:"url"`                            // 服务地址
	APIKey    string `yaml:"api_key" env:"EMBEDDING_API_KEY"` // API 密钥
	Dimension int    `yaml:"dimension"`                      // 向量维度，hashing 提供商必须设置
	BatchSize int    `yaml:"batch_size"`                     // 单次批量嵌入的最大文本数
}

// ChunkingConfig 定义了文档切分策略。
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`    // 每个分块的字符数 (rune)
	ChunkOverlap int `yaml:"chunk_overlap"` // 相邻分块的重叠字符数
}

// RetrievalConfig 定义了检索的参数。
type RetrievalConfig struct {
	TopK           int `yaml:"top_k"`            // 每次检索返回的分块数
	QueryCacheSize int `yaml:"query_cache_size"` // 查询向量缓存容量，0 表示不缓存
}

// ChatConfig 定义了对话引擎的参数。
type ChatConfig struct {
	HistoryTurns int    `yaml:"history_turns"` // 写入提示词的最近对话轮数
	SystemPrompt string `yaml:"system_prompt"` // 系统指令，为空时使用内置指令
}

// IndexConfig 定义了索引命名与结构。
type IndexConfig struct {
	VectorStore string `yaml:"vector_store"` // 向量库: "redis" 或 "memory"
	IDStrategy  string `yaml:"id_strategy"`  // 索引 ID 生成策略: "snowflake" 或 "uuidv7"
	NodeID      int64  `yaml:"node_id"`      // snowflake 节点编号
	KeyPrefix   string `yaml:"key_prefix"`   // Redis 中分块键的前缀
}

// ComparisonConfig 定义了模型对比的运行方式。
type ComparisonConfig struct {
	Mode   string               `yaml:"mode"`   // "live" 为每个配置真实调用后端，"simulated" 回显同一对话
	Models []models.ModelConfig `yaml:"models"` // 为空时使用内置的四个配置
}

// ServerConfig 定义了 HTTP 服务的配置。
type ServerConfig struct {
	Address        string `yaml:"address" env:"SERVER_ADDRESS"` // 监听地址
	SessionTTL     string `yaml:"session_ttl"`                  // 会话存活时间, 例如 "30m"
	MaxSessions    int    `yaml:"max_sessions"`                 // 同时保留的最大会话数
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`             // 上传文件大小上限
}

// AuthConfig 用于配置认证方法和相关设置。
type AuthConfig struct {
	Method    string `yaml:"method"`                      // 认证方法, "none" 或 "jwt"
	JwtSecret string `yaml:"jwt_secret" env:"JWT_SECRET"` // JWT 密钥
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rate_limiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Algorithm   string            `yaml:"algorithm"`   // 支持: "fixedWindow", "tokenBucket"
	PerClient   bool              `yaml:"per_client"`  // 为每个客户端地址单独限流
	MaxClients  int               `yaml:"max_clients"` // 单独限流时跟踪的最大客户端数
	FixedWindow FixedWindowConfig `yaml:"fixed_window"`
	TokenBucket TokenBucketConfig `yaml:"token_bucket"`
}

// FixedWindowConfig 定义了固定窗口计数器算法的配置。
type FixedWindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"` // 例如: "1m", "30s"
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App             AppInfo               `yaml:"app"`
	Logger          LoggerConfig          `yaml:"logger"`
	Redis           RedisConfig           `yaml:"redis"`
	InferenceServer InferenceServerConfig `yaml:"inference_server"`
	Embedding       EmbeddingConfig       `yaml:"embedding"`
	Chunking        ChunkingConfig        `yaml:"chunking"`
	Retrieval       RetrievalConfig       `yaml:"retrieval"`
	Chat            ChatConfig            `yaml:"chat"`
	Index           IndexConfig           `yaml:"index"`
	Comparison      ComparisonConfig      `yaml:"comparison"`
	Server          ServerConfig          `yaml:"server"`
	Auth            AuthConfig            `yaml:"auth"`
	Middleware      MiddlewareConfig      `yaml:"middleware"`
}

// Default 返回填充了默认值的配置，文件中出现的键会覆盖这些值。
func Default() *AppConfig {
	return &AppConfig{
		App:    AppInfo{Name: "ragcompare", Environment: "development", Topic: "your document"},
		Logger: LoggerConfig{Level: "info"},
		Redis:  RedisConfig{Port: 6379},
		InferenceServer: InferenceServerConfig{
			MaxNewTokens:      20,
			TopK:              3,
			TopP:              0.95,
			TypicalP:          0.95,
			Temperature:       0.9,
			RepetitionPenalty: 1.01,
			Timeout:           "120s",
		},
		Embedding:  EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text", BatchSize: 32},
		Chunking:   ChunkingConfig{ChunkSize: 1000, ChunkOverlap: 100},
		Retrieval:  RetrievalConfig{TopK: 4, QueryCacheSize: 256},
		Chat:       ChatConfig{HistoryTurns: 6},
		Index:      IndexConfig{VectorStore: "redis", IDStrategy: "snowflake", NodeID: 42, KeyPrefix: "doc"},
		Comparison: ComparisonConfig{Mode: "live"},
		Server: ServerConfig{
			Address:        ":8080",
			SessionTTL:     "30m",
			MaxSessions:    100,
			MaxUploadBytes: 20 << 20,
		},
		Auth: AuthConfig{Method: "none"},
	}
}

// Load 按运行环境加载配置：先读取可选的 .env 文件，再从 CONFIG_PATH (默认 config.yaml) 读取 YAML。
//
// 返回值:
//
//	*AppConfig: 解析并校验后的配置。
//	error: 缺少必需键、文件不可读或取值非法时返回 ConfigError。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Wrap(apperr.KindConfig, err, "load .env")
	}
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadConfig(path)
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取、解析或校验失败，则返回 ConfigError。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "无法读取 YAML 文件 '%s'", path)
	}
	return Parse(yamlFile)
}

// Parse 解析 YAML 内容，检查必需键，应用环境变量覆盖并校验取值。
func Parse(data []byte) (*AppConfig, error) {
	// 必需键的检查基于原始的键树，零值 (例如空密码) 也算作已提供。
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "解析 YAML 文件失败")
	}
	if missing := MissingKeys(raw); len(missing) > 0 {
		return nil, apperr.New(apperr.KindConfig, "missing required keys: %s", strings.Join(missing, ", "))
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "解析 YAML 文件失败")
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MissingKeys 返回 raw 中缺失的必需键 (点号分隔)，按字母序排列。
func MissingKeys(raw map[string]any) []string {
	var missing []string
	for _, key := range requiredKeys {
		if !hasKey(raw, strings.Split(key, ".")) {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

func hasKey(node map[string]any, path []string) bool {
	v, ok := node[path[0]]
	if !ok {
		return false
	}
	if len(path) == 1 {
		return true
	}
	child, ok := v.(map[string]any)
	if !ok {
		return false
	}
	return hasKey(child, path[1:])
}

// applyEnv 用环境变量覆盖带有 env 标签的字段，未设置的变量保留文件中的取值。
func applyEnv(cfg *AppConfig) error {
	targets := []any{&cfg.Logger, &cfg.InferenceServer, &cfg.Embedding, &cfg.Server, &cfg.Auth}
	for _, t := range targets {
		if err := env.Parse(t); err != nil {
			return apperr.Wrap(apperr.KindConfig, err, "apply environment overrides")
		}
	}
	return nil
}

// Validate 检查取值之间的约束。
func (c *AppConfig) Validate() error {
	var problems []string
	switch c.InferenceServer.Type {
	case "ollama", "tgi", "huggingface", "openai":
	default:
		problems = append(problems, fmt.Sprintf("inference_server.type %q is not one of ollama, tgi, huggingface, openai", c.InferenceServer.Type))
	}
	if c.InferenceServer.URL == "" {
		problems = append(problems, "inference_server.url must not be empty")
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "huggingface", "gemini":
	case "hashing":
		if c.Embedding.Dimension <= 0 {
			problems = append(problems, "embedding.dimension must be positive for the hashing provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if c.Chunking.ChunkSize <= 0 {
		problems = append(problems, "chunking.chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		problems = append(problems, "chunking.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Retrieval.TopK < 0 {
		problems = append(problems, "retrieval.top_k must not be negative")
	}
	if c.Chat.HistoryTurns < 0 {
		problems = append(problems, "chat.history_turns must not be negative")
	}
	switch c.Index.VectorStore {
	case "redis", "memory":
	default:
		problems = append(problems, fmt.Sprintf("index.vector_store %q is not one of redis, memory", c.Index.VectorStore))
	}
	switch c.Index.IDStrategy {
	case "snowflake", "uuidv7":
	default:
		problems = append(problems, fmt.Sprintf("index.id_strategy %q is not one of snowflake, uuidv7", c.Index.IDStrategy))
	}
	switch c.Comparison.Mode {
	case "live", "simulated":
	default:
		problems = append(problems, fmt.Sprintf("comparison.mode %q is not one of live, simulated", c.Comparison.Mode))
	}
	switch c.Auth.Method {
	case "none":
	case "jwt":
		if c.Auth.JwtSecret == "" {
			problems = append(problems, "auth.jwt_secret is required when auth.method is jwt")
		}
	default:
		problems = append(problems, fmt.Sprintf("auth.method %q is not one of none, jwt", c.Auth.Method))
	}
	for name, d := range map[string]string{
		"inference_server.timeout": c.InferenceServer.Timeout,
		"server.session_ttl":       c.Server.SessionTTL,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return apperr.New(apperr.KindConfig, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// RequestTimeout 返回模型后端的单次请求超时。
func (c InferenceServerConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// SessionTimeout 返回会话的存活时间。
func (c ServerConfig) SessionTimeout() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

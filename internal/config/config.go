package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// configDir is the configuration directory path
	// Can be set via SetConfigDir before loading config
	configDir     string
	configDirInit bool
)

// SetConfigDir sets a custom configuration directory
// Must be called before any config loading functions
func SetConfigDir(dir string) {
	configDir = dir
	configDirInit = true
}

// GetConfigDir returns the configuration directory
// Priority: 1. Manually set via SetConfigDir, 2. ./config in current directory
func GetConfigDir() string {
	if !configDirInit {
		cwd, err := os.Getwd()
		if err == nil {
			configDir = filepath.Join(cwd, "config")
		}
		configDirInit = true
	}
	return configDir
}

// Supported model providers.
const (
	ProviderDeepSeek         = "deepseek"
	ProviderOpenAICompatible = "openai_compatible"
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
)

// Config application configuration structure
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Router    RouterConfig    `yaml:"router"`
	Agents    AgentsConfig    `yaml:"agents"`
	Storage   StorageConfig   `yaml:"storage"`
	Market    MarketConfig    `yaml:"market"`
	WebSearch WebSearchConfig `yaml:"web_search"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ModelConfig LLM model configuration
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`
}

// RouterConfig controls how questions are assigned to specialists
type RouterConfig struct {
	UseLLM          bool    `yaml:"use_llm"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

// AgentsConfig bounds for specialist execution and memory compression
type AgentsConfig struct {
	TimeoutSeconds     int `yaml:"timeout_seconds"`
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
	MaxIterations      int `yaml:"max_iterations"`
	HistoryWindow      int `yaml:"history_window"`
	SynthesisThreshold int `yaml:"synthesis_threshold"`
}

// StorageConfig SQLite storage configuration
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DBPath string `yaml:"db_path"`
}

// MarketConfig market data provider configuration
type MarketConfig struct {
	Provider        string `yaml:"provider"`
	BaseURL         string `yaml:"base_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	UserAgent       string `yaml:"user_agent"`
}

// WebSearchConfig web search configuration
type WebSearchConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	DefaultLimit   int    `yaml:"default_limit"`
	UserAgent      string `yaml:"user_agent"`
}

// KnowledgeConfig retrieval knowledge base configuration
type KnowledgeConfig struct {
	Enabled   bool            `yaml:"enabled"`
	TopK      int             `yaml:"top_k"`
	MinScore  float64         `yaml:"min_score"`
	ChunkSize int             `yaml:"chunk_size"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig embedding endpoint configuration; an empty BaseURL selects
// the local hashing embedder
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// LoggingConfig log output configuration
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	MaxDays int    `yaml:"max_days"`
}

// MetricsConfig Prometheus exposition configuration
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Model: ModelConfig{
			Provider:    ProviderDeepSeek,
			APIKey:      "",
			BaseURL:     "https://api.deepseek.com",
			Model:       "deepseek-chat",
			Temperature: 0.2,
			MaxTokens:   2048,
			MaxRetries:  2,
		},
		Router: RouterConfig{
			UseLLM:          true,
			ConfidenceFloor: 0.5,
			TimeoutSeconds:  20,
		},
		Agents: AgentsConfig{
			TimeoutSeconds:     300,
			CallTimeoutSeconds: 60,
			MaxIterations:      8,
			HistoryWindow:      12,
			SynthesisThreshold: 5,
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DBPath: filepath.Join(homeDir, ".finmate", "finmate.db"),
		},
		Market: MarketConfig{
			Provider:        "yahoo",
			BaseURL:         "https://query1.finance.yahoo.com",
			CacheTTLSeconds: 60,
			TimeoutSeconds:  10,
			UserAgent:       "FinMate/0.1",
		},
		WebSearch: WebSearchConfig{
			Provider:       "duckduckgo",
			BaseURL:        "https://api.duckduckgo.com",
			APIKey:         "",
			TimeoutSeconds: 15,
			DefaultLimit:   5,
			UserAgent:      "FinMate/0.1",
		},
		Knowledge: KnowledgeConfig{
			Enabled:   true,
			TopK:      4,
			MinScore:  0.1,
			ChunkSize: 800,
			Embedding: EmbeddingConfig{
				Dimension: 256,
			},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: false,
			MaxDays: 7,
		},
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	dir := GetConfigDir()
	if dir == "" {
		return "", fmt.Errorf("failed to determine config directory")
	}
	return dir, nil
}

// LogDir returns the log directory path
func LogDir() string {
	dir := GetConfigDir()
	if dir == "" {
		return "logs"
	}
	return filepath.Join(dir, "logs")
}

// ConfigPath returns the configuration file path
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from file and merges with secrets
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// First run: persist defaults without secrets, then merge them in memory
		cfg := DefaultConfig()
		if err := Save(cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		secrets, _ := LoadSecrets()
		cfg.mergeSecrets(secrets)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig() // Use default values as base
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	secrets, _ := LoadSecrets()
	cfg.mergeSecrets(secrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeSecrets fills API keys that the config file leaves empty
func (c *Config) mergeSecrets(s *Secrets) {
	if s == nil {
		return
	}
	if c.Model.APIKey == "" {
		c.Model.APIKey = s.ModelAPIKey(c.Model.Provider)
	}
	if c.WebSearch.APIKey == "" {
		c.WebSearch.APIKey = s.GetWebSearchAPIKey()
	}
	if c.Knowledge.Embedding.APIKey == "" {
		c.Knowledge.Embedding.APIKey = s.GetOrDefault("EMBEDDING_API_KEY", s.GetOpenAIAPIKey())
	}
}

// Save saves configuration to file
func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	content := "# FinMate Configuration File\n# API keys belong in .secrets next to this file\n\n" + string(data)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Model.Provider)) {
	case ProviderDeepSeek, ProviderOpenAICompatible, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("config error: model.provider %q is not supported", c.Model.Provider)
	}
	if c.Model.Model == "" {
		return fmt.Errorf("config error: model.model cannot be empty")
	}
	if c.Model.Provider == ProviderDeepSeek || c.Model.Provider == ProviderOpenAICompatible {
		if c.Model.BaseURL == "" {
			return fmt.Errorf("config error: model.base_url cannot be empty")
		}
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("config error: model.temperature must be between 0 and 2")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("config error: model.max_tokens must be greater than 0")
	}
	if c.Model.MaxRetries < 0 {
		return fmt.Errorf("config error: model.max_retries cannot be negative")
	}

	if c.Router.ConfidenceFloor < 0 || c.Router.ConfidenceFloor > 1 {
		return fmt.Errorf("config error: router.confidence_floor must be between 0 and 1")
	}
	if c.Router.TimeoutSeconds <= 0 {
		return fmt.Errorf("config error: router.timeout_seconds must be greater than 0")
	}

	if c.Agents.TimeoutSeconds <= 0 {
		return fmt.Errorf("config error: agents.timeout_seconds must be greater than 0")
	}
	if c.Agents.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("config error: agents.call_timeout_seconds must be greater than 0")
	}
	if c.Agents.MaxIterations <= 0 {
		return fmt.Errorf("config error: agents.max_iterations must be greater than 0")
	}
	if c.Agents.HistoryWindow <= 0 {
		return fmt.Errorf("config error: agents.history_window must be greater than 0")
	}
	if c.Agents.SynthesisThreshold <= 0 {
		return fmt.Errorf("config error: agents.synthesis_threshold must be greater than 0")
	}

	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("config error: storage.driver must be sqlite3 or sqlite")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("config error: storage.db_path cannot be empty")
	}

	switch strings.ToLower(strings.TrimSpace(c.Market.Provider)) {
	case "yahoo":
		if strings.TrimSpace(c.Market.BaseURL) == "" {
			return fmt.Errorf("config error: market.base_url cannot be empty for yahoo provider")
		}
	case "static":
	default:
		return fmt.Errorf("config error: market.provider must be yahoo or static")
	}
	if c.Market.CacheTTLSeconds < 0 {
		return fmt.Errorf("config error: market.cache_ttl_seconds cannot be negative")
	}
	if c.Market.TimeoutSeconds <= 0 {
		return fmt.Errorf("config error: market.timeout_seconds must be greater than 0")
	}

	provider := strings.ToLower(strings.TrimSpace(c.WebSearch.Provider))
	if provider == "" {
		provider = "duckduckgo"
	}
	if provider == "searxng" && strings.TrimSpace(c.WebSearch.BaseURL) == "" {
		return fmt.Errorf("config error: web_search.base_url cannot be empty for searxng provider")
	}
	if c.WebSearch.TimeoutSeconds <= 0 {
		return fmt.Errorf("config error: web_search.timeout_seconds must be greater than 0")
	}
	if c.WebSearch.DefaultLimit <= 0 {
		return fmt.Errorf("config error: web_search.default_limit must be greater than 0")
	}

	if c.Knowledge.Enabled {
		if c.Knowledge.TopK <= 0 {
			return fmt.Errorf("config error: knowledge.top_k must be greater than 0")
		}
		if c.Knowledge.ChunkSize <= 0 {
			return fmt.Errorf("config error: knowledge.chunk_size must be greater than 0")
		}
		if c.Knowledge.Embedding.Dimension <= 0 {
			return fmt.Errorf("config error: knowledge.embedding.dimension must be greater than 0")
		}
	}

	return nil
}

// IsAPIKeyConfigured checks if API key is configured
func (c *Config) IsAPIKeyConfigured() bool {
	return c.Model.APIKey != ""
}

// RequestTimeout is the end-to-end budget of one question.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Agents.TimeoutSeconds) * time.Second
}

// CallTimeout bounds a single model call inside a specialist run.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Agents.CallTimeoutSeconds) * time.Second
}

// String returns string representation of config (hides sensitive info)
func (c *Config) String() string {
	return fmt.Sprintf(`FinMate Configuration:
  Model:
    Provider: %s
    API Key: %s
    Base URL: %s
    Model: %s
    Temperature: %.1f
    Max Tokens: %d
  Router:
    Use LLM: %v
    Confidence Floor: %.2f
  Agents:
    Timeout Seconds: %d
    Max Iterations: %d
    History Window: %d
    Synthesis Threshold: %d
  Storage:
    Driver: %s
    DB Path: %s
  Market:
    Provider: %s
    Base URL: %s
    Cache TTL Seconds: %d
  Web Search:
    Provider: %s
    Base URL: %s
    API Key: %s
    Timeout Seconds: %d
    Default Limit: %d
  Knowledge:
    Enabled: %v
    Embedding: %s
    Embedding API Key: %s`,
		c.Model.Provider,
		redactAPIKey(c.Model.APIKey),
		c.Model.BaseURL,
		c.Model.Model,
		c.Model.Temperature,
		c.Model.MaxTokens,
		c.Router.UseLLM,
		c.Router.ConfidenceFloor,
		c.Agents.TimeoutSeconds,
		c.Agents.MaxIterations,
		c.Agents.HistoryWindow,
		c.Agents.SynthesisThreshold,
		c.Storage.Driver,
		c.Storage.DBPath,
		c.Market.Provider,
		c.Market.BaseURL,
		c.Market.CacheTTLSeconds,
		c.WebSearch.Provider,
		c.WebSearch.BaseURL,
		redactAPIKey(c.WebSearch.APIKey),
		c.WebSearch.TimeoutSeconds,
		c.WebSearch.DefaultLimit,
		c.Knowledge.Enabled,
		embeddingLabel(c.Knowledge.Embedding),
		redactAPIKey(c.Knowledge.Embedding.APIKey),
	)
}

func embeddingLabel(e EmbeddingConfig) string {
	if e.BaseURL == "" {
		return fmt.Sprintf("local hashing (%d dims)", e.Dimension)
	}
	return fmt.Sprintf("%s %s (%d dims)", e.BaseURL, e.Model, e.Dimension)
}

func redactAPIKey(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if len(value) > 8 {
		return value[:8] + "..."
	}
	return "***"
}

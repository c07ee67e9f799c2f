package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Provider != ProviderDeepSeek {
		t.Errorf("Expected provider to be deepseek, got %s", cfg.Model.Provider)
	}

	if cfg.Agents.TimeoutSeconds != 300 {
		t.Errorf("Expected agents timeout 300, got %d", cfg.Agents.TimeoutSeconds)
	}

	if cfg.Agents.MaxIterations != 8 {
		t.Errorf("Expected MaxIterations to be 8, got %d", cfg.Agents.MaxIterations)
	}

	if cfg.Agents.SynthesisThreshold != 5 {
		t.Errorf("Expected SynthesisThreshold to be 5, got %d", cfg.Agents.SynthesisThreshold)
	}

	if cfg.Agents.HistoryWindow != 12 {
		t.Errorf("Expected HistoryWindow to be 12, got %d", cfg.Agents.HistoryWindow)
	}

	if cfg.WebSearch.Provider != "duckduckgo" {
		t.Errorf("Expected WebSearch provider to be duckduckgo, got %s", cfg.WebSearch.Provider)
	}

	if cfg.RequestTimeout() != 300*time.Second {
		t.Errorf("RequestTimeout() = %v", cfg.RequestTimeout())
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Model.Provider = "bard" },
			wantErr: "model.provider",
		},
		{
			name:    "empty BaseURL for compatible provider",
			mutate:  func(c *Config) { c.Model.BaseURL = "" },
			wantErr: "model.base_url",
		},
		{
			name: "empty BaseURL allowed for anthropic",
			mutate: func(c *Config) {
				c.Model.Provider = ProviderAnthropic
				c.Model.BaseURL = ""
				c.Model.Model = "claude-sonnet-4-5"
			},
		},
		{
			name:    "invalid Temperature",
			mutate:  func(c *Config) { c.Model.Temperature = 3.0 },
			wantErr: "model.temperature",
		},
		{
			name:    "confidence floor out of range",
			mutate:  func(c *Config) { c.Router.ConfidenceFloor = 1.5 },
			wantErr: "router.confidence_floor",
		},
		{
			name:    "zero max iterations",
			mutate:  func(c *Config) { c.Agents.MaxIterations = 0 },
			wantErr: "agents.max_iterations",
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "storage.driver",
		},
		{
			name:    "searxng without base url",
			mutate:  func(c *Config) { c.WebSearch.Provider = "searxng"; c.WebSearch.BaseURL = "" },
			wantErr: "web_search.base_url",
		},
		{
			name:    "unknown market provider",
			mutate:  func(c *Config) { c.Market.Provider = "bloomberg" },
			wantErr: "market.provider",
		},
		{
			name: "knowledge disabled skips its checks",
			mutate: func(c *Config) {
				c.Knowledge.Enabled = false
				c.Knowledge.TopK = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	configTestDir := filepath.Join(t.TempDir(), "config")
	SetConfigDir(configTestDir)

	cfg := DefaultConfig()
	cfg.Model.APIKey = "test-api-key"
	cfg.Agents.SynthesisThreshold = 7

	if err := Save(cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	configPath := filepath.Join(configTestDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file not created")
	}

	loadedCfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loadedCfg.Model.APIKey != cfg.Model.APIKey {
		t.Errorf("API Key mismatch: expected %s, got %s", cfg.Model.APIKey, loadedCfg.Model.APIKey)
	}
	if loadedCfg.Agents.SynthesisThreshold != 7 {
		t.Errorf("SynthesisThreshold = %d, want 7", loadedCfg.Agents.SynthesisThreshold)
	}
}

func TestLoadMergesSecrets(t *testing.T) {
	configTestDir := filepath.Join(t.TempDir(), "config")
	SetConfigDir(configTestDir)

	cfg := DefaultConfig()
	cfg.Model.Provider = ProviderAnthropic
	cfg.Model.Model = "claude-sonnet-4-5"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	secrets := "# keys\nANTHROPIC_API_KEY=sk-ant-123\nDEEPSEEK_API_KEY=sk-ds-456\nWEB_SEARCH_API_KEY = web-789\n"
	if err := os.WriteFile(filepath.Join(configTestDir, ".secrets"), []byte(secrets), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Model.APIKey != "sk-ant-123" {
		t.Errorf("Model.APIKey = %q, want anthropic key", loaded.Model.APIKey)
	}
	if loaded.WebSearch.APIKey != "web-789" {
		t.Errorf("WebSearch.APIKey = %q", loaded.WebSearch.APIKey)
	}
}

func TestIsAPIKeyConfigured(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.IsAPIKeyConfigured() {
		t.Error("Default config should not have API Key")
	}

	cfg.Model.APIKey = "test-key"
	if !cfg.IsAPIKeyConfigured() {
		t.Error("Should return true after setting API Key")
	}
}

func TestStringRedactsKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-1234567890abcdef"

	out := cfg.String()
	if strings.Contains(out, "sk-1234567890abcdef") {
		t.Error("String() leaked the full API key")
	}
	if !strings.Contains(out, "sk-12345...") {
		t.Errorf("String() missing redacted key prefix:\n%s", out)
	}
}

func TestLoadPromptConfigOverridesSingleAgent(t *testing.T) {
	configTestDir := filepath.Join(t.TempDir(), "config")
	SetConfigDir(configTestDir)
	if err := os.MkdirAll(configTestDir, 0755); err != nil {
		t.Fatal(err)
	}

	data := "agents:\n  tax_education_agent: \"Custom tax prompt\"\n"
	if err := os.WriteFile(filepath.Join(configTestDir, "prompt.yaml"), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPromptConfig()
	if err != nil {
		t.Fatalf("LoadPromptConfig() error = %v", err)
	}
	if !strings.HasPrefix(p.AgentPrompt("tax_education_agent"), "Custom tax prompt") {
		t.Errorf("override not applied: %q", p.AgentPrompt("tax_education_agent"))
	}
	if !strings.Contains(p.AgentPrompt("trading_agent"), "paper-trading") {
		t.Error("default prompt for trading_agent should survive a partial override")
	}
	if p.AgentPrompt("unknown") != p.AgentPrompt("finance_qa_agent") {
		t.Error("unknown agents should fall back to the finance QA prompt")
	}
}

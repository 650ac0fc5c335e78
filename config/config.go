package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// OllamaConfig represents configuration for the Ollama backend, which serves
// both embedding generation and turn classification.
type OllamaConfig struct {
	Host            string `yaml:"host,omitempty"`             // Ollama host (default: "http://localhost:11434")
	EmbedModel      string `yaml:"embed_model,omitempty"`      // Embedding model name
	ClassifierModel string `yaml:"classifier_model,omitempty"` // Classifier model name
	NumCtx          int    `yaml:"num_ctx,omitempty"`          // Classifier context window in tokens
}

// OpenAIConfig represents configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`    // Custom base URL (default: official API)
	EmbedModel string `yaml:"embed_model,omitempty"` // Embedding model name
}

// AnthropicConfig represents configuration for the Anthropic classifier provider.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`
	Model     string `yaml:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider,omitempty"` // "ollama" or "openai"
}

// ClassifierConfig selects the turn-classifier provider.
type ClassifierConfig struct {
	Provider string `yaml:"provider,omitempty"` // "ollama" or "anthropic"
	Disabled bool   `yaml:"disabled,omitempty"` // Disable the observation pipeline entirely
}

// SearchConfig holds the hybrid ranking weights.
type SearchConfig struct {
	LexicalWeight  float64 `yaml:"lexical_weight,omitempty"`
	SemanticWeight float64 `yaml:"semantic_weight,omitempty"`
}

// STMConfig holds short-term memory buffer settings.
type STMConfig struct {
	RedisURL      string `yaml:"redis_url,omitempty"`      // Empty = in-process TTL store
	TTLSeconds    int    `yaml:"ttl_seconds,omitempty"`    // Retention window per slot (default 3600)
	SnippetBudget int    `yaml:"snippet_budget,omitempty"` // Max bytes of conversation sent to the classifier
}

// ServerConfig represents the full daemon configuration.
type ServerConfig struct {
	Server struct {
		Addr   string `yaml:"addr,omitempty"`    // HTTP listen address (default: 127.0.0.1:7867)
		APIKey string `yaml:"api_key,omitempty"` // Required on every endpoint except /health
	} `yaml:"server,omitempty"`

	Database struct {
		Path string `yaml:"path,omitempty"` // SQLite database file
	} `yaml:"database,omitempty"`

	Search     SearchConfig     `yaml:"search,omitempty"`
	Embeddings EmbeddingsConfig `yaml:"embeddings,omitempty"`
	Classifier ClassifierConfig `yaml:"classifier,omitempty"`
	STM        STMConfig        `yaml:"stm,omitempty"`

	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`

	Heartbeat struct {
		Schedule string `yaml:"schedule,omitempty"` // Cron spec for the health heartbeat log
	} `yaml:"heartbeat,omitempty"`

	MCP struct {
		Enabled bool `yaml:"enabled,omitempty"` // Serve MCP tools on stdio instead of HTTP
	} `yaml:"mcp,omitempty"`
}

// GetServerConfigPath returns the default config file path.
// Can be overridden via MNEMOD_CONFIG_PATH environment variable.
func GetServerConfigPath() string {
	if envPath := os.Getenv("MNEMOD_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.mnemod/config.yaml"
	}
	return filepath.Join(homeDir, ".mnemod", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Defaults returns the built-in configuration defaults.
func Defaults() ServerConfig {
	defaults := ServerConfig{
		Search: SearchConfig{
			LexicalWeight:  0.5,
			SemanticWeight: 0.5,
		},
		Embeddings: EmbeddingsConfig{Provider: "ollama"},
		Classifier: ClassifierConfig{Provider: "ollama"},
		STM: STMConfig{
			TTLSeconds:    3600,
			SnippetBudget: 24576,
		},
		Ollama: OllamaConfig{
			Host:            "http://localhost:11434",
			EmbedModel:      "nomic-embed-text",
			ClassifierModel: "olmo2:13b",
			NumCtx:          24576,
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			EmbedModel: "text-embedding-3-small",
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 1024,
		},
	}
	defaults.Server.Addr = "127.0.0.1:7867"
	defaults.Database.Path = "mnemod.db"
	defaults.Heartbeat.Schedule = "@every 5m"
	return defaults
}

// LoadServerConfig loads the daemon configuration: built-in defaults, then the
// config file (if present), then environment variable overrides.
func LoadServerConfig(path string) (*ServerConfig, error) {
	defaults := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig ServerConfig
		if err := yaml.Unmarshal(configYAML, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Merge file config onto defaults (file values take precedence)
		if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	applyEnvOverrides(&defaults)

	if defaults.Server.APIKey == "" {
		return nil, fmt.Errorf("missing server.api_key in config file (or MNEMOD_API_KEY)")
	}

	return &defaults, nil
}

// applyEnvOverrides applies host-style environment variable overrides on top
// of the merged configuration.
func applyEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv("MNEMOD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("MNEMOD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Ollama.Host = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Ollama.ClassifierModel = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.STM.RedisURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
}

// SaveServerConfig saves the configuration to the specified path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

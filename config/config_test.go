package config

import (
	"path/filepath"
	"testing"
)

func TestSaveAndLoadServerConfig(t *testing.T) {
	t.Setenv("MNEMOD_API_KEY", "")
	t.Setenv("MNEMOD_ADDR", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OLLAMA_MODEL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Server.APIKey = "round-trip-key"
	cfg.Server.Addr = "127.0.0.1:9999"
	cfg.Search.LexicalWeight = 0.7
	cfg.Search.SemanticWeight = 0.3
	if err := SaveServerConfig(&cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.APIKey != "round-trip-key" {
		t.Errorf("api key = %q", loaded.Server.APIKey)
	}
	if loaded.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("addr = %q", loaded.Server.Addr)
	}
	if loaded.Search.LexicalWeight != 0.7 || loaded.Search.SemanticWeight != 0.3 {
		t.Errorf("weights = %f/%f", loaded.Search.LexicalWeight, loaded.Search.SemanticWeight)
	}
	// Fields absent from the file keep their defaults.
	if loaded.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("embed model = %q", loaded.Ollama.EmbedModel)
	}
}

func TestLoadServerConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("MNEMOD_API_KEY", "")

	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error without an API key")
	}
}

func TestLoadServerConfigEnvOverride(t *testing.T) {
	t.Setenv("MNEMOD_API_KEY", "env-key")
	t.Setenv("MNEMOD_ADDR", "0.0.0.0:7000")

	loaded, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.APIKey != "env-key" {
		t.Errorf("api key = %q", loaded.Server.APIKey)
	}
	if loaded.Server.Addr != "0.0.0.0:7000" {
		t.Errorf("addr = %q", loaded.Server.Addr)
	}
}

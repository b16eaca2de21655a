package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "mistral"
  max_tokens: 2000
  temperature: 0.5

database:
  url: "postgres://localhost:5432/test"
  table_prefix: "test_"
  vector_dim: 1536

detection:
  semantic_threshold: 0.9
  numeric_tolerance: 0.02
  adjudicator_parallelism: 8

server:
  port: "9090"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, 2000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "test_", config.Database.TablePrefix)
	assert.Equal(t, 0.9, config.Detection.SemanticThreshold)
	assert.Equal(t, 0.02, config.Detection.NumericTolerance)
	assert.Equal(t, 8, config.Detection.AdjudicatorParallelism)
	assert.Equal(t, "9090", config.Server.Port)

	// Unset values fall back to defaults
	assert.Equal(t, 4.0, config.Detection.AdjudicatorRateLimit)
	assert.Equal(t, 2000, config.Detection.SnippetLimit)
	assert.Equal(t, 1500, config.Detection.PairTextLimit)
}

func TestApplyDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "bidcheck_", config.Database.TablePrefix)
	assert.Equal(t, 768, config.Database.VectorDim)
	assert.Equal(t, 0.85, config.Detection.SemanticThreshold)
	assert.Equal(t, 0.01, config.Detection.NumericTolerance)
	assert.Equal(t, 4, config.Detection.AdjudicatorParallelism)
	assert.Equal(t, "8080", config.Server.Port)
}

func TestConfigValidation(t *testing.T) {
	valid := &Config{}
	applyDefaults(valid)
	assert.Empty(t, valid.Validate())

	invalid := &Config{}
	applyDefaults(invalid)
	invalid.LLM.MaxTokens = 50000
	invalid.LLM.Temperature = 3.0
	invalid.Database.VectorDim = -1
	invalid.Detection.SemanticThreshold = 1.5
	invalid.Detection.NumericTolerance = 1.0

	errors := invalid.Validate()
	assert.Len(t, errors, 5)

	fields := make([]string, 0, len(errors))
	for _, e := range errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "llm.max_tokens")
	assert.Contains(t, fields, "llm.temperature")
	assert.Contains(t, fields, "database.vector_dim")
	assert.Contains(t, fields, "detection.semantic_threshold")
	assert.Contains(t, fields, "detection.numeric_tolerance")
}

func TestEnvironmentOverrides(t *testing.T) {
	// Set environment variables
	os.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	os.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	defer func() {
		os.Unsetenv("OLLAMA_BASE_URL")
		os.Unsetenv("DATABASE_URL")
	}()

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Database struct {
		URL         string `yaml:"url"`
		TablePrefix string `yaml:"table_prefix"`
		VectorDim   int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Detection struct {
		SemanticThreshold      float64 `yaml:"semantic_threshold"`
		NumericTolerance       float64 `yaml:"numeric_tolerance"`
		AdjudicatorParallelism int     `yaml:"adjudicator_parallelism"`
		AdjudicatorRateLimit   float64 `yaml:"adjudicator_rate_limit"`
		SnippetLimit           int     `yaml:"snippet_limit"`
		PairTextLimit          int     `yaml:"pair_text_limit"`
	} `yaml:"detection"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// Pick up a .env file if one is present
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/bidcheck/config.yaml"),
			"/etc/bidcheck/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Database.TablePrefix == "" {
		config.Database.TablePrefix = "bidcheck_"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Detection.SemanticThreshold == 0 {
		config.Detection.SemanticThreshold = 0.85
	}
	if config.Detection.NumericTolerance == 0 {
		config.Detection.NumericTolerance = 0.01
	}
	if config.Detection.AdjudicatorParallelism == 0 {
		config.Detection.AdjudicatorParallelism = 4
	}
	if config.Detection.AdjudicatorRateLimit == 0 {
		config.Detection.AdjudicatorRateLimit = 4.0
	}
	if config.Detection.SnippetLimit == 0 {
		config.Detection.SnippetLimit = 2000
	}
	if config.Detection.PairTextLimit == 0 {
		config.Detection.PairTextLimit = 1500
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}

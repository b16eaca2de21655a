package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	// Validate Detection config
	if c.Detection.SemanticThreshold <= 0 || c.Detection.SemanticThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "detection.semantic_threshold",
			Message: "semantic_threshold must be in (0, 1]",
		})
	}

	if c.Detection.NumericTolerance <= 0 || c.Detection.NumericTolerance >= 1 {
		errors = append(errors, ValidationError{
			Field:   "detection.numeric_tolerance",
			Message: "numeric_tolerance must be in (0, 1)",
		})
	}

	if c.Detection.AdjudicatorParallelism < 1 {
		errors = append(errors, ValidationError{
			Field:   "detection.adjudicator_parallelism",
			Message: "adjudicator_parallelism must be positive",
		})
	}

	if c.Detection.AdjudicatorRateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "detection.adjudicator_rate_limit",
			Message: "adjudicator_rate_limit must be positive",
		})
	}

	if c.Detection.SnippetLimit < 100 {
		errors = append(errors, ValidationError{
			Field:   "detection.snippet_limit",
			Message: "snippet_limit must be at least 100",
		})
	}

	if c.Detection.PairTextLimit < 100 {
		errors = append(errors, ValidationError{
			Field:   "detection.pair_text_limit",
			Message: "pair_text_limit must be at least 100",
		})
	}

	return errors
}

package adjudicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/bidcheck/bidcheck/internal/models"
)

// EngineConfig represents the configuration for the conflict
// adjudication engine.
type EngineConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
}

// Engine asks an LLM whether two document excerpts contradict each
// other. It satisfies types.Adjudicator; callers are expected to treat
// a returned error as a negative verdict.
type Engine struct {
	config EngineConfig
	llm    llms.Model
}

const systemTemplate = `You compare two excerpts taken from different documents in the same project and decide whether they contradict each other in scope, specification, obligation, amount, or schedule.

Respond with a single JSON object and nothing else:
{"isConflict": true|false, "description": "what contradicts and how", "severity": "low"|"medium"|"high"|"critical", "confidence": 0.0-1.0, "suggestedResolution": "how to reconcile the documents"}

If the excerpts merely cover the same topic without contradicting each other, isConflict is false.`

// NewWithConfig creates a new adjudication Engine with the given
// configuration.
func NewWithConfig(config EngineConfig) (*Engine, error) {
	if config.Model == "" {
		config.Model = "llama3"
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.1
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Engine{
		config: config,
		llm:    llm,
	}, nil
}

// Classify submits both excerpts and parses the model's verdict.
func (e *Engine) Classify(ctx context.Context, textA, textB string) (models.Verdict, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman,
			fmt.Sprintf("Excerpt A:\n%s\n\nExcerpt B:\n%s", textA, textB)),
	}

	response, err := e.llm.GenerateContent(ctx, content,
		llms.WithTemperature(e.config.Temperature),
		llms.WithMaxTokens(e.config.MaxTokens))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("classify: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return models.Verdict{}, fmt.Errorf("classify: empty response from model")
	}

	return ParseVerdict(response.Choices[0].Content)
}

// ParseVerdict extracts a Verdict from raw model output. Models wrap
// JSON in code fences or prose often enough that the parser hunts for
// the outermost object instead of unmarshaling the whole string.
func ParseVerdict(raw string) (models.Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return models.Verdict{}, fmt.Errorf("parse verdict: no JSON object in %q", truncateForError(raw))
	}

	var wire struct {
		IsConflict          bool    `json:"isConflict"`
		Description         string  `json:"description"`
		Severity            string  `json:"severity"`
		Confidence          float64 `json:"confidence"`
		SuggestedResolution string  `json:"suggestedResolution"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return models.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}

	verdict := models.Verdict{
		IsConflict:          wire.IsConflict,
		Description:         wire.Description,
		Severity:            normalizeSeverity(wire.Severity),
		Confidence:          clamp01(wire.Confidence),
		SuggestedResolution: wire.SuggestedResolution,
	}
	return verdict, nil
}

func normalizeSeverity(s string) models.Severity {
	switch models.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case models.SeverityLow:
		return models.SeverityLow
	case models.SeverityMedium:
		return models.SeverityMedium
	case models.SeverityHigh:
		return models.SeverityHigh
	case models.SeverityCritical:
		return models.SeverityCritical
	default:
		return models.SeverityMedium
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncateForError(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

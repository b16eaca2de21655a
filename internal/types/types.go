package types

import (
	"context"

	"github.com/bidcheck/bidcheck/internal/models"
)

// Core interfaces

// ChunkSource provides a project's documents and their pre-embedded
// chunks. Upload, text extraction, chunking and embedding all happen
// upstream of this engine.
type ChunkSource interface {
	ListDocuments(ctx context.Context, projectID string) ([]models.Document, error)
	ListChunks(ctx context.Context, projectID string) ([]models.Chunk, error)
}

// ConflictStore persists conflicts and manages their lifecycle. Every
// operation is scoped to a project; a conflict from another project is
// invisible even with a valid id.
type ConflictStore interface {
	InsertConflicts(ctx context.Context, conflicts []models.Conflict) error
	ListConflicts(ctx context.Context, projectID string, filter models.ConflictFilter) ([]models.Conflict, error)
	UpdateConflictStatus(ctx context.Context, conflictID, projectID string, status models.ConflictStatus, userID, resolution string) (*models.Conflict, error)
	ConflictStats(ctx context.Context, projectID string) (*models.ConflictStats, error)
}

// RunStore persists detection run records.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.DetectionRun) error
	CompleteRun(ctx context.Context, runID string, counts models.RunCounts) error
	FailRun(ctx context.Context, runID, message string) error
}

// Adjudicator classifies whether two text excerpts contradict each
// other. Implementations may fail; callers must treat an error as a
// negative verdict rather than aborting the surrounding run.
type Adjudicator interface {
	Classify(ctx context.Context, textA, textB string) (models.Verdict, error)
}

// DetectionOptions selects which detectors a run executes.
type DetectionOptions struct {
	DetectSemantic    bool
	DetectNumeric     bool
	SemanticThreshold float64
}

// DefaultDetectionOptions enables both detectors with the stock
// similarity threshold.
func DefaultDetectionOptions() DetectionOptions {
	return DetectionOptions{
		DetectSemantic:    true,
		DetectNumeric:     true,
		SemanticThreshold: 0.85,
	}
}

type DetectionConfig struct {
	SemanticThreshold      float64
	NumericTolerance       float64
	AdjudicatorParallelism int
	AdjudicatorRateLimit   float64 // classify calls per second
	SnippetLimit           int     // max stored source/target text length
	PairTextLimit          int     // max text length sent to the adjudicator
}

type DatabaseConfig struct {
	URL         string
	TablePrefix string
	VectorDim   int
}

type LLMConfig struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

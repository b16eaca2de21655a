package models

import "time"

type ConflictType string

const (
	ConflictTypeSemantic ConflictType = "semantic"
	ConflictTypeNumeric  ConflictType = "numeric"
	ConflictTypeTemporal ConflictType = "temporal"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ConflictStatus string

const (
	StatusDetected  ConflictStatus = "detected"
	StatusResolved  ConflictStatus = "resolved"
	StatusDismissed ConflictStatus = "dismissed"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ValueType string

const (
	ValueTypeNumber     ValueType = "number"
	ValueTypePercentage ValueType = "percentage"
	ValueTypeDate       ValueType = "date"
	ValueTypeCurrency   ValueType = "currency"
	ValueTypeDuration   ValueType = "duration"
	ValueTypeQuantity   ValueType = "quantity"
)

type Document struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chunk is a pre-chunked, pre-embedded slice of a document. Chunks are
// produced upstream; this engine only reads them.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	ChunkIndex int       `json:"chunkIndex"`
}

// ExtractedValue is a structured value mention found in chunk text.
// It lives only for the duration of a detection run; conflicts carry
// the raw strings forward in their metadata.
type ExtractedValue struct {
	Raw        string    // matched text as it appeared
	Number     float64   // parsed payload, unset for dates
	Type       ValueType
	Unit       string
	Context    string // keyword bucket used as the comparison grouping key
	ChunkID    string
	DocumentID string
	Position   int // character offset of the match in the chunk
}

// ConflictMetadata carries the two raw values behind a numeric or
// temporal conflict.
type ConflictMetadata struct {
	SourceValue string `json:"sourceValue"`
	TargetValue string `json:"targetValue"`
}

// Conflict is the persisted record of a contradiction between two
// documents. Source and target always belong to different documents.
type Conflict struct {
	ID                  string            `json:"id"`
	ProjectID           string            `json:"projectId"`
	Type                ConflictType      `json:"conflictType"`
	Severity            Severity          `json:"severity"`
	Status              ConflictStatus    `json:"status"`
	SourceDocumentID    string            `json:"sourceDocumentId"`
	SourceChunkID       string            `json:"sourceChunkId"`
	SourceText          string            `json:"sourceText"`
	TargetDocumentID    string            `json:"targetDocumentId"`
	TargetChunkID       string            `json:"targetChunkId"`
	TargetText          string            `json:"targetText"`
	Description         string            `json:"description"`
	SuggestedResolution string            `json:"suggestedResolution,omitempty"`
	ConfidenceScore     *float64          `json:"confidenceScore,omitempty"`
	SemanticSimilarity  *float64          `json:"semanticSimilarity,omitempty"`
	Metadata            *ConflictMetadata `json:"metadata,omitempty"`
	Resolution          string            `json:"resolution,omitempty"`
	ResolvedBy          string            `json:"resolvedBy,omitempty"`
	ResolvedAt          *time.Time        `json:"resolvedAt,omitempty"`
	DetectedAt          time.Time         `json:"detectedAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// Verdict is the adjudicator's answer for one candidate chunk pair.
type Verdict struct {
	IsConflict          bool     `json:"isConflict"`
	Description         string   `json:"description"`
	Severity            Severity `json:"severity"`
	Confidence          float64  `json:"confidence"`
	SuggestedResolution string   `json:"suggestedResolution,omitempty"`
}

// RunCounts aggregates conflicts found during one detection run.
type RunCounts struct {
	Total    int `json:"totalConflicts"`
	Semantic int `json:"semanticConflicts"`
	Numeric  int `json:"numericConflicts"`
	Temporal int `json:"temporalConflicts"`
}

// DetectionRun tracks one detection pass over a project. Terminal once
// completed or failed.
type DetectionRun struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Status      RunStatus  `json:"status"`
	Counts      RunCounts  `json:"counts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type RunSummary struct {
	RunID string `json:"runId"`
	RunCounts
}

// ConflictFilter narrows a conflict listing. Empty fields match all.
type ConflictFilter struct {
	Type     ConflictType
	Severity Severity
	Status   ConflictStatus
}

// ConflictStats aggregates a project's conflicts for reporting. Pending
// counts every conflict that is neither resolved nor dismissed.
type ConflictStats struct {
	Total      int                    `json:"total"`
	ByType     map[ConflictType]int   `json:"byType"`
	BySeverity map[Severity]int       `json:"bySeverity"`
	ByStatus   map[ConflictStatus]int `json:"byStatus"`
	Resolved   int                    `json:"resolved"`
	Pending    int                    `json:"pending"`
}

package detector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bidcheck/bidcheck/internal/models"
	"github.com/bidcheck/bidcheck/internal/types"
	"github.com/bidcheck/bidcheck/pkg/comparator"
	"github.com/bidcheck/bidcheck/pkg/extractor"
	"github.com/bidcheck/bidcheck/pkg/semantic"
)

// Detector coordinates one detection pass over a project: semantic pair
// selection and adjudication, numeric/temporal value comparison, and
// persistence of the resulting conflicts and run record.
type Detector struct {
	source      types.ChunkSource
	conflicts   types.ConflictStore
	runs        types.RunStore
	adjudicator types.Adjudicator
	extractor   *extractor.Extractor
	comparator  *comparator.Comparator
	config      types.DetectionConfig
	limiter     *rate.Limiter

	// OnProgress, when set, receives stage progress updates. Semantic
	// progress arrives from concurrent workers, so the callback must be
	// safe for concurrent use.
	OnProgress func(stage string, done, total int)
}

func NewWithConfig(source types.ChunkSource, conflicts types.ConflictStore, runs types.RunStore, adjudicator types.Adjudicator, config types.DetectionConfig) *Detector {
	if config.SemanticThreshold == 0 {
		config.SemanticThreshold = 0.85
	}
	if config.NumericTolerance == 0 {
		config.NumericTolerance = 0.01
	}
	if config.AdjudicatorParallelism == 0 {
		config.AdjudicatorParallelism = 4
	}
	if config.AdjudicatorRateLimit == 0 {
		config.AdjudicatorRateLimit = 4
	}
	if config.SnippetLimit == 0 {
		config.SnippetLimit = 2000
	}
	if config.PairTextLimit == 0 {
		config.PairTextLimit = 1500
	}

	return &Detector{
		source:      source,
		conflicts:   conflicts,
		runs:        runs,
		adjudicator: adjudicator,
		extractor:   extractor.New(),
		comparator:  comparator.NewWithConfig(comparator.ComparatorConfig{Tolerance: config.NumericTolerance}),
		config:      config,
		limiter:     rate.NewLimiter(rate.Limit(config.AdjudicatorRateLimit), 1),
	}
}

// Run executes a full detection pass and returns the run summary. The
// run record transitions running -> completed, or running -> failed
// with the error captured and returned. A project with no documents
// completes immediately with zero counts.
//
// Callers are responsible for not starting two concurrent runs for the
// same project; the detector does not lock per project.
func (d *Detector) Run(ctx context.Context, projectID string, opts types.DetectionOptions) (*models.RunSummary, error) {
	run := &models.DetectionRun{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	// Terminal-state writes must land even when the caller's context is
	// already canceled, or the run record stays running forever.
	finishCtx := context.WithoutCancel(ctx)

	counts, err := d.detect(ctx, projectID, opts)
	if err != nil {
		if failErr := d.runs.FailRun(finishCtx, run.ID, err.Error()); failErr != nil {
			log.Printf("failed to mark run %s failed: %v", run.ID, failErr)
		}
		return nil, err
	}

	if err := d.runs.CompleteRun(finishCtx, run.ID, counts); err != nil {
		if failErr := d.runs.FailRun(finishCtx, run.ID, err.Error()); failErr != nil {
			log.Printf("failed to mark run %s failed: %v", run.ID, failErr)
		}
		return nil, fmt.Errorf("failed to finalize run: %w", err)
	}

	return &models.RunSummary{RunID: run.ID, RunCounts: counts}, nil
}

func (d *Detector) detect(ctx context.Context, projectID string, opts types.DetectionOptions) (models.RunCounts, error) {
	var counts models.RunCounts

	docs, err := d.source.ListDocuments(ctx, projectID)
	if err != nil {
		return counts, fmt.Errorf("failed to load documents: %w", err)
	}
	if len(docs) == 0 {
		return counts, nil
	}

	chunks, err := d.source.ListChunks(ctx, projectID)
	if err != nil {
		return counts, fmt.Errorf("failed to load chunks: %w", err)
	}

	var conflicts []models.Conflict

	if opts.DetectSemantic && len(chunks) >= 2 {
		found, err := d.detectSemantic(ctx, projectID, chunks, opts.SemanticThreshold)
		if err != nil {
			return counts, err
		}
		conflicts = append(conflicts, found...)
	}

	if opts.DetectNumeric {
		conflicts = append(conflicts, d.detectNumeric(projectID, chunks)...)
	}

	if err := d.conflicts.InsertConflicts(ctx, conflicts); err != nil {
		return counts, fmt.Errorf("failed to persist conflicts: %w", err)
	}

	for _, c := range conflicts {
		counts.Total++
		switch c.Type {
		case models.ConflictTypeSemantic:
			counts.Semantic++
		case models.ConflictTypeNumeric:
			counts.Numeric++
		case models.ConflictTypeTemporal:
			counts.Temporal++
		}
	}

	return counts, nil
}

// detectSemantic adjudicates high-similarity cross-document chunk
// pairs. Classifications run concurrently with bounded fan-out and a
// call rate limit. A failed classification counts as a negative
// verdict; only context cancellation aborts the pass.
func (d *Detector) detectSemantic(ctx context.Context, projectID string, chunks []models.Chunk, threshold float64) ([]models.Conflict, error) {
	if threshold <= 0 {
		threshold = d.config.SemanticThreshold
	}

	pairs := semantic.SelectPairs(chunks, threshold)
	d.progress("semantic", 0, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.AdjudicatorParallelism)

	var mu sync.Mutex
	var conflicts []models.Conflict
	var done int32

	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			if err := d.limiter.Wait(gctx); err != nil {
				return err
			}

			verdict, err := d.adjudicator.Classify(gctx,
				truncate(pair.Source.Content, d.config.PairTextLimit),
				truncate(pair.Target.Content, d.config.PairTextLimit))
			if err != nil {
				// One failed classification never aborts the run.
				log.Printf("adjudicator error for chunks %s/%s: %v",
					pair.Source.ID, pair.Target.ID, err)
				verdict = models.Verdict{}
			}

			d.progress("semantic", int(atomic.AddInt32(&done, 1)), len(pairs))

			if !verdict.IsConflict {
				return nil
			}

			mu.Lock()
			conflicts = append(conflicts, d.buildSemanticConflict(projectID, pair, verdict))
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("semantic detection aborted: %w", err)
	}

	return conflicts, nil
}

func (d *Detector) buildSemanticConflict(projectID string, pair semantic.Pair, verdict models.Verdict) models.Conflict {
	now := time.Now().UTC()

	severity := verdict.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	description := verdict.Description
	if description == "" {
		description = "Potential conflict between related document sections"
	}

	confidence := verdict.Confidence
	similarity := pair.Similarity

	return models.Conflict{
		ID:                  uuid.NewString(),
		ProjectID:           projectID,
		Type:                models.ConflictTypeSemantic,
		Severity:            severity,
		Status:              models.StatusDetected,
		SourceDocumentID:    pair.Source.DocumentID,
		SourceChunkID:       pair.Source.ID,
		SourceText:          truncate(pair.Source.Content, d.config.SnippetLimit),
		TargetDocumentID:    pair.Target.DocumentID,
		TargetChunkID:       pair.Target.ID,
		TargetText:          truncate(pair.Target.Content, d.config.SnippetLimit),
		Description:         description,
		SuggestedResolution: verdict.SuggestedResolution,
		ConfidenceScore:     &confidence,
		SemanticSimilarity:  &similarity,
		DetectedAt:          now,
		UpdatedAt:           now,
	}
}

// detectNumeric extracts structured values from every chunk and turns
// conflicting cross-document pairs into numeric or temporal conflicts.
// The stored snippets are the sentences around each value, not the full
// chunks.
func (d *Detector) detectNumeric(projectID string, chunks []models.Chunk) []models.Conflict {
	content := make(map[string]string, len(chunks))
	var values []models.ExtractedValue
	for _, chunk := range chunks {
		content[chunk.ID] = chunk.Content
		values = append(values, d.extractor.Extract(chunk)...)
	}

	findings := d.comparator.Compare(values)
	d.progress("numeric", len(findings), len(findings))

	conflicts := make([]models.Conflict, 0, len(findings))
	now := time.Now().UTC()

	for _, f := range findings {
		conflicts = append(conflicts, models.Conflict{
			ID:               uuid.NewString(),
			ProjectID:        projectID,
			Type:             f.Type,
			Severity:         f.Severity,
			Status:           models.StatusDetected,
			SourceDocumentID: f.Source.DocumentID,
			SourceChunkID:    f.Source.ChunkID,
			SourceText:       truncate(extractor.SentenceAt(content[f.Source.ChunkID], f.Source.Position), d.config.SnippetLimit),
			TargetDocumentID: f.Target.DocumentID,
			TargetChunkID:    f.Target.ChunkID,
			TargetText:       truncate(extractor.SentenceAt(content[f.Target.ChunkID], f.Target.Position), d.config.SnippetLimit),
			Description:      f.Description,
			SuggestedResolution: fmt.Sprintf(
				"Verify the correct %s value and align both documents", f.Source.Type),
			Metadata: &models.ConflictMetadata{
				SourceValue: f.Source.Raw,
				TargetValue: f.Target.Raw,
			},
			DetectedAt: now,
			UpdatedAt:  now,
		})
	}

	return conflicts
}

func (d *Detector) progress(stage string, done, total int) {
	if d.OnProgress != nil {
		d.OnProgress(stage, done, total)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

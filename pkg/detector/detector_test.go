package detector_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidcheck/bidcheck/internal/models"
	"github.com/bidcheck/bidcheck/internal/types"
	"github.com/bidcheck/bidcheck/pkg/detector"
)

type fakeSource struct {
	docs      []models.Document
	chunks    []models.Chunk
	docsErr   error
	chunksErr error
}

func (f *fakeSource) ListDocuments(ctx context.Context, projectID string) ([]models.Document, error) {
	return f.docs, f.docsErr
}

func (f *fakeSource) ListChunks(ctx context.Context, projectID string) ([]models.Chunk, error) {
	return f.chunks, f.chunksErr
}

type fakeConflictStore struct {
	mu        sync.Mutex
	inserted  []models.Conflict
	insertErr error
}

func (f *fakeConflictStore) InsertConflicts(ctx context.Context, conflicts []models.Conflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, conflicts...)
	return nil
}

func (f *fakeConflictStore) ListConflicts(ctx context.Context, projectID string, filter models.ConflictFilter) ([]models.Conflict, error) {
	return f.inserted, nil
}

func (f *fakeConflictStore) UpdateConflictStatus(ctx context.Context, conflictID, projectID string, status models.ConflictStatus, userID, resolution string) (*models.Conflict, error) {
	return nil, nil
}

func (f *fakeConflictStore) ConflictStats(ctx context.Context, projectID string) (*models.ConflictStats, error) {
	return nil, nil
}

type fakeRunStore struct {
	created     *models.DetectionRun
	completed   *models.RunCounts
	completeErr error
	failedMsg   string
	createErr   error
}

func (f *fakeRunStore) CreateRun(ctx context.Context, run *models.DetectionRun) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = run
	return nil
}

func (f *fakeRunStore) CompleteRun(ctx context.Context, runID string, counts models.RunCounts) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = &counts
	return nil
}

// FailRun refuses canceled contexts the way a real database write would.
func (f *fakeRunStore) FailRun(ctx context.Context, runID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.failedMsg = message
	return nil
}

type fakeAdjudicator struct {
	classify func(textA, textB string) (models.Verdict, error)
}

func (f *fakeAdjudicator) Classify(ctx context.Context, textA, textB string) (models.Verdict, error) {
	if f.classify == nil {
		return models.Verdict{}, nil
	}
	return f.classify(textA, textB)
}

func fastConfig() types.DetectionConfig {
	return types.DetectionConfig{AdjudicatorRateLimit: 1000}
}

func newDetector(source *fakeSource, conflicts *fakeConflictStore, runs *fakeRunStore, adj *fakeAdjudicator) *detector.Detector {
	return detector.NewWithConfig(source, conflicts, runs, adj, fastConfig())
}

func TestRun_ZeroDocumentsCompletesWithZeroCounts(t *testing.T) {
	conflicts := &fakeConflictStore{}
	runs := &fakeRunStore{}
	d := newDetector(&fakeSource{}, conflicts, runs, &fakeAdjudicator{})

	summary, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.NoError(t, err)
	assert.Equal(t, models.RunCounts{}, summary.RunCounts)
	require.NotNil(t, runs.completed)
	assert.Equal(t, models.RunCounts{}, *runs.completed)
	assert.Empty(t, conflicts.inserted)
	assert.Empty(t, runs.failedMsg)
}

func TestRun_NumericEndToEnd(t *testing.T) {
	source := &fakeSource{
		docs: []models.Document{
			{ID: "docA", ProjectID: "project1"},
			{ID: "docB", ProjectID: "project1"},
		},
		chunks: []models.Chunk{
			{ID: "a1", DocumentID: "docA", Content: "Total contract price: $500,000."},
			{ID: "b1", DocumentID: "docB", Content: "Total contract price: $750,000."},
		},
	}
	conflicts := &fakeConflictStore{}
	runs := &fakeRunStore{}
	d := newDetector(source, conflicts, runs, &fakeAdjudicator{})

	summary, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Numeric)
	assert.Equal(t, 0, summary.Semantic)
	assert.Equal(t, 0, summary.Temporal)

	require.Len(t, conflicts.inserted, 1)
	c := conflicts.inserted[0]
	assert.Equal(t, models.ConflictTypeNumeric, c.Type)
	assert.Equal(t, models.SeverityHigh, c.Severity)
	assert.Equal(t, models.StatusDetected, c.Status)
	assert.Equal(t, "project1", c.ProjectID)
	assert.NotEqual(t, c.SourceDocumentID, c.TargetDocumentID)
	assert.Contains(t, c.Description, "$500,000")
	assert.Contains(t, c.Description, "$750,000")
	require.NotNil(t, c.Metadata)
	assert.Equal(t, "$500,000", c.Metadata.SourceValue)
	assert.Equal(t, "$750,000", c.Metadata.TargetValue)
	assert.Contains(t, c.SourceText, "$500,000")
	assert.Contains(t, c.TargetText, "$750,000")
}

func TestRun_TemporalEndToEnd(t *testing.T) {
	source := &fakeSource{
		docs: []models.Document{
			{ID: "docA", ProjectID: "project1"},
			{ID: "docB", ProjectID: "project1"},
		},
		chunks: []models.Chunk{
			{ID: "a1", DocumentID: "docA", Content: "The completion deadline is March 1, 2025."},
			{ID: "b1", DocumentID: "docB", Content: "The completion deadline is April 15, 2025."},
		},
	}
	conflicts := &fakeConflictStore{}
	runs := &fakeRunStore{}
	d := newDetector(source, conflicts, runs, &fakeAdjudicator{})

	summary, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Temporal)
	require.Len(t, conflicts.inserted, 1)
	c := conflicts.inserted[0]
	assert.Equal(t, models.ConflictTypeTemporal, c.Type)
	assert.Equal(t, models.SeverityHigh, c.Severity)
	assert.Contains(t, c.Description, "March 1, 2025")
	assert.Contains(t, c.Description, "April 15, 2025")
}

func TestRun_SemanticConflictsCarryVerdictFields(t *testing.T) {
	source := &fakeSource{
		docs: []models.Document{
			{ID: "docA", ProjectID: "project1"},
			{ID: "docB", ProjectID: "project1"},
		},
		chunks: []models.Chunk{
			{ID: "a1", DocumentID: "docA", Content: "Contractor provides all permits.", Embedding: []float32{1, 0}},
			{ID: "b1", DocumentID: "docB", Content: "Owner provides all permits.", Embedding: []float32{1, 0.01}},
		},
	}
	conflicts := &fakeConflictStore{}
	runs := &fakeRunStore{}
	adj := &fakeAdjudicator{classify: func(a, b string) (models.Verdict, error) {
		return models.Verdict{
			IsConflict:          true,
			Description:         "Permit responsibility assigned to different parties",
			Severity:            models.SeverityCritical,
			Confidence:          0.95,
			SuggestedResolution: "Clarify permit responsibility in both documents",
		}, nil
	}}
	d := newDetector(source, conflicts, runs, adj)

	summary, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Semantic)
	require.Len(t, conflicts.inserted, 1)
	c := conflicts.inserted[0]
	assert.Equal(t, models.ConflictTypeSemantic, c.Type)
	assert.Equal(t, models.SeverityCritical, c.Severity)
	require.NotNil(t, c.ConfidenceScore)
	assert.Equal(t, 0.95, *c.ConfidenceScore)
	require.NotNil(t, c.SemanticSimilarity)
	assert.Greater(t, *c.SemanticSimilarity, 0.85)
	assert.Equal(t, "Permit responsibility assigned to different parties", c.Description)
}

func TestRun_AdjudicatorFailureIsIsolated(t *testing.T) {
	// Three documents produce three candidate pairs; every pair that
	// touches docB's chunk fails to classify. The run must still
	// complete and report the surviving pair.
	source := &fakeSource{
		docs: []models.Document{
			{ID: "docA", ProjectID: "project1"},
			{ID: "docB", ProjectID: "project1"},
			{ID: "docC", ProjectID: "project1"},
		},
		chunks: []models.Chunk{
			{ID: "a1", DocumentID: "docA", Content: "Steel beams per section five.", Embedding: []float32{1, 0}},
			{ID: "b1", DocumentID: "docB", Content: "POISON steel beams per section six.", Embedding: []float32{1, 0.01}},
			{ID: "c1", DocumentID: "docC", Content: "Steel beams per section seven.", Embedding: []float32{1, 0.02}},
		},
	}
	conflicts := &fakeConflictStore{}
	runs := &fakeRunStore{}
	adj := &fakeAdjudicator{classify: func(a, b string) (models.Verdict, error) {
		if strings.Contains(a, "POISON") || strings.Contains(b, "POISON") {
			return models.Verdict{}, errors.New("model timeout")
		}
		return models.Verdict{IsConflict: true, Description: "Section references differ", Severity: models.SeverityMedium, Confidence: 0.7}, nil
	}}
	d := newDetector(source, conflicts, runs, adj)

	opts := types.DefaultDetectionOptions()
	opts.DetectNumeric = false
	summary, err := d.Run(context.Background(), "project1", opts)

	require.NoError(t, err)
	require.NotNil(t, runs.completed)
	assert.Empty(t, runs.failedMsg)
	// Only the docA/docC pair survives classification.
	assert.Equal(t, 1, summary.Semantic)
	require.Len(t, conflicts.inserted, 1)
	assert.NotEqual(t, "docB", conflicts.inserted[0].SourceDocumentID)
	assert.NotEqual(t, "docB", conflicts.inserted[0].TargetDocumentID)
}

func TestRun_DocumentLoadFailureFailsRun(t *testing.T) {
	source := &fakeSource{docsErr: errors.New("connection refused")}
	runs := &fakeRunStore{}
	d := newDetector(source, &fakeConflictStore{}, runs, &fakeAdjudicator{})

	summary, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, runs.failedMsg, "connection refused")
	assert.Nil(t, runs.completed)
}

// contextSource surfaces the caller's cancellation, like a real
// database-backed source would.
type contextSource struct{}

func (contextSource) ListDocuments(ctx context.Context, projectID string) ([]models.Document, error) {
	return nil, ctx.Err()
}

func (contextSource) ListChunks(ctx context.Context, projectID string) ([]models.Chunk, error) {
	return nil, ctx.Err()
}

func TestRun_CanceledContextStillMarksRunFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runs := &fakeRunStore{}
	d := detector.NewWithConfig(contextSource{}, &fakeConflictStore{}, runs, &fakeAdjudicator{}, fastConfig())

	summary, err := d.Run(ctx, "project1", types.DefaultDetectionOptions())

	require.Error(t, err)
	assert.Nil(t, summary)
	// The failure must be persisted even though the caller's context is
	// gone; the run must not stay running.
	assert.Contains(t, runs.failedMsg, "context canceled")
	assert.Nil(t, runs.completed)
}

func TestRun_CompleteRunFailureMarksRunFailed(t *testing.T) {
	runs := &fakeRunStore{completeErr: errors.New("runs table gone")}
	d := newDetector(&fakeSource{}, &fakeConflictStore{}, runs, &fakeAdjudicator{})

	_, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.Error(t, err)
	assert.Contains(t, runs.failedMsg, "runs table gone")
	assert.Nil(t, runs.completed)
}

func TestRun_PersistenceFailureFailsRun(t *testing.T) {
	source := &fakeSource{
		docs: []models.Document{
			{ID: "docA", ProjectID: "project1"},
			{ID: "docB", ProjectID: "project1"},
		},
		chunks: []models.Chunk{
			{ID: "a1", DocumentID: "docA", Content: "Total price: $100."},
			{ID: "b1", DocumentID: "docB", Content: "Total price: $200."},
		},
	}
	conflicts := &fakeConflictStore{insertErr: errors.New("disk full")}
	runs := &fakeRunStore{}
	d := newDetector(source, conflicts, runs, &fakeAdjudicator{})

	_, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.Error(t, err)
	assert.Contains(t, runs.failedMsg, "disk full")
}

func TestRun_CreateRunFailureReturnsWithoutDetecting(t *testing.T) {
	runs := &fakeRunStore{createErr: errors.New("runs table missing")}
	conflicts := &fakeConflictStore{}
	d := newDetector(&fakeSource{}, conflicts, runs, &fakeAdjudicator{})

	_, err := d.Run(context.Background(), "project1", types.DefaultDetectionOptions())

	require.Error(t, err)
	assert.Empty(t, conflicts.inserted)
}

func TestRun_OptionsDisableDetectors(t *testing.T) {
	source := &fakeSource{
		docs: []models.Document{
			{ID: "docA", ProjectID: "project1"},
			{ID: "docB", ProjectID: "project1"},
		},
		chunks: []models.Chunk{
			{ID: "a1", DocumentID: "docA", Content: "Total price: $100.", Embedding: []float32{1, 0}},
			{ID: "b1", DocumentID: "docB", Content: "Total price: $900.", Embedding: []float32{1, 0}},
		},
	}
	conflicts := &fakeConflictStore{}
	runs := &fakeRunStore{}
	adj := &fakeAdjudicator{classify: func(a, b string) (models.Verdict, error) {
		return models.Verdict{IsConflict: true, Confidence: 1}, nil
	}}
	d := newDetector(source, conflicts, runs, adj)

	opts := types.DetectionOptions{DetectSemantic: false, DetectNumeric: false, SemanticThreshold: 0.85}
	summary, err := d.Run(context.Background(), "project1", opts)

	require.NoError(t, err)
	assert.Equal(t, models.RunCounts{}, summary.RunCounts)
	assert.Empty(t, conflicts.inserted)
}

func TestRun_ProgressCallbackSeesAllPairs(t *testing.T) {
	source := &fakeSource{
		docs: []models.Document{
			{ID: "docA", ProjectID: "project1"},
			{ID: "docB", ProjectID: "project1"},
		},
		chunks: []models.Chunk{
			{ID: "a1", DocumentID: "docA", Content: "alpha", Embedding: []float32{1, 0}},
			{ID: "b1", DocumentID: "docB", Content: "beta", Embedding: []float32{1, 0}},
		},
	}
	runs := &fakeRunStore{}
	d := newDetector(source, &fakeConflictStore{}, runs, &fakeAdjudicator{})

	var mu sync.Mutex
	var maxDone int
	d.OnProgress = func(stage string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if stage == "semantic" && done > maxDone {
			maxDone = done
		}
	}

	opts := types.DefaultDetectionOptions()
	opts.DetectNumeric = false
	_, err := d.Run(context.Background(), "project1", opts)

	require.NoError(t, err)
	assert.Equal(t, 1, maxDone)
}

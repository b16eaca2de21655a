package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bidcheck/bidcheck/internal/models"
)

// ErrNotFound is returned when a lifecycle update matches no conflict,
// including the case where the id exists but belongs to another project.
var ErrNotFound = errors.New("conflict not found")

// ErrRunNotFound is returned when a run finalization matches no running
// row, either because the id is unknown or the run is already terminal.
var ErrRunNotFound = errors.New("run not found")

type StoreConfig struct {
	ConnString  string
	TablePrefix string
	VectorDim   int
}

// Store is the Postgres-backed implementation of the engine's chunk
// source, conflict store and run store. Chunk embeddings live in a
// pgvector column written by the upstream ingestion pipeline.
type Store struct {
	config StoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config StoreConfig) (*Store, error) {
	if config.TablePrefix == "" {
		config.TablePrefix = "bidcheck_"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	s := &Store{
		config: config,
		pool:   pool,
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) table(name string) string {
	return s.config.TablePrefix + name
}

func (s *Store) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.table("documents")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				document_id TEXT NOT NULL,
				project_id TEXT NOT NULL,
				content TEXT NOT NULL,
				chunk_index INTEGER NOT NULL,
				embedding vector(%d)
			)`, s.table("chunks"), s.config.VectorDim),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				conflict_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'detected',
				source_document_id TEXT NOT NULL,
				source_chunk_id TEXT NOT NULL,
				source_text TEXT NOT NULL,
				target_document_id TEXT NOT NULL,
				target_chunk_id TEXT NOT NULL,
				target_text TEXT NOT NULL,
				description TEXT NOT NULL,
				suggested_resolution TEXT NOT NULL DEFAULT '',
				confidence_score DOUBLE PRECISION,
				semantic_similarity DOUBLE PRECISION,
				metadata JSONB,
				resolution TEXT NOT NULL DEFAULT '',
				resolved_by TEXT NOT NULL DEFAULT '',
				resolved_at TIMESTAMPTZ,
				detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.table("conflicts")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				status TEXT NOT NULL,
				total_conflicts INTEGER NOT NULL DEFAULT 0,
				semantic_conflicts INTEGER NOT NULL DEFAULT 0,
				numeric_conflicts INTEGER NOT NULL DEFAULT 0,
				temporal_conflicts INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				completed_at TIMESTAMPTZ
			)`, s.table("runs")),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_project_idx
			ON %s (project_id, detected_at)`,
			s.table("conflicts"), s.table("conflicts")),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_project_idx
			ON %s (project_id)`,
			s.table("chunks"), s.table("chunks")),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %v", err)
		}
	}

	return nil
}

func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]models.Document, error) {
	query := fmt.Sprintf(`
		SELECT id, project_id, name, created_at
		FROM %s
		WHERE project_id = $1
		ORDER BY created_at`, s.table("documents"))

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %v", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Name, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func (s *Store) ListChunks(ctx context.Context, projectID string) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, content, chunk_index, embedding
		FROM %s
		WHERE project_id = $1
		ORDER BY document_id, chunk_index`, s.table("chunks"))

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var embedding *pgvector.Vector
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content,
			&chunk.ChunkIndex, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if embedding != nil {
			chunk.Embedding = embedding.Slice()
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

func (s *Store) InsertConflicts(ctx context.Context, conflicts []models.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (
			id, project_id, conflict_type, severity, status,
			source_document_id, source_chunk_id, source_text,
			target_document_id, target_chunk_id, target_text,
			description, suggested_resolution,
			confidence_score, semantic_similarity, metadata,
			detected_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.table("conflicts"))

	for _, c := range conflicts {
		_, err := tx.Exec(ctx, stmt,
			c.ID, c.ProjectID, c.Type, c.Severity, c.Status,
			c.SourceDocumentID, c.SourceChunkID, sanitizeUTF8(c.SourceText),
			c.TargetDocumentID, c.TargetChunkID, sanitizeUTF8(c.TargetText),
			sanitizeUTF8(c.Description), sanitizeUTF8(c.SuggestedResolution),
			c.ConfidenceScore, c.SemanticSimilarity, c.Metadata,
			c.DetectedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert conflict: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

const conflictColumns = `
	id, project_id, conflict_type, severity, status,
	source_document_id, source_chunk_id, source_text,
	target_document_id, target_chunk_id, target_text,
	description, suggested_resolution,
	confidence_score, semantic_similarity, metadata,
	resolution, resolved_by, resolved_at, detected_at, updated_at`

func scanConflict(row pgx.Row) (*models.Conflict, error) {
	var c models.Conflict
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.Type, &c.Severity, &c.Status,
		&c.SourceDocumentID, &c.SourceChunkID, &c.SourceText,
		&c.TargetDocumentID, &c.TargetChunkID, &c.TargetText,
		&c.Description, &c.SuggestedResolution,
		&c.ConfidenceScore, &c.SemanticSimilarity, &c.Metadata,
		&c.Resolution, &c.ResolvedBy, &c.ResolvedAt, &c.DetectedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListConflicts(ctx context.Context, projectID string, filter models.ConflictFilter) ([]models.Conflict, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE project_id = $1",
		conflictColumns, s.table("conflicts"))
	args := []interface{}{projectID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND conflict_type = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY detected_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %v", err)
	}
	defer rows.Close()

	var conflicts []models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		conflicts = append(conflicts, *c)
	}

	return conflicts, rows.Err()
}

// UpdateConflictStatus transitions a detected conflict to resolved or
// dismissed. The update is scoped by both conflict id and project id so
// a conflict in another project can never be mutated, even with a
// guessed id; such attempts return ErrNotFound. Transitions out of a
// terminal status also return ErrNotFound.
func (s *Store) UpdateConflictStatus(ctx context.Context, conflictID, projectID string, status models.ConflictStatus, userID, resolution string) (*models.Conflict, error) {
	if status != models.StatusResolved && status != models.StatusDismissed {
		return nil, fmt.Errorf("invalid status transition to %q", status)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			status = $1,
			resolution = COALESCE(NULLIF($2, ''), resolution),
			resolved_by = CASE WHEN $1 = 'resolved' THEN $3 ELSE resolved_by END,
			resolved_at = CASE WHEN $1 = 'resolved' THEN now() ELSE resolved_at END,
			updated_at = now()
		WHERE id = $4 AND project_id = $5 AND status = 'detected'
		RETURNING %s`, s.table("conflicts"), conflictColumns)

	row := s.pool.QueryRow(ctx, query, status, resolution, userID, conflictID, projectID)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update conflict: %v", err)
	}

	return c, nil
}

func (s *Store) ConflictStats(ctx context.Context, projectID string) (*models.ConflictStats, error) {
	query := fmt.Sprintf(`
		SELECT conflict_type, severity, status, COUNT(*)
		FROM %s
		WHERE project_id = $1
		GROUP BY conflict_type, severity, status`, s.table("conflicts"))

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %v", err)
	}
	defer rows.Close()

	stats := &models.ConflictStats{
		ByType:     make(map[models.ConflictType]int),
		BySeverity: make(map[models.Severity]int),
		ByStatus:   make(map[models.ConflictStatus]int),
	}

	for rows.Next() {
		var (
			ctype    models.ConflictType
			severity models.Severity
			status   models.ConflictStatus
			count    int
		)
		if err := rows.Scan(&ctype, &severity, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}

		stats.Total += count
		stats.ByType[ctype] += count
		stats.BySeverity[severity] += count
		stats.ByStatus[status] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.Resolved = stats.ByStatus[models.StatusResolved]
	stats.Pending = stats.Total - stats.Resolved - stats.ByStatus[models.StatusDismissed]

	return stats, nil
}

func (s *Store) CreateRun(ctx context.Context, run *models.DetectionRun) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, project_id, status, started_at)
		VALUES ($1, $2, $3, $4)`, s.table("runs"))

	_, err := s.pool.Exec(ctx, stmt, run.ID, run.ProjectID, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %v", err)
	}
	return nil
}

func (s *Store) CompleteRun(ctx context.Context, runID string, counts models.RunCounts) error {
	stmt := fmt.Sprintf(`
		UPDATE %s SET
			status = 'completed',
			total_conflicts = $1,
			semantic_conflicts = $2,
			numeric_conflicts = $3,
			temporal_conflicts = $4,
			completed_at = now()
		WHERE id = $5 AND status = 'running'`, s.table("runs"))

	tag, err := s.pool.Exec(ctx, stmt,
		counts.Total, counts.Semantic, counts.Numeric, counts.Temporal, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) FailRun(ctx context.Context, runID, message string) error {
	stmt := fmt.Sprintf(`
		UPDATE %s SET
			status = 'failed',
			error = $1,
			completed_at = now()
		WHERE id = $2 AND status = 'running'`, s.table("runs"))

	tag, err := s.pool.Exec(ctx, stmt, sanitizeUTF8(message), runID)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}

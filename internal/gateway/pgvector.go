package gateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PgvectorIndex implements VectorIndex on a dedicated pgvector table, for
// deployments that run everything on one Postgres instead of a separate
// Qdrant.
type PgvectorIndex struct {
	db   *pgxpool.Pool
	dims int
}

func NewPgvectorIndex(ctx context.Context, db *pgxpool.Pool, dims int) (*PgvectorIndex, error) {
	_, err := db.Exec(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS vectors (
			external_id  TEXT PRIMARY KEY,
			embedding    vector(%d) NOT NULL,
			record_id    BIGINT NOT NULL DEFAULT 0,
			owner_id     TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS vectors_embedding_idx
			ON vectors USING hnsw (embedding vector_cosine_ops);
	`, dims))
	if err != nil {
		return nil, fmt.Errorf("migrate vectors table: %w", err)
	}
	return &PgvectorIndex{db: db, dims: dims}, nil
}

func (p *PgvectorIndex) Upsert(ctx context.Context, externalID string, vector []float32, payload Payload) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO vectors (external_id, embedding, record_id, owner_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id)
		DO UPDATE SET embedding = $2, record_id = $3, owner_id = $4
	`, externalID, pgvector.NewVector(vector), payload.RecordID, payload.OwnerID)
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (p *PgvectorIndex) SetPayload(ctx context.Context, externalID string, payload Payload) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE vectors SET record_id = $1, owner_id = $2 WHERE external_id = $3
	`, payload.RecordID, payload.OwnerID, externalID)
	if err != nil {
		return fmt.Errorf("%w: set payload: %v", ErrIndexUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: set payload: point %s not found", ErrIndexUnavailable, externalID)
	}
	return nil
}

func (p *PgvectorIndex) Delete(ctx context.Context, externalID string) error {
	_, err := p.db.Exec(ctx, "DELETE FROM vectors WHERE external_id = $1", externalID)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (p *PgvectorIndex) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	rows, err := p.db.Query(ctx, `
		SELECT record_id, owner_id, 1 - (embedding <=> $1) AS similarity
		FROM vectors
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var score float64
		if err := rows.Scan(&m.RecordID, &m.OwnerID, &score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *PgvectorIndex) Health(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (p *PgvectorIndex) PointCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := p.db.QueryRow(ctx, "SELECT COUNT(*) FROM vectors").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrIndexUnavailable, err)
	}
	return count, nil
}

var _ VectorIndex = (*PgvectorIndex)(nil)

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"imagevault/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements RecordStore on a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the images table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS images (
			id                      BIGSERIAL PRIMARY KEY,
			owner_id                TEXT NOT NULL,
			vector_id               TEXT NOT NULL UNIQUE,
			title                   TEXT NOT NULL,
			tags                    TEXT[] NOT NULL,
			filename                TEXT NOT NULL,
			size                    BIGINT NOT NULL,
			mime                    TEXT NOT NULL,
			checksum                TEXT NOT NULL UNIQUE,
			storage_path            TEXT NOT NULL,
			image_url               TEXT NOT NULL,
			location                TEXT NOT NULL DEFAULT '',
			embedding_status        TEXT NOT NULL DEFAULT 'pending',
			embedding_attempts      INT NOT NULL DEFAULT 0,
			last_embedding_attempt  TIMESTAMPTZ,
			is_embedded             BOOLEAN NOT NULL DEFAULT FALSE,
			embedding_error         TEXT NOT NULL DEFAULT '',
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS images_embedding_status_idx
			ON images (embedding_status, last_embedding_attempt);
		CREATE INDEX IF NOT EXISTS images_owner_created_idx
			ON images (owner_id, created_at DESC);
	`)
	return err
}

const recordColumns = `id, owner_id, vector_id, title, tags, filename, size, mime,
	checksum, storage_path, image_url, location, embedding_status,
	embedding_attempts, last_embedding_attempt, is_embedded, embedding_error,
	created_at`

func (s *PostgresStore) Create(ctx context.Context, rec *models.ImageRecord) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO images (owner_id, vector_id, title, tags, filename, size,
		                    mime, checksum, storage_path, image_url, location,
		                    embedding_status, embedding_attempts,
		                    last_embedding_attempt, is_embedded, embedding_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`,
		rec.OwnerID, rec.VectorID, rec.Title, rec.Tags, rec.Filename, rec.Size,
		rec.Mime, rec.Checksum, rec.StoragePath, rec.ImageURL, rec.Location,
		rec.EmbeddingStatus, rec.EmbeddingAttempts, rec.LastEmbeddingAttempt,
		rec.IsEmbedded, rec.EmbeddingError,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.ImageRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM images WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ChecksumExists(ctx context.Context, checksum string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM images WHERE checksum = $1)", checksum,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checksum lookup: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Eligible(ctx context.Context, policy models.RetryPolicy, limit int, now time.Time) ([]models.ImageRecord, error) {
	retryCutoff := now.Add(-policy.RetryDelay)

	cond := `embedding_status = 'pending'
		OR (embedding_status = 'failed'
		    AND embedding_attempts < $1
		    AND (last_embedding_attempt IS NULL OR last_embedding_attempt <= $2))`
	args := []any{policy.MaxAttempts, retryCutoff, limit}

	if policy.StaleProcessingAge > 0 {
		cond += `
		OR (embedding_status = 'processing'
		    AND last_embedding_attempt IS NOT NULL
		    AND last_embedding_attempt <= $4)`
		args = append(args, now.Add(-policy.StaleProcessingAge))
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM images
		WHERE `+cond+`
		ORDER BY created_at
		LIMIT $3
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("eligible query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `
		UPDATE images
		SET embedding_status = 'processing',
		    embedding_attempts = embedding_attempts + 1,
		    last_embedding_attempt = $1
		WHERE id = $2
	`, at, id)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.exec(ctx, `
		UPDATE images
		SET embedding_status = 'completed',
		    is_embedded = TRUE,
		    embedding_error = ''
		WHERE id = $1
	`, id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, msg string) error {
	return s.exec(ctx, `
		UPDATE images
		SET embedding_status = 'failed',
		    embedding_error = $1
		WHERE id = $2
	`, msg, id)
}

func (s *PostgresStore) Find(ctx context.Context, filter RecordFilter) ([]models.ImageRecord, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if len(filter.IDs) > 0 {
		add("id = ANY($%d)", filter.IDs)
	}
	if filter.Text != "" {
		args = append(args, "%"+filter.Text+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR filename ILIKE $%d)", len(args), len(args)))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	query := `SELECT ` + recordColumns + ` FROM images`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context, ownerID string) (StatusCounts, error) {
	query := `
		SELECT embedding_status, COUNT(*)
		FROM images
	`
	var args []any
	if ownerID != "" {
		query += " WHERE owner_id = $1"
		args = append(args, ownerID)
	}
	query += " GROUP BY embedding_status"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count query: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, fmt.Errorf("scan count: %w", err)
		}
		counts.Total += n
		switch models.EmbeddingStatus(status) {
		case models.StatusPending:
			counts.Pending = n
		case models.StatusProcessing:
			counts.Processing = n
		case models.StatusCompleted:
			counts.Completed = n
		case models.StatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM images WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.ImageRecord, error) {
	var rec models.ImageRecord
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.VectorID, &rec.Title, &rec.Tags,
		&rec.Filename, &rec.Size, &rec.Mime, &rec.Checksum, &rec.StoragePath,
		&rec.ImageURL, &rec.Location, &rec.EmbeddingStatus,
		&rec.EmbeddingAttempts, &rec.LastEmbeddingAttempt, &rec.IsEmbedded,
		&rec.EmbeddingError, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]models.ImageRecord, error) {
	var recs []models.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

var _ RecordStore = (*PostgresStore)(nil)

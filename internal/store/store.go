package store

import (
	"context"
	"errors"
	"time"

	"imagevault/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// RecordFilter is a metadata query. Zero fields are ignored.
type RecordFilter struct {
	OwnerID string
	IDs     []int64
	// Text matches title and filename, case-insensitive substring.
	Text  string
	From  *time.Time
	To    *time.Time
	Limit int
}

// StatusCounts holds per-status record counts for one owner (or all owners).
type StatusCounts struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// RecordStore is the durable metadata store. Embedding lifecycle fields are
// only ever touched through the three Mark* transitions, each of which is a
// single atomic partial update; metadata fields and lifecycle fields are
// disjoint so user edits never race the pipeline.
type RecordStore interface {
	Create(ctx context.Context, rec *models.ImageRecord) error
	Get(ctx context.Context, id int64) (*models.ImageRecord, error)
	ChecksumExists(ctx context.Context, checksum string) (bool, error)

	// Eligible returns up to limit records the pipeline may process at time
	// now, oldest first.
	Eligible(ctx context.Context, policy models.RetryPolicy, limit int, now time.Time) ([]models.ImageRecord, error)

	// MarkProcessing records a pickup: status=processing, attempts+1,
	// last_embedding_attempt=at.
	MarkProcessing(ctx context.Context, id int64, at time.Time) error
	// MarkCompleted records success: status=completed, is_embedded=true,
	// embedding_error cleared.
	MarkCompleted(ctx context.Context, id int64) error
	// MarkFailed records a failed attempt: status=failed, embedding_error set.
	// is_embedded is left untouched.
	MarkFailed(ctx context.Context, id int64, msg string) error

	// Find returns records matching filter, newest first.
	Find(ctx context.Context, filter RecordFilter) ([]models.ImageRecord, error)
	CountByStatus(ctx context.Context, ownerID string) (StatusCounts, error)
	Delete(ctx context.Context, id int64) error
}

// BlobStore holds the raw image bytes.
type BlobStore interface {
	// Save persists data under a name derived from filename and returns the
	// storage path and public URL.
	Save(filename string, data []byte) (path, url string, err error)
	Read(path string) ([]byte, error)
	Remove(path string) error
}

package models

import (
	"math"
	"time"
)

type EmbeddingStatus string

const (
	StatusPending    EmbeddingStatus = "pending"
	StatusProcessing EmbeddingStatus = "processing"
	StatusCompleted  EmbeddingStatus = "completed"
	StatusFailed     EmbeddingStatus = "failed"
)

type ImageRecord struct {
	ID                   int64           `db:"id" json:"id"`
	OwnerID              string          `db:"owner_id" json:"owner_id"`
	VectorID             string          `db:"vector_id" json:"-"`
	Title                string          `db:"title" json:"title"`
	Tags                 []string        `db:"tags" json:"tags"`
	Filename             string          `db:"filename" json:"filename"`
	Size                 int64           `db:"size" json:"size"`
	Mime                 string          `db:"mime" json:"mime"`
	Checksum             string          `db:"checksum" json:"-"`
	StoragePath          string          `db:"storage_path" json:"-"`
	ImageURL             string          `db:"image_url" json:"image_url"`
	Location             string          `db:"location" json:"location,omitempty"`
	EmbeddingStatus      EmbeddingStatus `db:"embedding_status" json:"embedding_status"`
	EmbeddingAttempts    int             `db:"embedding_attempts" json:"embedding_attempts"`
	LastEmbeddingAttempt *time.Time      `db:"last_embedding_attempt" json:"-"`
	IsEmbedded           bool            `db:"is_embedded" json:"is_embedded"`
	EmbeddingError       string          `db:"embedding_error" json:"-"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}

// RetryPolicy controls which non-pending records the pipeline picks up again.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration

	// StaleProcessingAge reclaims records left in "processing" by a crashed
	// run. Zero disables reclaim.
	StaleProcessingAge time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        5,
		RetryDelay:         60 * time.Second,
		StaleProcessingAge: 10 * time.Minute,
	}
}

// Eligible reports whether the pipeline may pick up rec at time now.
//
// A pending record is always eligible. A failed record is eligible while it
// has attempts left and its retry delay has elapsed. A failed record at the
// attempt limit is terminal and never selected again. A processing record is
// normally in flight and skipped, unless it has been sitting there longer
// than StaleProcessingAge.
func Eligible(rec *ImageRecord, policy RetryPolicy, now time.Time) bool {
	switch rec.EmbeddingStatus {
	case StatusPending:
		return true
	case StatusFailed:
		if rec.EmbeddingAttempts >= policy.MaxAttempts {
			return false
		}
		if rec.LastEmbeddingAttempt == nil {
			return true
		}
		return now.Sub(*rec.LastEmbeddingAttempt) >= policy.RetryDelay
	case StatusProcessing:
		if policy.StaleProcessingAge <= 0 || rec.LastEmbeddingAttempt == nil {
			return false
		}
		return now.Sub(*rec.LastEmbeddingAttempt) >= policy.StaleProcessingAge
	default:
		return false
	}
}

// EmbeddingStats is the pipeline status surface.
type EmbeddingStats struct {
	Total      int `json:"total"`
	Embedded   int `json:"embedded"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

// NewEmbeddingStats derives the percentage from the raw counts.
func NewEmbeddingStats(total, embedded, pending, processing, failed int) EmbeddingStats {
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(embedded) / float64(total) * 100))
	}
	return EmbeddingStats{
		Total:      total,
		Embedded:   embedded,
		Pending:    pending,
		Processing: processing,
		Failed:     failed,
		Percentage: pct,
	}
}

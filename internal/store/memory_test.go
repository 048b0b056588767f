package store

import (
	"context"
	"testing"
	"time"

	"imagevault/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(checksum string, createdAt time.Time) *models.ImageRecord {
	return &models.ImageRecord{
		OwnerID:         "alice",
		VectorID:        checksum + "-vec",
		Title:           "A " + checksum,
		Tags:            []string{"t"},
		Filename:        checksum + ".jpg",
		Mime:            "image/jpeg",
		Checksum:        checksum,
		StoragePath:     checksum + ".jpg",
		EmbeddingStatus: models.StatusPending,
		CreatedAt:       createdAt,
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := newRecord("one", time.Now())
	require.NoError(t, s.Create(ctx, rec))
	assert.NotZero(t, rec.ID)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Checksum)

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDuplicateChecksum(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRecord("same", time.Now())))
	err := s.Create(ctx, newRecord("same", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicate)

	exists, err := s.ChecksumExists(ctx, "same")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryMarkTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := newRecord("one", time.Now())
	require.NoError(t, s.Create(ctx, rec))

	at := time.Now()
	require.NoError(t, s.MarkProcessing(ctx, rec.ID, at))
	got, _ := s.Get(ctx, rec.ID)
	assert.Equal(t, models.StatusProcessing, got.EmbeddingStatus)
	assert.Equal(t, 1, got.EmbeddingAttempts)
	require.NotNil(t, got.LastEmbeddingAttempt)
	assert.True(t, got.LastEmbeddingAttempt.Equal(at))

	require.NoError(t, s.MarkFailed(ctx, rec.ID, "boom"))
	got, _ = s.Get(ctx, rec.ID)
	assert.Equal(t, models.StatusFailed, got.EmbeddingStatus)
	assert.Equal(t, "boom", got.EmbeddingError)
	assert.False(t, got.IsEmbedded)

	require.NoError(t, s.MarkProcessing(ctx, rec.ID, at))
	require.NoError(t, s.MarkCompleted(ctx, rec.ID))
	got, _ = s.Get(ctx, rec.ID)
	assert.Equal(t, models.StatusCompleted, got.EmbeddingStatus)
	assert.True(t, got.IsEmbedded)
	assert.Empty(t, got.EmbeddingError)
	assert.Equal(t, 2, got.EmbeddingAttempts)
}

func TestMemoryFindFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	a := newRecord("alpha", base.Add(-time.Hour))
	a.Title = "Sunset over ocean"
	require.NoError(t, s.Create(ctx, a))

	b := newRecord("beta", base)
	b.Title = "Dog in the park"
	require.NoError(t, s.Create(ctx, b))

	c := newRecord("gamma", base.Add(time.Hour))
	c.OwnerID = "bob"
	require.NoError(t, s.Create(ctx, c))

	// Owner filter + recency order.
	recs, err := s.Find(ctx, RecordFilter{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, b.ID, recs[0].ID)

	// Case-insensitive text match.
	recs, err = s.Find(ctx, RecordFilter{Text: "SUNSET"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, a.ID, recs[0].ID)

	// Date range.
	from := base.Add(-time.Minute)
	recs, err = s.Find(ctx, RecordFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// ID set.
	recs, err = s.Find(ctx, RecordFilter{IDs: []int64{a.ID, c.ID}})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// Limit.
	recs, err = s.Find(ctx, RecordFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryEligibleOrderAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	oldest := newRecord("oldest", base.Add(-3*time.Hour))
	require.NoError(t, s.Create(ctx, oldest))
	newest := newRecord("newest", base)
	require.NoError(t, s.Create(ctx, newest))

	done := newRecord("done", base.Add(-2*time.Hour))
	done.EmbeddingStatus = models.StatusCompleted
	done.IsEmbedded = true
	require.NoError(t, s.Create(ctx, done))

	recs, err := s.Eligible(ctx, models.DefaultRetryPolicy(), 1, base)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, oldest.ID, recs[0].ID)

	recs, err = s.Eligible(ctx, models.DefaultRetryPolicy(), 10, base)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestMemoryCountByStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	done := newRecord("done", time.Now())
	done.EmbeddingStatus = models.StatusCompleted
	done.IsEmbedded = true
	require.NoError(t, s.Create(ctx, done))

	bob := newRecord("bob", time.Now())
	bob.OwnerID = "bob"
	require.NoError(t, s.Create(ctx, bob))

	counts, err := s.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Pending)

	counts, err = s.CountByStatus(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
	assert.Zero(t, counts.Completed)
}

func TestMemoryDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := newRecord("one", time.Now())
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.Delete(ctx, rec.ID))

	_, err := s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, rec.ID), ErrNotFound)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := newRecord("one", time.Now())
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Title)
}

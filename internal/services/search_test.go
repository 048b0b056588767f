package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"imagevault/internal/gateway"
	"imagevault/internal/models"
	"imagevault/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearcher(t *testing.T, cfg SearcherConfig) (*Searcher, *store.MemoryStore, *fakeModel, *fakeIndex) {
	t.Helper()
	recs := store.NewMemoryStore()
	model := newFakeModel(4)
	index := newFakeIndex()
	cache, err := NewEmbeddingCache(CacheTypeMemory)
	require.NoError(t, err)
	return NewSearcher(recs, model, index, cache, cfg), recs, model, index
}

func seedCompleted(t *testing.T, recs *store.MemoryStore, title string, createdAt time.Time) *models.ImageRecord {
	t.Helper()
	rec := &models.ImageRecord{
		OwnerID:         "alice",
		VectorID:        title + "-vec",
		Title:           title,
		Tags:            []string{"tag"},
		Filename:        title + ".jpg",
		Mime:            "image/jpeg",
		Checksum:        title + "-sum",
		StoragePath:     title + ".jpg",
		ImageURL:        "/uploads/" + title + ".jpg",
		EmbeddingStatus: models.StatusCompleted,
		IsEmbedded:      true,
		CreatedAt:       createdAt,
	}
	require.NoError(t, recs.Create(context.Background(), rec))
	return rec
}

func TestEmptyQueryMetadataOnly(t *testing.T) {
	s, recs, model, index := newTestSearcher(t, SearcherConfig{})
	index.healthErr = errors.New("must not be consulted")

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedCompleted(t, recs, "older", base.Add(-48*time.Hour))
	newer := seedCompleted(t, recs, "newer", base)
	outside := seedCompleted(t, recs, "way-older", base.Add(-30*24*time.Hour))

	from := base.Add(-72 * time.Hour)
	resp, err := s.Search(context.Background(), SearchQuery{
		OwnerID: "alice",
		From:    &from,
		Limit:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, SearchTypeAll, resp.SearchType)
	require.Len(t, resp.Results, 2)
	// Recency order.
	assert.Equal(t, newer.ID, resp.Results[0].ID)
	for _, res := range resp.Results {
		assert.NotEqual(t, outside.ID, res.ID)
		assert.Nil(t, res.Score)
	}

	// Model and index stay untouched on the metadata path.
	assert.Zero(t, model.TextCalls())
}

func TestQueryModelNotReadyIsUnavailable(t *testing.T) {
	s, _, model, _ := newTestSearcher(t, SearcherConfig{})
	model.notReady = true

	resp, err := s.Search(context.Background(), SearchQuery{Text: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, SearchTypeUnavailable, resp.SearchType)
	assert.Empty(t, resp.Results)
}

func TestQueryIndexUnhealthyIsUnavailable(t *testing.T) {
	s, _, _, index := newTestSearcher(t, SearcherConfig{})
	index.healthErr = errors.New("connection refused")

	resp, err := s.Search(context.Background(), SearchQuery{Text: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, SearchTypeUnavailable, resp.SearchType)
}

func TestQueryZeroPointsIsHardFailure(t *testing.T) {
	s, _, _, _ := newTestSearcher(t, SearcherConfig{})

	_, err := s.Search(context.Background(), SearchQuery{Text: "sunset"})
	var serr *SearchError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SearchErrTransient, serr.Kind)
}

func TestQueryEmptyEmbeddingIsTransient(t *testing.T) {
	s, _, model, index := newTestSearcher(t, SearcherConfig{})
	index.vectors["x"] = []float32{1, 0, 0, 0}
	model.textVec = []float32{}

	_, err := s.Search(context.Background(), SearchQuery{Text: "sunset"})
	var serr *SearchError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SearchErrTransient, serr.Kind)
}

func TestQueryDimensionMismatchIsBadRequest(t *testing.T) {
	s, _, model, index := newTestSearcher(t, SearcherConfig{})
	index.vectors["x"] = []float32{1, 0, 0, 0}
	model.textVec = []float32{1, 2} // model claims 4

	_, err := s.Search(context.Background(), SearchQuery{Text: "sunset"})
	var serr *SearchError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SearchErrBadRequest, serr.Kind)
	assert.ErrorIs(t, serr, gateway.ErrDimensionMismatch)
}

func TestAISearchRanksAndFilters(t *testing.T) {
	s, recs, _, index := newTestSearcher(t, SearcherConfig{Oversample: 3})

	now := time.Now()
	low := seedCompleted(t, recs, "low", now.Add(-3*time.Hour))
	high := seedCompleted(t, recs, "high", now.Add(-2*time.Hour))
	old := seedCompleted(t, recs, "ancient", now.Add(-90*24*time.Hour))

	index.vectors["any"] = []float32{1, 0, 0, 0}
	index.matches = []gateway.Match{
		{RecordID: high.ID, OwnerID: "alice", Score: 0.92},
		{RecordID: old.ID, OwnerID: "alice", Score: 0.80},
		{RecordID: low.ID, OwnerID: "alice", Score: 0.41},
		{RecordID: 9999, OwnerID: "alice", Score: 0.30}, // no such record
	}

	from := now.Add(-7 * 24 * time.Hour)
	resp, err := s.Search(context.Background(), SearchQuery{
		Text:    "sunset",
		OwnerID: "alice",
		From:    &from,
		Limit:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, SearchTypeAI, resp.SearchType)
	// Oversampling: the index is asked for limit*3 neighbors.
	assert.Equal(t, 30, index.lastK)

	// "ancient" is filtered out by the date range, the unknown id disappears,
	// the rest is ranked by score descending.
	require.Len(t, resp.Results, 2)
	assert.Equal(t, high.ID, resp.Results[0].ID)
	assert.Equal(t, low.ID, resp.Results[1].ID)
	assert.InDelta(t, 0.92, *resp.Results[0].Score, 1e-6)
}

func TestAISearchTruncatesToLimit(t *testing.T) {
	s, recs, _, index := newTestSearcher(t, SearcherConfig{})

	now := time.Now()
	var matches []gateway.Match
	for i := 0; i < 5; i++ {
		rec := seedCompleted(t, recs, string(rune('a'+i))+"-img", now.Add(-time.Duration(i)*time.Hour))
		matches = append(matches, gateway.Match{RecordID: rec.ID, Score: float32(100 - i)})
	}
	index.vectors["any"] = []float32{1, 0, 0, 0}
	index.matches = matches

	resp, err := s.Search(context.Background(), SearchQuery{Text: "img", Limit: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.InDelta(t, 100, *resp.Results[0].Score, 1e-6)
}

func TestAISearchWarnsAboutUnembeddedRecords(t *testing.T) {
	s, recs, _, index := newTestSearcher(t, SearcherConfig{})

	now := time.Now()
	done := seedCompleted(t, recs, "done", now)
	pending := &models.ImageRecord{
		OwnerID:         "alice",
		VectorID:        "pending-vec",
		Title:           "pending",
		Checksum:        "pending-sum",
		EmbeddingStatus: models.StatusPending,
	}
	require.NoError(t, recs.Create(context.Background(), pending))

	index.vectors["any"] = []float32{1, 0, 0, 0}
	index.matches = []gateway.Match{{RecordID: done.ID, Score: 0.9}}

	resp, err := s.Search(context.Background(), SearchQuery{Text: "done", OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "1 image(s)")
}

func TestQueryEmbeddingCached(t *testing.T) {
	s, recs, model, index := newTestSearcher(t, SearcherConfig{})

	done := seedCompleted(t, recs, "done", time.Now())
	index.vectors["any"] = []float32{1, 0, 0, 0}
	index.matches = []gateway.Match{{RecordID: done.ID, Score: 0.9}}

	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), SearchQuery{Text: "same query"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, model.TextCalls())
}

func TestSearchErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &SearchError{Kind: SearchErrTransient, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
}

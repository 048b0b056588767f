package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"imagevault/internal/gateway"
	"imagevault/internal/models"
	"imagevault/internal/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SearchType names the path a search response came from, so callers can
// branch on an enum instead of sniffing error strings.
type SearchType string

const (
	// SearchTypeAll is a metadata-only query (no text query given).
	SearchTypeAll SearchType = "all"
	// SearchTypeAI is a vector similarity search.
	SearchTypeAI SearchType = "ai"
	// SearchTypeUnavailable means the AI path's preconditions are not met
	// (model not ready or index unhealthy). Not an error: the caller is
	// expected to offer filters-only browsing explicitly.
	SearchTypeUnavailable SearchType = "unavailable"
)

type SearchErrorKind string

const (
	// SearchErrBadRequest is a 4xx-class failure (e.g. dimension mismatch),
	// retrying will not help.
	SearchErrBadRequest SearchErrorKind = "bad_request"
	// SearchErrTransient may succeed on retry.
	SearchErrTransient SearchErrorKind = "transient"
)

// SearchError is a failure on the AI search path. The query is never
// silently downgraded to a metadata search; the caller sees this error.
type SearchError struct {
	Kind SearchErrorKind
	Err  error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("ai search failed (%s): %v", e.Kind, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

type SearchQuery struct {
	// Text is the semantic query. Empty means metadata-only search.
	Text    string
	OwnerID string
	// Match filters on title/filename substring.
	Match string
	From  *time.Time
	To    *time.Time
	Limit int
}

type SearchResult struct {
	models.ImageRecord
	// Score is the similarity score, only set on the AI path.
	Score *float64 `json:"score,omitempty"`
}

type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	SearchType SearchType     `json:"search_type"`
	Warnings   []string       `json:"warnings,omitempty"`
}

type SearcherConfig struct {
	// Oversample multiplies the requested limit when querying the index, to
	// compensate for post-filtering loss (default 3).
	Oversample   int
	DefaultLimit int
}

// Searcher decides between vector similarity search and filter-only search,
// merges vector hits with metadata filters and ranks the result.
type Searcher struct {
	store store.RecordStore
	model gateway.ModelGateway
	index gateway.VectorIndex
	cache EmbeddingCache
	cfg   SearcherConfig
	log   *logrus.Entry
}

func NewSearcher(recs store.RecordStore, model gateway.ModelGateway, index gateway.VectorIndex, cache EmbeddingCache, cfg SearcherConfig) *Searcher {
	if cfg.Oversample <= 0 {
		cfg.Oversample = 3
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	return &Searcher{
		store: recs,
		model: model,
		index: index,
		cache: cache,
		cfg:   cfg,
		log:   logrus.WithField("component", "search"),
	}
}

func (s *Searcher) Search(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	if q.Limit <= 0 {
		q.Limit = s.cfg.DefaultLimit
	}

	if q.Text == "" {
		return s.metadataSearch(ctx, q)
	}

	if !s.model.Ready() || s.index.Health(ctx) != nil {
		return &SearchResponse{
			Results:    []SearchResult{},
			SearchType: SearchTypeUnavailable,
		}, nil
	}

	return s.aiSearch(ctx, q)
}

func (s *Searcher) metadataSearch(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	recs, err := s.store.Find(ctx, store.RecordFilter{
		OwnerID: q.OwnerID,
		Text:    q.Match,
		From:    q.From,
		To:      q.To,
		Limit:   q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata search: %w", err)
	}

	results := make([]SearchResult, 0, len(recs))
	for _, rec := range recs {
		results = append(results, SearchResult{ImageRecord: rec})
	}
	return &SearchResponse{Results: results, SearchType: SearchTypeAll}, nil
}

func (s *Searcher) aiSearch(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	var (
		vec   []float32
		count uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vec, err = s.embedQuery(gctx, q.Text)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = s.index.PointCount(gctx)
		if err != nil {
			return &SearchError{Kind: SearchErrTransient, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		var serr *SearchError
		if errors.As(err, &serr) {
			return nil, serr
		}
		return nil, &SearchError{Kind: SearchErrTransient, Err: err}
	}

	if count == 0 {
		return nil, &SearchError{Kind: SearchErrTransient, Err: errors.New("no vectors indexed yet")}
	}
	if len(vec) == 0 {
		return nil, &SearchError{Kind: SearchErrTransient, Err: errors.New("model returned empty embedding")}
	}
	if len(vec) != s.model.Dimensions() {
		return nil, &SearchError{
			Kind: SearchErrBadRequest,
			Err:  fmt.Errorf("%w: got %d, want %d", gateway.ErrDimensionMismatch, len(vec), s.model.Dimensions()),
		}
	}

	matches, err := s.index.Search(ctx, vec, q.Limit*s.cfg.Oversample)
	if err != nil {
		return nil, &SearchError{Kind: SearchErrTransient, Err: err}
	}

	scores := make(map[int64]float64, len(matches))
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		if m.RecordID == 0 {
			continue
		}
		if _, seen := scores[m.RecordID]; seen {
			continue
		}
		scores[m.RecordID] = float64(m.Score)
		ids = append(ids, m.RecordID)
	}

	var results []SearchResult
	if len(ids) > 0 {
		recs, err := s.store.Find(ctx, store.RecordFilter{
			OwnerID: q.OwnerID,
			IDs:     ids,
			Text:    q.Match,
			From:    q.From,
			To:      q.To,
		})
		if err != nil {
			return nil, &SearchError{Kind: SearchErrTransient, Err: err}
		}

		for _, rec := range recs {
			score, ok := scores[rec.ID]
			if !ok {
				// Record showed up without a score, exclude rather than rank
				// it with a default.
				continue
			}
			sc := score
			results = append(results, SearchResult{ImageRecord: rec, Score: &sc})
		}
		// Stable sort: ordering of equal scores stays whatever the index
		// gave us.
		sort.SliceStable(results, func(i, j int) bool {
			return *results[i].Score > *results[j].Score
		})
		if len(results) > q.Limit {
			results = results[:q.Limit]
		}
	}
	if results == nil {
		results = []SearchResult{}
	}

	resp := &SearchResponse{Results: results, SearchType: SearchTypeAI}

	counts, err := s.store.CountByStatus(ctx, q.OwnerID)
	if err != nil {
		s.log.WithError(err).Warn("status counts unavailable, skipping warning")
	} else if missing := counts.Total - counts.Completed; missing > 0 {
		resp.Warnings = append(resp.Warnings,
			fmt.Sprintf("%d image(s) are not embedded yet and are excluded from similarity search", missing))
	}

	return resp, nil
}

func (s *Searcher) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		if vec, ok := s.cache.Get(ctx, text); ok {
			return vec, nil
		}
	}

	vec, err := s.model.EmbedText(ctx, text)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidInput) {
			return nil, &SearchError{Kind: SearchErrBadRequest, Err: err}
		}
		return nil, &SearchError{Kind: SearchErrTransient, Err: err}
	}

	if s.cache != nil {
		s.cache.Put(ctx, text, vec)
	}
	return vec, nil
}

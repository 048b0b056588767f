package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"imagevault/internal/models"
)

// MemoryStore implements RecordStore with an in-memory map. It backs tests
// and small single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*models.ImageRecord
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*models.ImageRecord)}
}

func (s *MemoryStore) Create(_ context.Context, rec *models.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.Checksum != "" && existing.Checksum == rec.Checksum {
			return ErrDuplicate
		}
	}

	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*models.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) ChecksumExists(_ context.Context, checksum string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Checksum == checksum {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Eligible(_ context.Context, policy models.RetryPolicy, limit int, now time.Time) ([]models.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []models.ImageRecord
	for _, rec := range s.records {
		if models.Eligible(rec, policy, now) {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.EmbeddingStatus = models.StatusProcessing
	rec.EmbeddingAttempts++
	attempt := at
	rec.LastEmbeddingAttempt = &attempt
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.EmbeddingStatus = models.StatusCompleted
	rec.IsEmbedded = true
	rec.EmbeddingError = ""
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.EmbeddingStatus = models.StatusFailed
	rec.EmbeddingError = msg
	return nil
}

func (s *MemoryStore) Find(_ context.Context, filter RecordFilter) ([]models.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wantIDs := make(map[int64]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		wantIDs[id] = true
	}

	var recs []models.ImageRecord
	for _, rec := range s.records {
		if filter.OwnerID != "" && rec.OwnerID != filter.OwnerID {
			continue
		}
		if len(filter.IDs) > 0 && !wantIDs[rec.ID] {
			continue
		}
		if filter.Text != "" {
			text := strings.ToLower(filter.Text)
			if !strings.Contains(strings.ToLower(rec.Title), text) &&
				!strings.Contains(strings.ToLower(rec.Filename), text) {
				continue
			}
		}
		if filter.From != nil && rec.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && rec.CreatedAt.After(*filter.To) {
			continue
		}
		recs = append(recs, *rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, ownerID string) (StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts StatusCounts
	for _, rec := range s.records {
		if ownerID != "" && rec.OwnerID != ownerID {
			continue
		}
		counts.Total++
		switch rec.EmbeddingStatus {
		case models.StatusPending:
			counts.Pending++
		case models.StatusProcessing:
			counts.Processing++
		case models.StatusCompleted:
			counts.Completed++
		case models.StatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

var _ RecordStore = (*MemoryStore)(nil)

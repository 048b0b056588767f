package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sethvargo/go-retry"
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// URL is the Qdrant server address (e.g. "https://example.qdrant.io:6334").
	URL            string
	APIKey         string
	CollectionName string
	// Dimensions must match the model's output size.
	Dimensions int
}

// QdrantIndex implements VectorIndex on a Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists,
// retrying the bootstrap with Fibonacci backoff so a server that is still
// starting up does not fail the whole process.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	parsed := cfg.URL
	if !strings.HasPrefix(parsed, "http://") && !strings.HasPrefix(parsed, "https://") {
		parsed = "https://" + parsed
	}
	u, err := url.Parse(parsed)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	idx := &QdrantIndex{client: client, collection: cfg.CollectionName}

	b := retry.NewFibonacci(1 * time.Second)
	err = retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		return retry.RetryableError(idx.ensureCollection(ctx, cfg.Dimensions))
	})
	if err != nil {
		return nil, fmt.Errorf("ensure collection %q: %w", cfg.CollectionName, err)
	}

	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dims int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *QdrantIndex) Upsert(ctx context.Context, externalID string, vector []float32, payload Payload) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(externalID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payloadMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) SetPayload(ctx context.Context, externalID string, payload Payload) error {
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.collection,
		Payload:        payloadMap(payload),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewID(externalID)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: set payload: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, externalID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(externalID)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	limit := uint64(k)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrIndexUnavailable, err)
	}

	matches := make([]Match, 0, len(points))
	for _, point := range points {
		m := Match{Score: point.Score}
		if point.Payload != nil {
			if v, ok := point.Payload["record_id"]; ok {
				m.RecordID = v.GetIntegerValue()
			}
			if v, ok := point.Payload["owner_id"]; ok {
				m.OwnerID = v.GetStringValue()
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (q *QdrantIndex) Health(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) PointCount(ctx context.Context) (uint64, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrIndexUnavailable, err)
	}
	return count, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func payloadMap(p Payload) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		"record_id": p.RecordID,
		"owner_id":  p.OwnerID,
	})
}

var _ VectorIndex = (*QdrantIndex)(nil)

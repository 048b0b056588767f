package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"imagevault/internal/gateway"
	"imagevault/internal/models"
	"imagevault/internal/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type PipelineConfig struct {
	// BatchSize bounds one pass (default 10).
	BatchSize int
	Policy    models.RetryPolicy
	// Interval is the default period for Start (default 30s).
	Interval time.Duration
	// CallTimeout bounds each gateway call (default 30s).
	CallTimeout time.Duration
	// EmbedPerSecond caps model calls (default 5/s).
	EmbedPerSecond float64
}

func (c *PipelineConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Policy.MaxAttempts <= 0 {
		c.Policy = models.DefaultRetryPolicy()
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.EmbedPerSecond <= 0 {
		c.EmbedPerSecond = 5
	}
}

// Pipeline drains eligible records and materializes their vectors. At most
// one pass runs at a time process-wide; records within a pass are processed
// strictly sequentially to cap load on the shared model and index.
type Pipeline struct {
	store store.RecordStore
	blobs store.BlobStore
	model gateway.ModelGateway
	index gateway.VectorIndex
	cfg   PipelineConfig
	log   *logrus.Entry

	limiter *rate.Limiter
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Injectable time sources so tests do not need wall-clock waits.
	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())

	onCompleted func(rec models.ImageRecord)
	onFailed    func(rec models.ImageRecord, msg string)
}

func NewPipeline(recs store.RecordStore, blobs store.BlobStore, model gateway.ModelGateway, index gateway.VectorIndex, cfg PipelineConfig) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		store:   recs,
		blobs:   blobs,
		model:   model,
		index:   index,
		cfg:     cfg,
		log:     logrus.WithField("component", "pipeline"),
		limiter: rate.NewLimiter(rate.Limit(cfg.EmbedPerSecond), 1),
		now:     time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// SetOnCompleted registers a callback invoked after a record reaches
// completed. Used to push events to connected clients.
func (p *Pipeline) SetOnCompleted(fn func(rec models.ImageRecord)) { p.onCompleted = fn }

// SetOnFailed registers a callback invoked after a failed attempt.
func (p *Pipeline) SetOnFailed(fn func(rec models.ImageRecord, msg string)) { p.onFailed = fn }

// RunOnce executes a single pipeline pass. If a pass is already in progress
// the call returns immediately with processed=0. Individual record failures
// are recorded on the records and never abort the batch; only pass-level
// conditions (model not ready, store unreachable) are returned.
func (p *Pipeline) RunOnce(ctx context.Context) (processed int, err error) {
	if !p.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer p.running.Store(false)

	if !p.model.Ready() {
		p.log.Debug("model not ready, skipping pass")
		return 0, gateway.ErrModelUnavailable
	}

	recs, err := p.store.Eligible(ctx, p.cfg.Policy, p.cfg.BatchSize, p.now())
	if err != nil {
		return 0, fmt.Errorf("select eligible records: %w", err)
	}

	for i := range recs {
		if ctx.Err() != nil {
			break
		}
		p.processRecord(ctx, &recs[i])
		processed++
	}
	return processed, nil
}

func (p *Pipeline) processRecord(ctx context.Context, rec *models.ImageRecord) {
	log := p.log.WithFields(logrus.Fields{
		"record_id": rec.ID,
		"attempt":   rec.EmbeddingAttempts + 1,
	})

	if err := p.store.MarkProcessing(ctx, rec.ID, p.now()); err != nil {
		log.WithError(err).Error("mark processing failed")
		return
	}

	if err := p.embedAndIndex(ctx, rec); err != nil {
		p.recordFailure(ctx, rec, err)
		return
	}

	if err := p.store.MarkCompleted(ctx, rec.ID); err != nil {
		log.WithError(err).Error("mark completed failed")
		return
	}

	log.Info("record embedded")
	if p.onCompleted != nil {
		p.onCompleted(*rec)
	}
}

func (p *Pipeline) embedAndIndex(ctx context.Context, rec *models.ImageRecord) error {
	data, err := p.blobs.Read(rec.StoragePath)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	vec, err := p.model.EmbedImage(callCtx, data)
	cancel()
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vec) != p.model.Dimensions() {
		return fmt.Errorf("%w: got %d, want %d", gateway.ErrDimensionMismatch, len(vec), p.model.Dimensions())
	}

	callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
	err = p.index.Upsert(callCtx, rec.VectorID, vec, gateway.Payload{
		RecordID: rec.ID,
		OwnerID:  rec.OwnerID,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	return nil
}

func (p *Pipeline) recordFailure(ctx context.Context, rec *models.ImageRecord, cause error) {
	msg := cause.Error()
	if err := p.store.MarkFailed(ctx, rec.ID, msg); err != nil {
		p.log.WithError(err).WithField("record_id", rec.ID).Error("mark failed failed")
	}
	p.log.WithFields(logrus.Fields{
		"record_id": rec.ID,
		"err":       msg,
	}).Warn("embedding attempt failed")
	if p.onFailed != nil {
		p.onFailed(*rec, msg)
	}
}

// Trigger schedules an immediate pass in the background. Overlapping
// triggers collapse into one pass through the single-flight guard.
func (p *Pipeline) Trigger() {
	go func() {
		if _, err := p.RunOnce(context.Background()); err != nil && !errors.Is(err, gateway.ErrModelUnavailable) {
			p.log.WithError(err).Warn("triggered pass failed")
		}
	}()
}

// Start runs a pass immediately, then on every interval tick until Stop.
// Calling Start while started is a no-op. interval <= 0 uses the configured
// default.
func (p *Pipeline) Start(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	if interval <= 0 {
		interval = p.cfg.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, interval)
}

func (p *Pipeline) loop(ctx context.Context, interval time.Duration) {
	defer close(p.done)

	tick, stop := p.newTicker(interval)
	defer stop()

	// Passes run with a background context so an in-flight pass finishes
	// cleanly on Stop instead of half-writing a record.
	p.runLogged()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			p.runLogged()
		}
	}
}

func (p *Pipeline) runLogged() {
	n, err := p.RunOnce(context.Background())
	if err != nil && !errors.Is(err, gateway.ErrModelUnavailable) {
		p.log.WithError(err).Warn("scheduled pass failed")
	}
	if n > 0 {
		p.log.WithField("processed", n).Info("pipeline pass done")
	}
}

// Stop cancels the scheduled loop and waits for an in-flight pass to finish.
// Safe to call from any state, including before Start and twice.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// EmbedDirect is the upload fast path: embed and index image bytes under
// vectorID before the metadata record exists. The payload carries no record
// id yet; AttachRecord patches it in once the record is created.
func (p *Pipeline) EmbedDirect(ctx context.Context, vectorID, ownerID string, data []byte) error {
	if !p.model.Ready() {
		return gateway.ErrModelUnavailable
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	vec, err := p.model.EmbedImage(ctx, data)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vec) != p.model.Dimensions() {
		return fmt.Errorf("%w: got %d, want %d", gateway.ErrDimensionMismatch, len(vec), p.model.Dimensions())
	}
	if err := p.index.Upsert(ctx, vectorID, vec, gateway.Payload{OwnerID: ownerID}); err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	return nil
}

// AttachRecord completes the fast path by writing the record id into the
// point payload.
func (p *Pipeline) AttachRecord(ctx context.Context, vectorID string, recordID int64, ownerID string) error {
	return p.index.SetPayload(ctx, vectorID, gateway.Payload{RecordID: recordID, OwnerID: ownerID})
}

// Delete removes the metadata record, its vector and its blob. Vector and
// blob removal are best-effort: their failure never blocks the metadata
// delete.
func (p *Pipeline) Delete(ctx context.Context, id int64) error {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := p.index.Delete(ctx, rec.VectorID); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"record_id": id,
			"vector_id": rec.VectorID,
		}).Warn("vector delete failed, continuing with record delete")
	}

	if err := p.store.Delete(ctx, id); err != nil {
		return err
	}

	if err := p.blobs.Remove(rec.StoragePath); err != nil {
		p.log.WithError(err).WithField("record_id", id).Warn("blob delete failed")
	}
	return nil
}

// Stats reports embedding progress, optionally scoped to one owner.
func (p *Pipeline) Stats(ctx context.Context, ownerID string) (models.EmbeddingStats, error) {
	counts, err := p.store.CountByStatus(ctx, ownerID)
	if err != nil {
		return models.EmbeddingStats{}, err
	}
	return models.NewEmbeddingStats(counts.Total, counts.Completed, counts.Pending,
		counts.Processing, counts.Failed), nil
}

package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"imagevault/internal/models"
	"imagevault/internal/services"
	"imagevault/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxUploadSize   = 50 * 1024 * 1024 // 50 MB for images, this should be enough ...
	fastPathTimeout = 10 * time.Second
)

type UploadHandler struct {
	store    store.RecordStore
	blobs    store.BlobStore
	pipeline *services.Pipeline
	log      *logrus.Entry
}

func NewUploadHandler(recs store.RecordStore, blobs store.BlobStore, pipeline *services.Pipeline) *UploadHandler {
	return &UploadHandler{
		store:    recs,
		blobs:    blobs,
		pipeline: pipeline,
		log:      logrus.WithField("component", "upload"),
	}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	var tags []string
	if tagsRaw := r.FormValue("tags"); tagsRaw != "" {
		if err := json.Unmarshal([]byte(tagsRaw), &tags); err != nil {
			http.Error(w, "invalid tags format", http.StatusBadRequest)
			return
		}
	}

	file, fh, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "missing image field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	mime := fh.Header.Get("Content-Type")
	if !isAllowedMime(mime) {
		http.Error(w, "unsupported image format", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	rec, err := h.processUpload(ctx, data, fh.Filename, mime, title, tags, ownerID(r))
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			http.Error(w, "image already exists", http.StatusConflict)
			return
		}
		h.log.WithError(err).Error("upload failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

func (h *UploadHandler) processUpload(ctx context.Context, data []byte, filename, mime, title string, tags []string, owner string) (*models.ImageRecord, error) {
	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	exists, err := h.store.ChecksumExists(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, store.ErrDuplicate
	}

	path, url, err := h.blobs.Save(filename, data)
	if err != nil {
		return nil, err
	}

	rec := &models.ImageRecord{
		OwnerID:         owner,
		VectorID:        uuid.NewString(),
		Title:           title,
		Tags:            tags,
		Filename:        filename,
		Size:            int64(len(data)),
		Mime:            mime,
		Checksum:        checksum,
		StoragePath:     path,
		ImageURL:        url,
		EmbeddingStatus: models.StatusPending,
	}

	// Fast path: try to embed and index synchronously before the record
	// exists. On any failure the record is simply created pending and the
	// pipeline picks it up.
	fastCtx, cancel := context.WithTimeout(ctx, fastPathTimeout)
	fastErr := h.pipeline.EmbedDirect(fastCtx, rec.VectorID, owner, data)
	cancel()
	if fastErr == nil {
		now := time.Now()
		rec.EmbeddingAttempts = 1
		rec.LastEmbeddingAttempt = &now
	}

	if err := h.store.Create(ctx, rec); err != nil {
		if rmErr := h.blobs.Remove(path); rmErr != nil {
			h.log.WithError(rmErr).Warn("orphaned blob after failed insert")
		}
		return nil, err
	}

	if fastErr != nil {
		h.log.WithError(fastErr).WithField("record_id", rec.ID).Debug("fast path skipped")
		h.pipeline.Trigger()
		return rec, nil
	}

	// The point was written before the record id existed; patch the id into
	// the payload, then complete. If the attach fails the record is flipped
	// to failed and the pipeline redoes the (idempotent) upsert with the
	// full payload.
	if err := h.pipeline.AttachRecord(ctx, rec.VectorID, rec.ID, owner); err != nil {
		h.log.WithError(err).WithField("record_id", rec.ID).Warn("payload attach failed, requeueing")
		if mfErr := h.store.MarkFailed(ctx, rec.ID, "attach payload: "+err.Error()); mfErr != nil {
			h.log.WithError(mfErr).Error("mark failed after attach failure")
		}
		rec.EmbeddingStatus = models.StatusFailed
		return rec, nil
	}

	if err := h.store.MarkCompleted(ctx, rec.ID); err != nil {
		// Same shape as the documented crash gap: the vector exists, the
		// record is still pending. Re-processing heals it.
		h.log.WithError(err).WithField("record_id", rec.ID).Warn("complete after fast path failed")
		h.pipeline.Trigger()
		return rec, nil
	}
	rec.EmbeddingStatus = models.StatusCompleted
	rec.IsEmbedded = true

	return rec, nil
}

func ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return "anonymous"
}

func isAllowedMime(mime string) bool {
	allowed := map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/webp": true,
		"image/gif":  true,
	}
	return allowed[mime]
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"imagevault/internal/services"
	"imagevault/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type ImagesHandler struct {
	store    store.RecordStore
	pipeline *services.Pipeline
	log      *logrus.Entry
}

func NewImagesHandler(recs store.RecordStore, pipeline *services.Pipeline) *ImagesHandler {
	return &ImagesHandler{
		store:    recs,
		pipeline: pipeline,
		log:      logrus.WithField("component", "images"),
	}
}

// Get handles GET /api/images/{id}.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).Error("get failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if rec.OwnerID != ownerID(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// Delete handles DELETE /api/images/{id}. Removes the metadata record, its
// vector and its blob; vector/blob removal is best-effort.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).Error("get before delete failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if rec.OwnerID != ownerID(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.pipeline.Delete(r.Context(), id); err != nil {
		h.log.WithError(err).WithField("record_id", id).Error("delete failed")
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/embeddings/stats. The scope query parameter "owner"
// limits the counts to the caller's records.
func (h *ImagesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner := ""
	if r.URL.Query().Get("scope") == "owner" {
		owner = ownerID(r)
	}

	stats, err := h.pipeline.Stats(r.Context(), owner)
	if err != nil {
		h.log.WithError(err).Error("stats failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

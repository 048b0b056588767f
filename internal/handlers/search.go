package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"imagevault/internal/services"

	"github.com/sirupsen/logrus"
)

type SearchHandler struct {
	searcher *services.Searcher
	log      *logrus.Entry
}

func NewSearchHandler(searcher *services.Searcher) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		log:      logrus.WithField("component", "search-handler"),
	}
}

// Search handles GET /api/search?q=&match=&from=&to=&limit=.
// An empty q is a metadata-only query.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := services.SearchQuery{
		Text:    r.URL.Query().Get("q"),
		Match:   r.URL.Query().Get("match"),
		OwnerID: ownerID(r),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			query.Limit = l
		}
	}
	if from, ok := parseTime(r.URL.Query().Get("from")); ok {
		query.From = &from
	}
	if to, ok := parseTime(r.URL.Query().Get("to")); ok {
		query.To = &to
	}

	resp, err := h.searcher.Search(r.Context(), query)
	if err != nil {
		var serr *services.SearchError
		if errors.As(err, &serr) {
			status := http.StatusServiceUnavailable
			if serr.Kind == services.SearchErrBadRequest {
				status = http.StatusBadRequest
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{
				"search_type": services.SearchTypeAI,
				"error":       serr.Err.Error(),
				"error_kind":  serr.Kind,
			})
			return
		}
		h.log.WithError(err).Error("search failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

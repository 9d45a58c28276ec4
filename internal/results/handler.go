package results

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"github.com/netpanel/linkpanel/internal/logging"
)

// Run ids are uuids minted by the hub; anything else is rejected up front.
var validID = regexp.MustCompile(`^[0-9a-fA-F-]{1,36}$`)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func respondJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Warn("results: marshal response failed", logging.Field{Key: "error", Value: err})
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusOK {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		logging.Warn("results: write response failed", logging.Field{Key: "error", Value: err})
	}
}

// Get serves GET /api/results/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validID.MatchString(id) {
		respondJSONError(w, "invalid run ID", http.StatusBadRequest)
		return
	}

	record, err := h.store.Get(id)
	if err != nil {
		logging.Warn("results: get failed", logging.Field{Key: "error", Value: err})
		respondJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if record == nil {
		respondJSONError(w, "run not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// List serves GET /api/results, newest first. The limit query parameter caps
// the page size.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.store.Recent(limit)
	if err != nil {
		logging.Warn("results: list failed", logging.Field{Key: "error", Value: err})
		respondJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  records,
		"count": len(records),
	})
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/pulsearb/pulsearb/internal/application/pipeline"
	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/errs"
)

type handlers struct {
	pipeline *pipeline.Pipeline
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// ingestSignal runs one signal through the full pipeline and returns the
// terminal decision.
func (h *handlers) ingestSignal(w http.ResponseWriter, r *http.Request) {
	var signal domain.Signal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		writeError(w, http.StatusBadRequest, "malformed signal body")
		return
	}

	d, err := h.pipeline.Decide(r.Context(), signal)
	if err != nil {
		var verr *errs.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		log.Error().Err(err).Str("asset", signal.AssetID).Msg("signal evaluation failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type outcomeRequest struct {
	SignalID string `json:"signal_id"`
	domain.ExitData
}

func (h *handlers) recordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed outcome body")
		return
	}
	if req.SignalID == "" {
		writeError(w, http.StatusBadRequest, "signal_id is required")
		return
	}

	if err := h.pipeline.RecordOutcome(r.Context(), req.SignalID, req.ExitData); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (h *handlers) recentDecisions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	decisions, err := h.pipeline.RecentDecisions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

func (h *handlers) topSources(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	sources, err := h.pipeline.TopSources(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

func (h *handlers) blacklistSource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.pipeline.BlacklistSource(r.Context(), vars["type"], vars["id"]); err != nil {
		writeError(w, http.StatusInternalServerError, "blacklist failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

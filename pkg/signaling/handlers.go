package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lokutor-ai/voxpipe/pkg/ingest"
)

// truthyEnableSTT mirrors spec.md §6's enable_stt truthy set.
var truthyEnableSTT = map[string]bool{"true": true, "1": true, "yes": true, "on": true}

// Handlers wires Manager onto the HTTP surface of spec.md §6: POST
// /offer, POST /{id}/hangup, GET /healthz, following the
// net/http.ServeMux path-pattern + PathValue style of
// MrWong99-glyphoxa/internal/health.Handler and
// pkg/audio/webrtc.SignalingServer.
type Handlers struct {
	mgr *Manager
	log ingest.Logger
}

// NewHandlers builds a Handlers fronting mgr.
func NewHandlers(mgr *Manager, log ingest.Logger) *Handlers {
	if log == nil {
		log = ingest.NoOpLogger{}
	}
	return &Handlers{mgr: mgr, log: log}
}

// Register adds the signaling routes to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /offer", h.handleOffer)
	mux.HandleFunc("POST /{id}/hangup", h.handleHangup)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

// handleOffer implements the signaling POST: an application/sdp body
// in, an application/sdp answer out, with X-Session-Id/X-Call-Id
// response headers.
func (h *Handlers) handleOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read offer body", http.StatusBadRequest)
		return
	}
	if len(offer) == 0 {
		http.Error(w, "empty sdp offer", http.StatusBadRequest)
		return
	}

	enableSTT := true
	if v := r.URL.Query().Get("enable_stt"); v != "" {
		enableSTT = truthyEnableSTT[strings.ToLower(v)]
	}

	entry, answerSDP, err := h.mgr.Offer(r.Context(), string(offer), enableSTT)
	if err != nil {
		h.log.Warn("signaling: offer failed", "err", err)
		http.Error(w, "failed to negotiate session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("X-Session-Id", entry.SessionID)
	w.Header().Set("X-Call-Id", entry.CallID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(answerSDP))
}

// handleHangup implements POST /{id}/hangup: tears the named session
// down, 404 if it isn't registered.
func (h *Handlers) handleHangup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.mgr.Hangup(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "hangup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Timestamp      int64  `json:"timestamp"`
}

// handleHealthz implements the liveness GET of spec.md §6.
func (h *Handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:         "ok",
		ActiveSessions: h.mgr.ActiveSessions(),
		Timestamp:      time.Now().Unix(),
	})
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/service"
	"github.com/Wyydra/wacall/internal/metrics"
)

// CallController is the part of service.CallService the UI drives.
type CallController interface {
	Dial(ctx context.Context, peerNumber, reference string) error
	Answer(ctx context.Context) error
	EndCall(ctx context.Context) error
	Decline(ctx context.Context) error
	RequestPermission(ctx context.Context, peerNumber, reference string) (domain.PermissionRequest, error)
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

type Handler struct {
	Calls CallController
	Hub   *ws.Hub
}

func NewHandler(calls CallController, hub *ws.Hub) *Handler {
	return &Handler{
		Calls: calls,
		Hub:   hub,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/calls", h.dial)
		r.Get("/calls/current", h.current)
		r.Post("/calls/answer", h.command(h.Calls.Answer))
		r.Post("/calls/end", h.command(h.Calls.EndCall))
		r.Post("/calls/decline", h.command(h.Calls.Decline))
		r.Post("/permissions", h.requestPermission)
	})

	return r
}

type dialRequest struct {
	ToNumber      string `json:"to_number"`
	LeadReference string `json:"lead_reference"`
}

type errorResponse struct {
	Error           string `json:"error"`
	Kind            string `json:"kind"`
	PermissionOffer bool   `json:"permission_offer,omitempty"`
}

type permissionResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handler) dial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "BadRequest"})
		return
	}
	if err := h.Calls.Dial(r.Context(), req.ToNumber, req.LeadReference); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, r, http.StatusAccepted)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	h.writeSnapshot(w, r, http.StatusOK)
}

func (h *Handler) command(fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		h.writeSnapshot(w, r, http.StatusOK)
	}
}

func (h *Handler) requestPermission(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "BadRequest"})
		return
	}
	res, err := h.Calls.RequestPermission(r.Context(), req.ToNumber, req.LeadReference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionResponse{Accepted: res.Accepted, Reason: res.Reason})
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, r *http.Request, code int) {
	snap, err := h.Calls.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, code, snap)
}

func errorBody(err error) (int, errorResponse) {
	if errors.Is(err, service.ErrEmptyNumber) {
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "BadRequest"}
	}
	kind := domain.ErrorKindOf(err)
	body := errorResponse{Error: domain.Describe(err), Kind: kind.String()}

	switch kind {
	case domain.KindPermissionDenied:
		body.PermissionOffer = true
		return http.StatusForbidden, body
	case domain.KindSessionBusy, domain.KindInvalidTransition:
		return http.StatusConflict, body
	case domain.KindNoActiveCall:
		return http.StatusNotFound, body
	case domain.KindQuotaExceeded:
		return http.StatusTooManyRequests, body
	case domain.KindBackendUnavailable, domain.KindBackendRejected:
		return http.StatusBadGateway, body
	case domain.KindServiceStopped:
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, body
}

func writeError(w http.ResponseWriter, err error) {
	code, body := errorBody(err)
	if code >= 500 {
		log.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error writing response")
	}
}

// internal/membership/handler.go
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the membership API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/subscribe", h.handleSubscribe)
	r.Put("/users/{userID}/upgrade", h.handleUpgrade)
	r.Put("/users/{userID}/downgrade", h.handleDowngrade)
	r.Delete("/users/{userID}/cancel", h.handleCancel)
	r.Get("/users/{userID}/current", h.handleCurrent)
	r.Post("/users/{userID}/evaluate-tier", h.handleEvaluateTier)
	r.Get("/users/{userID}/benefits", h.handleBenefits)
	r.Get("/users/{userID}/history", h.handleHistory)
	return r
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    uuid.UUID `json:"user_id"`
		PlanID    uuid.UUID `json:"plan_id"`
		TierID    uuid.UUID `json:"tier_id"`
		AutoRenew bool      `json:"auto_renew"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := h.service.Subscribe(r.Context(), req.UserID, req.PlanID, req.TierID, req.AutoRenew)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

func (h *Handler) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	h.handlePlanChange(w, r, h.service.Upgrade)
}

func (h *Handler) handleDowngrade(w http.ResponseWriter, r *http.Request) {
	h.handlePlanChange(w, r, h.service.Downgrade)
}

func (h *Handler) handlePlanChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, planID, tierID uuid.UUID) (*Membership, error)) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	var req struct {
		NewPlanID uuid.UUID `json:"new_plan_id"`
		NewTierID uuid.UUID `json:"new_tier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := op(r.Context(), userID, req.NewPlanID, req.NewTierID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	json.NewEncoder(w).Encode(m)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	m, err := h.service.Cancel(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	json.NewEncoder(w).Encode(m)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	m, err := h.service.GetCurrentMembership(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	json.NewEncoder(w).Encode(m)
}

func (h *Handler) handleEvaluateTier(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	if err := h.service.EvaluateAndUpdateTier(r.Context(), userID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBenefits(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	benefits, err := h.service.GetUserBenefits(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	json.NewEncoder(w).Encode(benefits)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	history, err := h.service.GetTransactionHistory(r.Context(), userID, page, size)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	json.NewEncoder(w).Encode(history)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMembershipNotFound),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrTierNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrPaymentUnavailable), errors.Is(err, ErrNoActiveTiers):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package analytics_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-redemption/internal/analytics"
	"ms-redemption/internal/logger"
	"ms-redemption/internal/models"
	"ms-redemption/internal/utils"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/events/{eventId}", h.GetEventSummary)
		r.Post("/events/batch", h.GetBatchSummary)
	})
}

func (h *Handler) GetEventSummary(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	summary, err := h.Service.GetEventSummary(r.Context(), eventID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetBatchSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventIDs []string `json:"eventIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	summary, err := h.Service.GetBatchSummary(r.Context(), req.EventIDs)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrValidation) {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	h.Logger.Error("ANALYTICS", fmt.Sprintf("summary failed: %v", err))
	utils.WriteError(w, http.StatusInternalServerError, "Failed to build summary", err)
}

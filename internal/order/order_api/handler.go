package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-redemption/internal/auth"
	"ms-redemption/internal/logger"
	"ms-redemption/internal/models"
	"ms-redemption/internal/utils"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error)
	ListOrders(ctx context.Context, filter models.ListFilter) ([]*models.Order, error)
	DeleteOrder(ctx context.Context, id string) error
}

type PaymentStarter interface {
	Begin(ctx context.Context, orderID string) (models.BeginResponse, error)
}

type PaymentReconciler interface {
	HandleReturn(ctx context.Context, cb models.PaymentCallback) (models.PaymentOutcome, error)
}

type RedemptionService interface {
	ClaimItems(ctx context.Context, orderID string, lines []models.ClaimLine) (models.ClaimResult, error)
	Lookup(ctx context.Context, code string) (*models.Order, error)
}

type QRRenderer interface {
	PNG(code string, size int) ([]byte, error)
}

type Handler struct {
	Orders      OrderService
	Checkout    PaymentStarter
	Reconciler  PaymentReconciler
	Redemptions RedemptionService
	QR          QRRenderer
	Activity    ActivitySource
	Logger      *logger.Logger
	FrontendURL string
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	order, err := h.Orders.CreateOrder(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, "GetOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	if err := h.Orders.DeleteOrder(r.Context(), orderID); err != nil {
		h.fail(w, "DeleteOrder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ListFilter{
		Status:  models.Status(q.Get("status")),
		EventID: q.Get("eventId"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	orders, err := h.Orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.fail(w, "ListOrders", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrdersByUserID(w http.ResponseWriter, r *http.Request) {
	h.writeUserOrders(w, r, chi.URLParam(r, "userId"))
}

// GetMyOrders lists the orders of the caller identified by the bearer token.
func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequestSubject(r)
	if err != nil {
		h.Logger.LogSecurity("NO_SUBJECT", err.Error())
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized", err)
		return
	}
	h.writeUserOrders(w, r, userID)
}

func (h *Handler) writeUserOrders(w http.ResponseWriter, r *http.Request, userID string) {
	if userID == "" {
		utils.WriteError(w, http.StatusBadRequest, "User ID is required", nil)
		return
	}
	orders, err := h.Orders.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		h.fail(w, "ListOrdersByUser", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

// fail logs err and writes the mapped error response.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, status, message, err)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", s)
	}
	return n, nil
}

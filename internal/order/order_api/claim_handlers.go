package order_api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-redemption/internal/models"
	"ms-redemption/internal/utils"
)

const defaultQRSize = 256

// claimRequest is the wrapped form of a claim batch. The canonical body is a
// bare array of lines; {"items": [...]} is still accepted from older clients.
type claimRequest struct {
	Items []models.ClaimLine `json:"items"`
}

func decodeClaimLines(r *http.Request) ([]models.ClaimLine, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0:
		return nil, errors.New("empty body")
	case raw[0] == '[':
		var lines []models.ClaimLine
		if err := json.Unmarshal(raw, &lines); err != nil {
			return nil, err
		}
		return lines, nil
	case raw[0] == '{':
		var req claimRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return req.Items, nil
	default:
		return nil, errors.New("claim body must be an array of lines")
	}
}

// ClaimItems registers a batch of redeemed units at a claim point.
func (h *Handler) ClaimItems(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	lines, err := decodeClaimLines(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Redemptions.ClaimItems(r.Context(), orderID, lines)
	if err != nil {
		h.fail(w, "ClaimItems", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

// GetOrderQR renders the redemption code of a paid order as a PNG.
func (h *Handler) GetOrderQR(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, "GetOrderQR", err)
		return
	}
	if order.RedemptionCode == "" {
		h.fail(w, "GetOrderQR", fmt.Errorf("%w: order %s is %s", models.ErrOrderNotRedeemable, orderID, order.Status))
		return
	}

	size := defaultQRSize
	if s := r.URL.Query().Get("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1024 {
			size = n
		}
	}
	png, err := h.QR.PNG(order.RedemptionCode, size)
	if err != nil {
		h.fail(w, "GetOrderQR", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// LookupRedemption resolves a scanned code to its order before claiming.
func (h *Handler) LookupRedemption(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	order, err := h.Redemptions.Lookup(r.Context(), code)
	if err != nil {
		h.fail(w, "LookupRedemption", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, order)
}

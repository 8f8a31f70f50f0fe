package order_api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"ms-redemption/internal/models"
	"ms-redemption/internal/payment"
	"ms-redemption/internal/utils"
)

// BeginPayment opens a gateway transaction and returns where to send the buyer.
func (h *Handler) BeginPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	resp, err := h.Checkout.Begin(r.Context(), orderID)
	if err != nil {
		h.fail(w, "BeginPayment", err)
		return
	}
	h.Logger.LogPayment("BEGIN", orderID, "redirecting buyer to gateway")
	utils.WriteJSON(w, http.StatusOK, resp)
}

// PaymentReturn receives the buyer back from the gateway. Webpay posts a form
// on success and uses query parameters on abort or timeout.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.Logger.Warn("PAYMENT", fmt.Sprintf("PaymentReturn: bad form: %v", err))
	}
	cb := models.PaymentCallback{
		CommitToken: r.Form.Get("token_ws"),
		AbortToken:  r.Form.Get("TBK_TOKEN"),
		OrderID:     r.Form.Get("TBK_ORDEN_COMPRA"),
	}

	out, err := h.Reconciler.HandleReturn(r.Context(), cb)
	if err != nil {
		h.Logger.Error("PAYMENT", fmt.Sprintf("PaymentReturn: %v", err))
		if out.Reason == "" {
			out.Reason = payment.ReasonGatewayUnavailable
		}
	}
	if out.OrderID == "" {
		out.OrderID = cb.OrderID
	}

	http.Redirect(w, r, h.returnURL(out), http.StatusSeeOther)
}

func (h *Handler) returnURL(out models.PaymentOutcome) string {
	q := url.Values{}
	q.Set("orderId", out.OrderID)
	if out.Succeeded() {
		return h.FrontendURL + "/payment/success?" + q.Encode()
	}
	reason := out.Reason
	if reason == "" {
		reason = payment.ReasonAlreadyProcessed
	}
	q.Set("reason", reason)
	return h.FrontendURL + "/payment/failure?" + q.Encode()
}

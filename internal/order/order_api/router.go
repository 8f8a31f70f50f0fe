package order_api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-redemption/internal/logger"
	"ms-redemption/internal/metrics"
	"ms-redemption/internal/utils"
)

// RouteRegistrar mounts additional routes, such as the analytics endpoints.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RouterOptions carries the cross-cutting pieces of the router. Protect, when
// set, guards the reporting and scanner routes.
type RouterOptions struct {
	Metrics   *metrics.Metrics
	Protect   func(http.Handler) http.Handler
	Reporting []RouteRegistrar
}

func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger, opts.Metrics))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", opts.Metrics.Handler())

	// buyer flow
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/mine", h.GetMyOrders)
	r.Get("/users/{userId}/orders", h.GetOrdersByUserID)
	r.Get("/orders/{orderId}", h.GetOrder)
	r.Delete("/orders/{orderId}", h.DeleteOrder)
	r.Post("/orders/{orderId}/payments", h.BeginPayment)
	r.Get("/orders/{orderId}/qr", h.GetOrderQR)
	r.Get("/payments/return", h.PaymentReturn)
	r.Post("/payments/return", h.PaymentReturn)

	// staff and scanners
	r.Group(func(r chi.Router) {
		if opts.Protect != nil {
			r.Use(opts.Protect)
		}
		r.Get("/orders", h.ListOrders)
		r.Post("/orders/{orderId}/claims", h.ClaimItems)
		r.Get("/redemptions/{code}", h.LookupRedemption)
		if h.Activity != nil {
			r.Get("/events/{eventId}/activity", h.StreamEventActivity)
		}
		for _, rr := range opts.Reporting {
			rr.RegisterRoutes(r)
		}
	})

	return r
}

func requestLogger(log *logger.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			pattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			m.ObserveRequest(pattern, status, elapsed)
			log.LogAPI(r.Method, r.URL.Path, fmt.Sprint(status), elapsed.String())
		})
	}
}

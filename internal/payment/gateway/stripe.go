package gateway

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ms-redemption/internal/models"
)

// Stripe runs payments through Stripe Checkout. The checkout session id plays
// the role of the gateway token, and both return urls point at the same
// callback the Webpay flow uses.
type Stripe struct {
	client   *client.API
	currency string
}

// NewStripe builds the adapter. backends may be nil for the live API.
func NewStripe(secretKey, currency string, backends *stripe.Backends) *Stripe {
	return &Stripe{client: client.New(secretKey, backends), currency: currency}
}

func (s *Stripe) BeginPayment(ctx context.Context, req models.BeginRequest) (models.BeginResponse, error) {
	if err := validateBegin(req); err != nil {
		return models.BeginResponse{}, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.BuyOrder),
		SuccessURL:        stripe.String(withQuery(req.ReturnURL, "token_ws={CHECKOUT_SESSION_ID}")),
		CancelURL: stripe.String(withQuery(req.ReturnURL,
			"TBK_TOKEN=aborted&TBK_ORDEN_COMPRA="+url.QueryEscape(req.BuyOrder))),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(req.AmountMinorUnits),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.BuyOrder),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("session_id", req.SessionID)
	params.AddMetadata("order_id", req.BuyOrder)

	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		return models.BeginResponse{}, unavailable("create checkout session", err)
	}
	return models.BeginResponse{Token: sess.ID, RedirectURL: sess.URL}, nil
}

func (s *Stripe) CommitPayment(ctx context.Context, token string) (models.CommitResult, error) {
	if token == "" {
		return models.CommitResult{}, fmt.Errorf("%w: empty token", models.ErrValidation)
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.client.CheckoutSessions.Get(token, params)
	if err != nil {
		return models.CommitResult{}, unavailable("retrieve checkout session", err)
	}
	return commitResultFromSession(sess), nil
}

func commitResultFromSession(sess *stripe.CheckoutSession) models.CommitResult {
	res := models.CommitResult{
		SettledOrderID: sess.ClientReferenceID,
		Amount:         sess.AmountTotal,
		ResponseCode:   -1,
	}
	if res.SettledOrderID == "" {
		res.SettledOrderID = sess.Metadata["order_id"]
	}
	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		res.Authorized = true
		res.ResponseCode = 0
	}
	return res
}

// withQuery appends a raw query fragment. Stripe substitutes
// {CHECKOUT_SESSION_ID} itself, so the fragment must not be escaped.
func withQuery(base, query string) string {
	u, err := url.Parse(base)
	if err != nil || u.RawQuery == "" {
		return base + "?" + query
	}
	return base + "&" + query
}

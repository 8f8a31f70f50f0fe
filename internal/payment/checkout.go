package payment

import (
	"context"
	"fmt"
	"time"

	"ms-redemption/internal/logger"
	"ms-redemption/internal/models"
	"ms-redemption/internal/payment/gateway"
	"ms-redemption/internal/utils"
)

type CheckoutStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	SetPaymentToken(ctx context.Context, id, token string) (bool, error)
}

// Checkout opens a gateway transaction for a pending order. It is the
// client-triggered step between order creation and the gateway return.
type Checkout struct {
	Store            CheckoutStore
	Gateway          gateway.Gateway
	Log              *logger.Logger
	ReturnURL        string
	CurrencyExponent int32
	Timeout          time.Duration
}

func (c *Checkout) Begin(ctx context.Context, orderID string) (models.BeginResponse, error) {
	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return models.BeginResponse{}, err
	}
	if order.Status != models.StatusPendingPayment {
		return models.BeginResponse{}, fmt.Errorf("%w: order %s is %s", models.ErrOrderNotPayable, orderID, order.Status)
	}

	minor := order.Total.Shift(c.CurrencyExponent)
	if !minor.IsInteger() {
		return models.BeginResponse{}, fmt.Errorf("%w: total %s has more precision than the currency allows", models.ErrValidation, order.Total)
	}

	req := models.BeginRequest{
		BuyOrder:         order.OrderID,
		SessionID:        utils.GenerateSessionID(),
		AmountMinorUnits: minor.IntPart(),
		ReturnURL:        c.ReturnURL,
	}

	gctx, cancel := context.WithTimeout(ctx, c.timeout())
	res, err := c.Gateway.BeginPayment(gctx, req)
	cancel()
	if err != nil {
		c.Log.Error("PAYMENT", fmt.Sprintf("Begin payment failed for order %s: %v", orderID, err))
		return models.BeginResponse{}, err
	}

	ok, err := c.Store.SetPaymentToken(ctx, orderID, res.Token)
	if err != nil {
		return models.BeginResponse{}, err
	}
	if !ok {
		return models.BeginResponse{}, fmt.Errorf("%w: order %s was resolved meanwhile", models.ErrOrderNotPayable, orderID)
	}

	c.Log.LogPayment("BEGIN", orderID, fmt.Sprintf("session %s amount %d", req.SessionID, req.AmountMinorUnits))
	return res, nil
}

func (c *Checkout) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

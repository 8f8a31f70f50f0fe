// Package gateway wraps the external payment providers behind one interface.
// Every failure to get an answer from a provider is reported as
// models.ErrGatewayUnavailable; nothing is retried here.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"ms-redemption/internal/models"
)

type Gateway interface {
	BeginPayment(ctx context.Context, req models.BeginRequest) (models.BeginResponse, error)
	CommitPayment(ctx context.Context, token string) (models.CommitResult, error)
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out: %v", models.ErrGatewayUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrGatewayUnavailable, op, err)
}

func validateBegin(req models.BeginRequest) error {
	if req.BuyOrder == "" || len(req.BuyOrder) > models.MaxBuyOrderLength {
		return fmt.Errorf("%w: buy order must be 1-%d characters", models.ErrValidation, models.MaxBuyOrderLength)
	}
	if req.AmountMinorUnits <= 0 {
		return fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if req.ReturnURL == "" {
		return fmt.Errorf("%w: return url is required", models.ErrValidation)
	}
	return nil
}

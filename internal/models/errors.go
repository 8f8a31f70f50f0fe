package models

import "errors"

var (
	ErrValidation                = errors.New("validation failed")
	ErrEmptyOrder                = errors.New("order must contain at least one item")
	ErrInvalidQuantity           = errors.New("quantity must be positive")
	ErrTotalMismatch             = errors.New("total does not match the sum of line items")
	ErrDuplicateID               = errors.New("order id already exists")
	ErrOrderNotFound             = errors.New("order not found")
	ErrItemNotFound              = errors.New("order item not found")
	ErrOverClaim                 = errors.New("claim exceeds purchased quantity")
	ErrNothingLeftToClaim        = errors.New("order is fully claimed")
	ErrOrderNotRedeemable        = errors.New("order is not redeemable")
	ErrOrderNotPayable           = errors.New("order is not awaiting payment")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrConcurrentUpdateExhausted = errors.New("concurrent update retries exhausted")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrInvalidRedemptionCode     = errors.New("invalid redemption code")
)

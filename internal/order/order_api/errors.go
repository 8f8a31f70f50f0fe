package order_api

import (
	"errors"
	"net/http"

	"ms-redemption/internal/models"
)

var errorStatus = []struct {
	err     error
	status  int
	message string
}{
	{models.ErrValidation, http.StatusBadRequest, "Invalid request"},
	{models.ErrEmptyOrder, http.StatusBadRequest, "Invalid request"},
	{models.ErrInvalidQuantity, http.StatusBadRequest, "Invalid request"},
	{models.ErrTotalMismatch, http.StatusBadRequest, "Invalid request"},
	{models.ErrInvalidRedemptionCode, http.StatusBadRequest, "Invalid redemption code"},
	{models.ErrOrderNotFound, http.StatusNotFound, "Order not found"},
	{models.ErrItemNotFound, http.StatusNotFound, "Order item not found"},
	{models.ErrDuplicateID, http.StatusConflict, "Order already exists"},
	{models.ErrOverClaim, http.StatusConflict, "Claim exceeds purchased quantity"},
	{models.ErrNothingLeftToClaim, http.StatusConflict, "Order is fully claimed"},
	{models.ErrConcurrentUpdateExhausted, http.StatusConflict, "Order is busy, retry"},
	{models.ErrOrderNotPayable, http.StatusConflict, "Order is not awaiting payment"},
	{models.ErrInvalidTransition, http.StatusConflict, "Order cannot be changed in its current status"},
	{models.ErrOrderNotRedeemable, http.StatusUnprocessableEntity, "Order is not redeemable"},
	{models.ErrGatewayUnavailable, http.StatusBadGateway, "Payment gateway unavailable"},
}

func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.message
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

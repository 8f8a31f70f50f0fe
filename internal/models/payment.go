package models

// BeginRequest is what the gateway needs to open a transaction for an order.
type BeginRequest struct {
	BuyOrder         string
	SessionID        string
	AmountMinorUnits int64
	ReturnURL        string
}

type BeginResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
}

// CommitResult is the gateway verdict for a committed token.
type CommitResult struct {
	Authorized     bool
	ResponseCode   int
	SettledOrderID string
	Amount         int64
}

// Approved reports whether the gateway both authorized and accepted the payment.
func (c CommitResult) Approved() bool {
	return c.Authorized && c.ResponseCode == 0
}

// PaymentCallback is the inbound gateway return. CommitToken is the token_ws
// field; AbortToken is set when the buyer aborted on the gateway page.
type PaymentCallback struct {
	CommitToken string
	AbortToken  string
	OrderID     string
}

// PaymentOutcome describes what a callback did to an order.
type PaymentOutcome struct {
	OrderID   string
	Status    Status
	Duplicate bool
	Reason    string
}

// Succeeded reports whether the order ended up paid.
func (o PaymentOutcome) Succeeded() bool {
	return o.Status.PaymentResolved() && o.Status != StatusCancelled
}

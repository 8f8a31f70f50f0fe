package models

// ClaimLine asks to redeem Amount units of one order item.
type ClaimLine struct {
	ItemID int64 `json:"itemId"`
	Amount int   `json:"amount"`
}

// ClaimCount is the state of an item counter after an increment.
type ClaimCount struct {
	ItemID   int64 `json:"itemId"`
	Claimed  int   `json:"claimed"`
	Quantity int   `json:"quantity"`
}

type ClaimResult struct {
	OrderID string       `json:"orderId"`
	EventID string       `json:"eventId"`
	Status  Status       `json:"status"`
	Items   []ClaimCount `json:"items"`
}

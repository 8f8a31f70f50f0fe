package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// MaxBuyOrderLength is the longest order identifier the payment gateway accepts as a buy order.
const MaxBuyOrderLength = 26

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID        string          `bun:"order_id,pk,type:varchar(26)" json:"order_id"`
	UserID         string          `bun:"user_id,notnull" json:"user_id"`
	EventID        string          `bun:"event_id,notnull" json:"event_id"`
	Total          decimal.Decimal `bun:"total,type:numeric(12,2),notnull" json:"total"`
	Status         Status          `bun:"status,notnull" json:"status"`
	PaymentToken   string          `bun:"payment_token,nullzero" json:"-"`
	RedemptionCode string          `bun:"redemption_code,nullzero" json:"redemption_code,omitempty"`
	Version        int64           `bun:"version,notnull,default:0" json:"-"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at,nullzero" json:"updated_at,omitempty"`

	Items []*OrderItem `bun:"rel:has-many,join:order_id=order_id" json:"items"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID              int64           `bun:"id,pk,autoincrement" json:"id"`
	OrderID         string          `bun:"order_id,notnull,type:varchar(26)" json:"order_id"`
	ProductID       string          `bun:"product_id,notnull" json:"product_id"`
	ProductName     string          `bun:"product_name,notnull" json:"product_name"`
	PriceAtPurchase decimal.Decimal `bun:"price_at_purchase,type:numeric(12,2),notnull" json:"price_at_purchase"`
	Quantity        int             `bun:"quantity,notnull" json:"quantity"`
	Claimed         int             `bun:"claimed,notnull,default:0" json:"claimed"`
}

// Remaining is the number of units still available to claim.
func (i *OrderItem) Remaining() int {
	return i.Quantity - i.Claimed
}

// CartItem is one line of a client-submitted cart, priced from the catalog snapshot.
type CartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type CreateOrderRequest struct {
	UserID  string          `json:"userId"`
	EventID string          `json:"eventId"`
	Items   []CartItem      `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

// ListFilter narrows the reporting listing of orders.
type ListFilter struct {
	Status  Status
	EventID string
	Limit   int
	Offset  int
}

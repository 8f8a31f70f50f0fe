package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ms-redemption/internal/models"
)

// Publisher sends a keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type Topics struct {
	Created   string
	Paid      string
	Cancelled string
	Claimed   string
}

// OrderEvent is the payload of the lifecycle topics.
type OrderEvent struct {
	Type       string          `json:"type"`
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	EventID    string          `json:"eventId"`
	Status     models.Status   `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Items      []EventItem     `json:"items"`
	OccurredAt time.Time       `json:"occurredAt"`
}

type EventItem struct {
	ItemID    int64  `json:"itemId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Claimed   int    `json:"claimed"`
}

type ClaimEvent struct {
	Type       string              `json:"type"`
	OrderID    string              `json:"orderId"`
	EventID    string              `json:"eventId"`
	Status     models.Status       `json:"status"`
	Items      []models.ClaimCount `json:"items"`
	OccurredAt time.Time           `json:"occurredAt"`
}

// Producer publishes order lifecycle events keyed by order id.
type Producer struct {
	pub    Publisher
	topics Topics
}

func NewProducer(pub Publisher, topics Topics) *Producer {
	return &Producer{pub: pub, topics: topics}
}

func (p *Producer) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, p.topics.Created, "order.created", order)
}

func (p *Producer) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, p.topics.Paid, "order.paid", order)
}

func (p *Producer) PublishOrderCancelled(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, p.topics.Cancelled, "order.cancelled", order)
}

func (p *Producer) PublishOrderClaimed(ctx context.Context, result models.ClaimResult) error {
	return p.send(ctx, p.topics.Claimed, result.OrderID, ClaimEvent{
		Type:       "order.claimed",
		OrderID:    result.OrderID,
		EventID:    result.EventID,
		Status:     result.Status,
		Items:      result.Items,
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Producer) publishOrder(ctx context.Context, topic, eventType string, order *models.Order) error {
	ev := OrderEvent{
		Type:       eventType,
		OrderID:    order.OrderID,
		UserID:     order.UserID,
		EventID:    order.EventID,
		Status:     order.Status,
		Total:      order.Total,
		OccurredAt: time.Now().UTC(),
	}
	for _, it := range order.Items {
		ev.Items = append(ev.Items, EventItem{
			ItemID:    it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Claimed:   it.Claimed,
		})
	}
	return p.send(ctx, topic, order.OrderID, ev)
}

func (p *Producer) send(ctx context.Context, topic, key string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return p.pub.Publish(ctx, topic, key, b)
}

package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ms-redemption/internal/logger"
	"ms-redemption/internal/metrics"
	"ms-redemption/internal/models"
	"ms-redemption/internal/utils"
)

type DBLayer interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error)
	ListOrders(ctx context.Context, filter models.ListFilter) ([]*models.Order, error)
	DeleteOrder(ctx context.Context, id string, statuses ...models.Status) error
}

type KafkaPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
}

type OrderService struct {
	DB      DBLayer
	Kafka   KafkaPublisher
	Log     *logger.Logger
	Metrics *metrics.Metrics

	newID func() (string, error)
	now   func() time.Time
}

func NewOrderService(db DBLayer, kafka KafkaPublisher, log *logger.Logger, m *metrics.Metrics) *OrderService {
	return &OrderService{
		DB:      db,
		Kafka:   kafka,
		Log:     log,
		Metrics: m,
		newID:   utils.GenerateOrderID,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ---------------- ORDERS ----------------

// CreateOrder validates the cart against the submitted total and persists a
// PENDING_PAYMENT order with a snapshot of every line.
func (s *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	if err := validateCart(req); err != nil {
		return nil, err
	}

	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	if len(id) > models.MaxBuyOrderLength {
		return nil, fmt.Errorf("order id %q exceeds %d characters", id, models.MaxBuyOrderLength)
	}

	order := &models.Order{
		OrderID:   id,
		UserID:    req.UserID,
		EventID:   req.EventID,
		Total:     req.Total,
		Status:    models.StatusPendingPayment,
		CreatedAt: s.now(),
	}
	for _, it := range req.Items {
		order.Items = append(order.Items, &models.OrderItem{
			ProductID:       it.ProductID,
			ProductName:     it.Name,
			PriceAtPurchase: it.Price,
			Quantity:        it.Quantity,
		})
	}

	if err := s.DB.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.Log.LogOrder("CREATE", order.OrderID, fmt.Sprintf("user %s event %s total %s", order.UserID, order.EventID, order.Total))
	s.Metrics.OrderCreated()

	if err := s.Kafka.PublishOrderCreated(ctx, order); err != nil {
		s.Log.Warn("KAFKA", fmt.Sprintf("Kafka publish error (order created %s): %v", order.OrderID, err))
	}

	saved, err := s.DB.GetOrder(ctx, order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("reload order %s: %w", order.OrderID, err)
	}
	return saved, nil
}

// moneyScale matches the NUMERIC(12,2) money columns.
const moneyScale = 2

// fitsMoney reports whether d is stored without rounding. Trailing zeros
// such as 1.500 are fine.
func fitsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyScale))
}

func validateCart(req models.CreateOrderRequest) error {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.EventID) == "" {
		return fmt.Errorf("%w: userId and eventId are required", models.ErrValidation)
	}
	if len(req.Items) == 0 {
		return models.ErrEmptyOrder
	}

	sum := decimal.Zero
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: line %d has quantity %d", models.ErrInvalidQuantity, i, it.Quantity)
		}
		if it.ProductID == "" || it.Name == "" {
			return fmt.Errorf("%w: line %d needs productId and name", models.ErrValidation, i)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative price", models.ErrValidation, i)
		}
		if !fitsMoney(it.Price) {
			return fmt.Errorf("%w: line %d price %s has more than %d decimals", models.ErrValidation, i, it.Price, moneyScale)
		}
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	if !fitsMoney(req.Total) {
		return fmt.Errorf("%w: total %s has more than %d decimals", models.ErrValidation, req.Total, moneyScale)
	}
	if !sum.Equal(req.Total) {
		return fmt.Errorf("%w: items add up to %s, total is %s", models.ErrTotalMismatch, sum, req.Total)
	}
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.DB.GetOrder(ctx, id)
}

func (s *OrderService) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.DB.ListOrdersByUser(ctx, userID)
}

func (s *OrderService) ListOrders(ctx context.Context, filter models.ListFilter) ([]*models.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, filter.Status)
	}
	return s.DB.ListOrders(ctx, filter)
}

// DeleteOrder removes an order that never got paid. Paid orders carry claim
// history and stay.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	if err := s.DB.DeleteOrder(ctx, id, models.StatusPendingPayment, models.StatusCancelled); err != nil {
		if errors.Is(err, models.ErrOrderNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("failed to delete order %s: %w", id, err)
	}
	s.Log.LogOrder("DELETE", id, "removed")
	return nil
}

package analytics

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ms-redemption/internal/models"
)

// paidStatuses are the statuses whose orders count as sold.
var paidStatuses = []models.Status{
	models.StatusCompleted,
	models.StatusPartiallyClaimed,
	models.StatusFullyClaimed,
}

type Store interface {
	StatusCounts(ctx context.Context, eventIDs []string) ([]StatusCount, error)
	ProductSales(ctx context.Context, eventIDs []string, statuses []models.Status) ([]ProductSales, error)
}

// Service handles analytics operations
type Service struct {
	db Store
}

func NewService(db Store) *Service {
	return &Service{db: db}
}

// EventSummary is the sales and redemption picture of one or more events.
type EventSummary struct {
	EventIDs       []string        `json:"event_ids"`
	OrdersByStatus []StatusCount   `json:"orders_by_status"`
	Revenue        decimal.Decimal `json:"revenue"`
	UnitsSold      int             `json:"units_sold"`
	UnitsClaimed   int             `json:"units_claimed"`
	RedemptionRate float64         `json:"redemption_rate"`
	Products       []ProductSales  `json:"products"`
}

func (s *Service) GetEventSummary(ctx context.Context, eventID string) (*EventSummary, error) {
	return s.GetBatchSummary(ctx, []string{eventID})
}

// GetBatchSummary aggregates several events into one summary.
func (s *Service) GetBatchSummary(ctx context.Context, eventIDs []string) (*EventSummary, error) {
	ids := dedupe(eventIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one event id is required", models.ErrValidation)
	}

	counts, err := s.db.StatusCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	products, err := s.db.ProductSales(ctx, ids, paidStatuses)
	if err != nil {
		return nil, fmt.Errorf("aggregate product sales: %w", err)
	}

	summary := &EventSummary{
		EventIDs:       ids,
		OrdersByStatus: counts,
		Revenue:        decimal.Zero,
		Products:       products,
	}
	for _, c := range counts {
		if isPaid(c.Status) {
			summary.Revenue = summary.Revenue.Add(c.Amount)
		}
	}
	for _, p := range products {
		summary.UnitsSold += p.UnitsSold
		summary.UnitsClaimed += p.UnitsClaimed
	}
	if summary.UnitsSold > 0 {
		summary.RedemptionRate = float64(summary.UnitsClaimed) / float64(summary.UnitsSold)
	}
	return summary, nil
}

func isPaid(s models.Status) bool {
	for _, p := range paidStatuses {
		if p == s {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

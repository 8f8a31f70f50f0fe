package redemption

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ms-redemption/internal/logger"
	"ms-redemption/internal/metrics"
	"ms-redemption/internal/models"
)

const DefaultMaxRetries = 5

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	IncrementClaim(ctx context.Context, orderID string, itemID int64, amount int) (models.ClaimCount, error)
	SwapClaimStatus(ctx context.Context, id string, expected models.Status, version int64, next models.Status) (bool, error)
}

type EventPublisher interface {
	PublishOrderClaimed(ctx context.Context, result models.ClaimResult) error
}

// CodeResolver maps a scanned redemption code to its order id.
type CodeResolver interface {
	Resolve(code string) (string, error)
}

type Service struct {
	Store      Store
	Events     EventPublisher
	Codes      CodeResolver
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	MaxRetries int
}

// ClaimItems redeems a batch of units against a paid order. The batch is all
// or nothing: one line that would over-claim rolls back every line.
func (s *Service) ClaimItems(ctx context.Context, orderID string, lines []models.ClaimLine) (models.ClaimResult, error) {
	if err := validateBatch(lines); err != nil {
		s.Metrics.ClaimBatch(resultLabel(err), 0)
		return models.ClaimResult{}, err
	}

	var result models.ClaimResult
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		order, err := s.Store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch {
		case order.Status == models.StatusFullyClaimed:
			return models.ErrNothingLeftToClaim
		case !order.Status.Redeemable():
			return fmt.Errorf("%w: order %s is %s", models.ErrOrderNotRedeemable, orderID, order.Status)
		}

		// Item rows are locked in ascending id order so two batches touching
		// the same items cannot deadlock. Counts keep the request order.
		counts := make([]models.ClaimCount, len(lines))
		for _, i := range lockOrder(lines) {
			c, err := s.Store.IncrementClaim(ctx, orderID, lines[i].ItemID, lines[i].Amount)
			if err != nil {
				return err
			}
			counts[i] = c
		}

		status, err := s.recomputeStatus(ctx, orderID)
		if err != nil {
			return err
		}
		result = models.ClaimResult{OrderID: orderID, EventID: order.EventID, Status: status, Items: counts}
		return nil
	})
	if err != nil {
		s.Metrics.ClaimBatch(resultLabel(err), 0)
		s.Log.Warn("CLAIM", fmt.Sprintf("%s - batch rejected: %v", orderID, err))
		return models.ClaimResult{}, err
	}

	units := 0
	for _, l := range lines {
		units += l.Amount
	}
	s.Metrics.ClaimBatch("ok", units)
	s.Log.LogClaim(orderID, fmt.Sprintf("%d units claimed, order is %s", units, result.Status))

	if err := s.Events.PublishOrderClaimed(ctx, result); err != nil {
		s.Log.Warn("KAFKA", fmt.Sprintf("Kafka publish error (order claimed %s): %v", orderID, err))
	}
	return result, nil
}

// recomputeStatus derives the status from the item counters and writes it
// with a compare-and-swap on (status, version), retrying when another batch
// moved the order in between.
func (s *Service) recomputeStatus(ctx context.Context, orderID string) (models.Status, error) {
	for attempt := 0; attempt < s.maxRetries(); attempt++ {
		order, err := s.Store.GetOrder(ctx, orderID)
		if err != nil {
			return "", err
		}
		next := models.DeriveClaimStatus(order.Items)
		if next == order.Status && next == models.StatusFullyClaimed {
			return next, nil
		}

		ok, err := s.Store.SwapClaimStatus(ctx, orderID, order.Status, order.Version, next)
		if err != nil {
			return "", err
		}
		if ok {
			return next, nil
		}
		s.Log.Debug("CLAIM", fmt.Sprintf("%s - status swap conflict, attempt %d", orderID, attempt+1))
	}
	return "", fmt.Errorf("%w: order %s", models.ErrConcurrentUpdateExhausted, orderID)
}

// Lookup resolves a scanned redemption code to its order.
func (s *Service) Lookup(ctx context.Context, code string) (*models.Order, error) {
	orderID, err := s.Codes.Resolve(code)
	if err != nil {
		return nil, err
	}
	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RedemptionCode != code {
		// sealed by us but superseded or never stored
		return nil, models.ErrInvalidRedemptionCode
	}
	return order, nil
}

func (s *Service) maxRetries() int {
	if s.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return s.MaxRetries
}

func validateBatch(lines []models.ClaimLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: claim batch is empty", models.ErrValidation)
	}
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if l.Amount <= 0 {
			return fmt.Errorf("%w: item %d amount %d", models.ErrInvalidQuantity, l.ItemID, l.Amount)
		}
		if seen[l.ItemID] {
			return fmt.Errorf("%w: item %d appears twice", models.ErrValidation, l.ItemID)
		}
		seen[l.ItemID] = true
	}
	return nil
}

// lockOrder returns the indexes of lines sorted by item id.
func lockOrder(lines []models.ClaimLine) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return lines[idx[a]].ItemID < lines[idx[b]].ItemID
	})
	return idx
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrOverClaim):
		return "over_claim"
	case errors.Is(err, models.ErrNothingLeftToClaim):
		return "nothing_left"
	case errors.Is(err, models.ErrOrderNotRedeemable):
		return "not_redeemable"
	case errors.Is(err, models.ErrConcurrentUpdateExhausted):
		return "exhausted"
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, models.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidQuantity):
		return "invalid"
	default:
		return "error"
	}
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-redemption/internal/logger"
	"ms-redemption/internal/metrics"
	"ms-redemption/internal/models"
	"ms-redemption/internal/payment/gateway"
)

// Outcome reasons reported on the failure redirect.
const (
	ReasonNoToken            = "no_token"
	ReasonUserAborted        = "user_aborted"
	ReasonRejected           = "rejected"
	ReasonGatewayUnavailable = "gateway_unavailable"
	ReasonOrderNotFound      = "order_not_found"
	ReasonAlreadyProcessed   = "already_processed"
	ReasonInProgress         = "in_progress"
)

type Store interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentToken(ctx context.Context, token string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id string, expected, next models.Status) (bool, error)
	CompletePayment(ctx context.Context, id, redemptionCode string) (bool, error)
}

// CommitGuard serializes commits of one gateway token across replicas.
type CommitGuard interface {
	Acquire(ctx context.Context, token, owner string) (bool, error)
	Release(ctx context.Context, token, owner string) error
}

type CodeIssuer interface {
	Issue(paymentToken, orderID string) (string, error)
}

type EventPublisher interface {
	PublishOrderPaid(ctx context.Context, order *models.Order) error
	PublishOrderCancelled(ctx context.Context, order *models.Order) error
}

// Reconciler applies gateway return callbacks to orders. Every transition is
// a compare-and-swap out of PENDING_PAYMENT, so replays and duplicates
// become no-ops and side effects run once.
type Reconciler struct {
	Store   Store
	Gateway gateway.Gateway
	Guard   CommitGuard
	Codes   CodeIssuer
	Events  EventPublisher
	Log     *logger.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
}

func (r *Reconciler) HandleReturn(ctx context.Context, cb models.PaymentCallback) (models.PaymentOutcome, error) {
	var (
		out models.PaymentOutcome
		err error
	)
	switch {
	case cb.CommitToken != "":
		out, err = r.commit(ctx, cb.CommitToken)
	case cb.AbortToken != "":
		out, err = r.abort(ctx, cb.OrderID)
	default:
		r.Log.Warn("PAYMENT", "Return callback without token")
		out = models.PaymentOutcome{Reason: ReasonNoToken}
	}

	r.Metrics.PaymentCallback(outcomeLabel(out))
	return out, err
}

func (r *Reconciler) commit(ctx context.Context, token string) (models.PaymentOutcome, error) {
	known, err := r.Store.GetOrderByPaymentToken(ctx, token)
	switch {
	case err == nil && known.Status.PaymentResolved():
		r.Log.LogPayment("DUPLICATE", known.OrderID, "token already committed")
		return duplicate(known), nil
	case err != nil && !errors.Is(err, models.ErrOrderNotFound):
		return models.PaymentOutcome{}, err
	}

	if r.Guard != nil {
		owner := uuid.NewString()
		ok, err := r.Guard.Acquire(ctx, token, owner)
		switch {
		case err != nil:
			r.Log.Warn("REDIS", fmt.Sprintf("Commit guard unavailable, continuing without it: %v", err))
		case !ok:
			out := models.PaymentOutcome{Duplicate: true, Reason: ReasonInProgress}
			if known != nil {
				out.OrderID, out.Status = known.OrderID, known.Status
			}
			return out, nil
		default:
			defer func() {
				if err := r.Guard.Release(context.WithoutCancel(ctx), token, owner); err != nil {
					r.Log.Warn("REDIS", err.Error())
				}
			}()
		}
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout())
	res, err := r.Gateway.CommitPayment(gctx, token)
	cancel()
	if err != nil {
		r.Log.Error("PAYMENT", fmt.Sprintf("Commit failed, order stays pending: %v", err))
		out := models.PaymentOutcome{Reason: ReasonGatewayUnavailable}
		if known != nil {
			out.OrderID, out.Status = known.OrderID, known.Status
		}
		return out, err
	}

	order, err := r.Store.GetOrder(ctx, res.SettledOrderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		r.Log.Warn("PAYMENT", fmt.Sprintf("Gateway settled unknown order %q, acknowledging", res.SettledOrderID))
		return models.PaymentOutcome{OrderID: res.SettledOrderID, Reason: ReasonOrderNotFound}, nil
	}
	if err != nil {
		return models.PaymentOutcome{}, err
	}
	if order.Status.PaymentResolved() {
		return duplicate(order), nil
	}

	if res.Approved() {
		return r.complete(ctx, order, token)
	}
	r.Log.LogPayment("REJECTED", order.OrderID, fmt.Sprintf("authorized=%t code=%d", res.Authorized, res.ResponseCode))
	return r.cancel(ctx, order, ReasonRejected)
}

func (r *Reconciler) complete(ctx context.Context, order *models.Order, token string) (models.PaymentOutcome, error) {
	code, err := r.Codes.Issue(token, order.OrderID)
	if err != nil {
		return models.PaymentOutcome{}, fmt.Errorf("issue redemption code: %w", err)
	}

	ok, err := r.Store.CompletePayment(ctx, order.OrderID, code)
	if err != nil {
		return models.PaymentOutcome{}, err
	}
	if !ok {
		return r.reload(ctx, order.OrderID)
	}

	order.Status = models.StatusCompleted
	order.RedemptionCode = code
	r.Log.LogPayment("COMPLETED", order.OrderID, "payment authorized")
	if err := r.Events.PublishOrderPaid(ctx, order); err != nil {
		r.Log.Warn("KAFKA", fmt.Sprintf("Kafka publish error (order paid %s): %v", order.OrderID, err))
	}
	return models.PaymentOutcome{OrderID: order.OrderID, Status: models.StatusCompleted}, nil
}

func (r *Reconciler) cancel(ctx context.Context, order *models.Order, reason string) (models.PaymentOutcome, error) {
	ok, err := r.Store.UpdateStatus(ctx, order.OrderID, models.StatusPendingPayment, models.StatusCancelled)
	if err != nil {
		return models.PaymentOutcome{}, err
	}
	if !ok {
		return r.reload(ctx, order.OrderID)
	}

	order.Status = models.StatusCancelled
	r.Log.LogPayment("CANCELLED", order.OrderID, reason)
	if err := r.Events.PublishOrderCancelled(ctx, order); err != nil {
		r.Log.Warn("KAFKA", fmt.Sprintf("Kafka publish error (order cancelled %s): %v", order.OrderID, err))
	}
	return models.PaymentOutcome{OrderID: order.OrderID, Status: models.StatusCancelled, Reason: reason}, nil
}

// abort handles the buyer leaving the gateway page. There is nothing to
// commit, so the order is cancelled without calling the gateway.
func (r *Reconciler) abort(ctx context.Context, orderID string) (models.PaymentOutcome, error) {
	if orderID == "" {
		return models.PaymentOutcome{Reason: ReasonUserAborted}, nil
	}

	order, err := r.Store.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		r.Log.Warn("PAYMENT", fmt.Sprintf("Abort for unknown order %q, acknowledging", orderID))
		return models.PaymentOutcome{OrderID: orderID, Reason: ReasonOrderNotFound}, nil
	}
	if err != nil {
		return models.PaymentOutcome{}, err
	}
	if order.Status.PaymentResolved() {
		return duplicate(order), nil
	}
	return r.cancel(ctx, order, ReasonUserAborted)
}

// reload reports the state left by whoever won the compare-and-swap.
func (r *Reconciler) reload(ctx context.Context, orderID string) (models.PaymentOutcome, error) {
	order, err := r.Store.GetOrder(ctx, orderID)
	if err != nil {
		return models.PaymentOutcome{}, err
	}
	r.Log.LogPayment("DUPLICATE", orderID, fmt.Sprintf("lost race, order is %s", order.Status))
	return duplicate(order), nil
}

func (r *Reconciler) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 10 * time.Second
	}
	return r.Timeout
}

func duplicate(order *models.Order) models.PaymentOutcome {
	return models.PaymentOutcome{
		OrderID:   order.OrderID,
		Status:    order.Status,
		Duplicate: true,
		Reason:    ReasonAlreadyProcessed,
	}
}

func outcomeLabel(out models.PaymentOutcome) string {
	switch {
	case out.Duplicate:
		return "duplicate"
	case out.Status == models.StatusCompleted:
		return "completed"
	case out.Status == models.StatusCancelled:
		return "cancelled"
	case out.Reason != "":
		return out.Reason
	default:
		return "unknown"
	}
}

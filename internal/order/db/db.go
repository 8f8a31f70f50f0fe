package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-redemption/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DB is the order store. Every method runs inside the transaction carried by
// ctx when there is one.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

type txKey struct{}

// WithTx runs fn inside a transaction. Nested calls join the outer one.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}

	tx, err := d.Bun.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return conflictErr("commit", err)
	}
	return nil
}

func (d *DB) idb(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return d.Bun
}

// ---------------- ORDERS ----------------

// CreateOrder inserts the order and its items atomically.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	if len(order.Items) == 0 {
		return models.ErrEmptyOrder
	}

	return d.WithTx(ctx, func(ctx context.Context) error {
		if _, err := d.idb(ctx).NewInsert().Model(order).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", models.ErrDuplicateID, order.OrderID)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, it := range order.Items {
			it.OrderID = order.OrderID
		}
		if _, err := d.idb(ctx).NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

// GetOrder loads an order with its items in id order.
func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return d.getOrderWhere(ctx, "order_id = ?", id)
}

func (d *DB) GetOrderByPaymentToken(ctx context.Context, token string) (*models.Order, error) {
	if token == "" {
		return nil, models.ErrOrderNotFound
	}
	return d.getOrderWhere(ctx, "payment_token = ?", token)
}

func (d *DB) getOrderWhere(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	order := new(models.Order)
	err := d.idb(ctx).NewSelect().
		Model(order).
		Relation("Items", orderItemsByID).
		Where(query, arg).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

// ListOrdersByUser returns the user's orders, newest first.
func (d *DB) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.idb(ctx).NewSelect().
		Model(&orders).
		Relation("Items", orderItemsByID).
		Where("user_id = ?", userID).
		Order("created_at DESC", "order_id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders by user: %w", err)
	}
	return orders, nil
}

// ListOrders is the reporting listing.
func (d *DB) ListOrders(ctx context.Context, filter models.ListFilter) ([]*models.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var orders []*models.Order
	q := d.idb(ctx).NewSelect().
		Model(&orders).
		Relation("Items", orderItemsByID).
		Order("created_at DESC", "order_id DESC").
		Limit(limit).
		Offset(filter.Offset)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.EventID != "" {
		q = q.Where("event_id = ?", filter.EventID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves the order to next only if it is still in expected.
// A false result with a nil error means another writer got there first.
func (d *DB) UpdateStatus(ctx context.Context, id string, expected, next models.Status) (bool, error) {
	if next == models.StatusCompleted || !models.CanTransition(expected, next) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, expected, next)
	}

	res, err := d.idb(ctx).NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", next).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", id).
		Where("status = ?", expected).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return d.swapped(ctx, res, id)
}

// CompletePayment settles a pending order and stores its redemption code in
// the same conditional write.
func (d *DB) CompletePayment(ctx context.Context, id, redemptionCode string) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.StatusCompleted).
		Set("redemption_code = ?", redemptionCode).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", id).
		Where("status = ?", models.StatusPendingPayment).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	return d.swapped(ctx, res, id)
}

// SetPaymentToken records the gateway token of a pending order.
func (d *DB) SetPaymentToken(ctx context.Context, id, token string) (bool, error) {
	res, err := d.idb(ctx).NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_token = ?", token).
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", id).
		Where("status = ?", models.StatusPendingPayment).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: payment token already in use", models.ErrDuplicateID)
		}
		return false, fmt.Errorf("set payment token: %w", err)
	}
	return d.swapped(ctx, res, id)
}

// SwapClaimStatus is the compare-and-swap used after claims. It matches both
// status and version and always bumps the version, so two batches that derive
// the same status still serialize.
func (d *DB) SwapClaimStatus(ctx context.Context, id string, expected models.Status, version int64, next models.Status) (bool, error) {
	if !models.CanTransition(expected, next) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, expected, next)
	}

	res, err := d.idb(ctx).NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", next).
		Set("version = version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", id).
		Where("status = ?", expected).
		Where("version = ?", version).
		Exec(ctx)
	if err != nil {
		return false, conflictErr("swap claim status", err)
	}
	return d.swapped(ctx, res, id)
}

func (d *DB) swapped(ctx context.Context, res sql.Result, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := d.idb(ctx).NewSelect().Model((*models.Order)(nil)).Where("order_id = ?", id).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return false, models.ErrOrderNotFound
	}
	return false, nil
}

// DeleteOrder removes the order and its items. When statuses are given the
// order is only deleted while in one of them, otherwise ErrInvalidTransition.
func (d *DB) DeleteOrder(ctx context.Context, id string, statuses ...models.Status) error {
	return d.WithTx(ctx, func(ctx context.Context) error {
		q := d.idb(ctx).NewDelete().
			Model((*models.Order)(nil)).
			Where("order_id = ?", id)
		if len(statuses) > 0 {
			q = q.Where("status IN (?)", bun.In(statuses))
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		if _, err := d.swapped(ctx, res, id); err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: order %s is not deletable", models.ErrInvalidTransition, id)
		}

		if _, err := d.idb(ctx).NewDelete().
			Model((*models.OrderItem)(nil)).
			Where("order_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		return nil
	})
}

// ---------------- CLAIMS ----------------

// IncrementClaim adds amount to an item's claimed counter in a single
// conditional update. It never clamps: an increment that would pass the
// purchased quantity fails with ErrOverClaim and changes nothing.
func (d *DB) IncrementClaim(ctx context.Context, orderID string, itemID int64, amount int) (models.ClaimCount, error) {
	if amount <= 0 {
		return models.ClaimCount{}, models.ErrInvalidQuantity
	}

	res, err := d.idb(ctx).NewUpdate().
		Model((*models.OrderItem)(nil)).
		Set("claimed = claimed + ?", amount).
		Where("id = ?", itemID).
		Where("order_id = ?", orderID).
		Where("claimed + ? <= quantity", amount).
		Exec(ctx)
	if err != nil {
		return models.ClaimCount{}, conflictErr("increment claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.ClaimCount{}, fmt.Errorf("rows affected: %w", err)
	}

	item := new(models.OrderItem)
	err = d.idb(ctx).NewSelect().
		Model(item).
		Where("id = ?", itemID).
		Where("order_id = ?", orderID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ClaimCount{}, fmt.Errorf("%w: item %d", models.ErrItemNotFound, itemID)
	}
	if err != nil {
		return models.ClaimCount{}, fmt.Errorf("select order item: %w", err)
	}
	if n == 0 {
		return models.ClaimCount{}, fmt.Errorf("%w: item %d has %d of %d left, asked for %d",
			models.ErrOverClaim, itemID, item.Remaining(), item.Quantity, amount)
	}

	return models.ClaimCount{ItemID: item.ID, Claimed: item.Claimed, Quantity: item.Quantity}, nil
}

func orderItemsByID(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("id ASC")
}

// conflictErr wraps err, mapping PostgreSQL deadlock and serialization
// failures to ErrConcurrentUpdateExhausted so callers see a retryable conflict.
func conflictErr(op string, err error) error {
	if isConcurrencyFailure(err) {
		return fmt.Errorf("%w: %s: %v", models.ErrConcurrentUpdateExhausted, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConcurrencyFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40P01", "40001":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package db_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-redemption/internal/models"
	"ms-redemption/internal/order/db"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, db.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })

	return db.New(bunDB)
}

func newOrder(id string, quantities ...int) *models.Order {
	o := &models.Order{
		OrderID:   id,
		UserID:    "user-1",
		EventID:   "event-1",
		Status:    models.StatusPendingPayment,
		CreatedAt: time.Now().UTC(),
	}
	total := decimal.Zero
	for i, q := range quantities {
		price := decimal.NewFromInt(int64(1000 * (i + 1)))
		o.Items = append(o.Items, &models.OrderItem{
			ProductID:       "prod-" + string(rune('a'+i)),
			ProductName:     "Product",
			PriceAtPurchase: price,
			Quantity:        q,
		})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(q))))
	}
	o.Total = total
	return o
}

func seedPaidOrder(t *testing.T, store *db.DB, id string, quantities ...int) *models.Order {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateOrder(ctx, newOrder(id, quantities...)))
	ok, err := store.CompletePayment(ctx, id, "code-"+id)
	require.NoError(t, err)
	require.True(t, ok)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	return o
}

func TestCreateAndGetOrder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrder(ctx, newOrder("01HZX0000000000000000000A1", 2, 3)))

	got, err := store.GetOrder(ctx, "01HZX0000000000000000000A1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPayment, got.Status)
	assert.True(t, decimal.NewFromInt(8000).Equal(got.Total), "total %s", got.Total)
	require.Len(t, got.Items, 2)
	assert.Less(t, got.Items[0].ID, got.Items[1].ID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, 0, got.Items[0].Claimed)
	assert.Equal(t, "01HZX0000000000000000000A1", got.Items[1].OrderID)

	_, err = store.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestCreateOrderRejectsDuplicateAndEmpty(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrder(ctx, newOrder("dup", 1)))
	err := store.CreateOrder(ctx, newOrder("dup", 4))
	assert.ErrorIs(t, err, models.ErrDuplicateID)

	got, err := store.GetOrder(ctx, "dup")
	require.NoError(t, err)
	require.Len(t, got.Items, 1, "failed insert must not leave items behind")

	err = store.CreateOrder(ctx, &models.Order{OrderID: "empty", Status: models.StatusPendingPayment})
	assert.ErrorIs(t, err, models.ErrEmptyOrder)
	_, err = store.GetOrder(ctx, "empty")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestUpdateStatusCompareAndSwap(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, newOrder("o1", 1)))

	ok, err := store.UpdateStatus(ctx, "o1", models.StatusPendingPayment, models.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	// second writer loses and nothing changes
	ok, err = store.UpdateStatus(ctx, "o1", models.StatusPendingPayment, models.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, int64(1), got.Version)

	_, err = store.UpdateStatus(ctx, "o1", models.StatusCancelled, models.StatusCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = store.UpdateStatus(ctx, "o1", models.StatusPendingPayment, models.StatusCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "completion goes through CompletePayment")

	_, err = store.UpdateStatus(ctx, "nope", models.StatusPendingPayment, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestCompletePaymentOnlyOnce(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, newOrder("o2", 1)))

	ok, err := store.CompletePayment(ctx, "o2", "first")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompletePayment(ctx, "o2", "second")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetOrder(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "first", got.RedemptionCode)
}

func TestPaymentToken(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, newOrder("o3", 1)))
	require.NoError(t, store.CreateOrder(ctx, newOrder("o4", 1)))

	ok, err := store.SetPaymentToken(ctx, "o3", "tok-3")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetOrderByPaymentToken(ctx, "tok-3")
	require.NoError(t, err)
	assert.Equal(t, "o3", got.OrderID)

	_, err = store.SetPaymentToken(ctx, "o4", "tok-3")
	assert.ErrorIs(t, err, models.ErrDuplicateID)

	_, err = store.GetOrderByPaymentToken(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	_, err = store.GetOrderByPaymentToken(ctx, "")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	_, err = store.UpdateStatus(ctx, "o4", models.StatusPendingPayment, models.StatusCancelled)
	require.NoError(t, err)
	ok, err = store.SetPaymentToken(ctx, "o4", "tok-4")
	require.NoError(t, err)
	assert.False(t, ok, "resolved orders keep their token")
}

func TestIncrementClaim(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	o := seedPaidOrder(t, store, "o5", 3)
	itemID := o.Items[0].ID

	c, err := store.IncrementClaim(ctx, "o5", itemID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimCount{ItemID: itemID, Claimed: 2, Quantity: 3}, c)

	_, err = store.IncrementClaim(ctx, "o5", itemID, 2)
	assert.ErrorIs(t, err, models.ErrOverClaim)

	c, err = store.IncrementClaim(ctx, "o5", itemID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Claimed)

	_, err = store.IncrementClaim(ctx, "o5", itemID, 1)
	assert.ErrorIs(t, err, models.ErrOverClaim)

	_, err = store.IncrementClaim(ctx, "o5", 9999, 1)
	assert.ErrorIs(t, err, models.ErrItemNotFound)

	_, err = store.IncrementClaim(ctx, "other-order", itemID, 1)
	assert.ErrorIs(t, err, models.ErrItemNotFound, "item must belong to the order")

	_, err = store.IncrementClaim(ctx, "o5", itemID, 0)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	got, err := store.GetOrder(ctx, "o5")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Items[0].Claimed)
}

func TestIncrementClaimConcurrent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	o := seedPaidOrder(t, store, "o6", 5)
	itemID := o.Items[0].ID

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		overflow int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementClaim(ctx, "o6", itemID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, models.ErrOverClaim):
				overflow++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, success)
	assert.Equal(t, 7, overflow)

	got, err := store.GetOrder(ctx, "o6")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Items[0].Claimed)
}

func TestSwapClaimStatusChecksVersion(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	o := seedPaidOrder(t, store, "o7", 2)

	ok, err := store.SwapClaimStatus(ctx, "o7", models.StatusCompleted, o.Version, models.StatusPartiallyClaimed)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale version loses even though the status matches
	ok, err = store.SwapClaimStatus(ctx, "o7", models.StatusPartiallyClaimed, o.Version, models.StatusPartiallyClaimed)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.SwapClaimStatus(ctx, "o7", models.StatusPartiallyClaimed, o.Version+1, models.StatusPartiallyClaimed)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetOrder(ctx, "o7")
	require.NoError(t, err)
	assert.Equal(t, o.Version+2, got.Version)

	_, err = store.SwapClaimStatus(ctx, "o7", models.StatusPartiallyClaimed, got.Version, models.StatusCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestWithTxRollsBack(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	o := seedPaidOrder(t, store, "o8", 2, 1)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := store.IncrementClaim(ctx, "o8", o.Items[0].ID, 2); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return store.WithTx(ctx, func(ctx context.Context) error {
			if _, err := store.IncrementClaim(ctx, "o8", o.Items[1].ID, 1); err != nil {
				return err
			}
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetOrder(ctx, "o8")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Items[0].Claimed)
	assert.Equal(t, 0, got.Items[1].Claimed)
}

func TestListOrders(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"l1", "l2", "l3"} {
		o := newOrder(id, 1)
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if id == "l3" {
			o.UserID = "user-2"
			o.EventID = "event-2"
		}
		require.NoError(t, store.CreateOrder(ctx, o))
	}
	_, err := store.CompletePayment(ctx, "l2", "c")
	require.NoError(t, err)

	mine, err := store.ListOrdersByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "l2", mine[0].OrderID)
	assert.Equal(t, "l1", mine[1].OrderID)
	assert.Len(t, mine[0].Items, 1)

	paid, err := store.ListOrders(ctx, models.ListFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "l2", paid[0].OrderID)

	byEvent, err := store.ListOrders(ctx, models.ListFilter{EventID: "event-2"})
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, "l3", byEvent[0].OrderID)

	page, err := store.ListOrders(ctx, models.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "l2", page[0].OrderID)
}

func TestDeleteOrder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, newOrder("d1", 1, 2)))
	seedPaidOrder(t, store, "d2", 1)

	require.NoError(t, store.DeleteOrder(ctx, "d1", models.StatusPendingPayment, models.StatusCancelled))
	_, err := store.GetOrder(ctx, "d1")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	var items int
	items, err = store.Bun.NewSelect().Model((*models.OrderItem)(nil)).Where("order_id = ?", "d1").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, items)

	assert.ErrorIs(t, store.DeleteOrder(ctx, "d1"), models.ErrOrderNotFound)

	err = store.DeleteOrder(ctx, "d2", models.StatusPendingPayment, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = store.GetOrder(ctx, "d2")
	assert.NoError(t, err, "paid order must survive")
}

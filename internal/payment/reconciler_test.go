package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-redemption/internal/database"
	"ms-redemption/internal/logger"
	"ms-redemption/internal/models"
	"ms-redemption/internal/order/db"
	"ms-redemption/internal/payment"
	paymentredis "ms-redemption/internal/payment/redis"
	"ms-redemption/internal/redemption/qr"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) BeginPayment(ctx context.Context, req models.BeginRequest) (models.BeginResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.BeginResponse), args.Error(1)
}

func (m *MockGateway) CommitPayment(ctx context.Context, token string) (models.CommitResult, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(models.CommitResult), args.Error(1)
}

type recordedEvents struct {
	mu        sync.Mutex
	paid      []string
	cancelled []string
}

func (e *recordedEvents) PublishOrderPaid(_ context.Context, o *models.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paid = append(e.paid, o.OrderID)
	return nil
}

func (e *recordedEvents) PublishOrderCancelled(_ context.Context, o *models.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, o.OrderID)
	return nil
}

type fixture struct {
	store   *db.DB
	gw      *MockGateway
	events  *recordedEvents
	codes   *qr.Generator
	rec     *payment.Reconciler
	redis   *miniredis.Miniredis
	lock    *paymentredis.CommitLock
	orderID string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	bunDB, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.CreateSchema(ctx, bunDB))
	t.Cleanup(func() { bunDB.Close() })
	store := db.New(bunDB)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	lock := paymentredis.NewCommitLock(client, 5*time.Second)

	codes, err := qr.NewGenerator("test-secret")
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		gw:      new(MockGateway),
		events:  &recordedEvents{},
		codes:   codes,
		redis:   mr,
		lock:    lock,
		orderID: "01HZY00000000000000000000A",
	}
	f.rec = &payment.Reconciler{
		Store:   store,
		Gateway: f.gw,
		Guard:   lock,
		Codes:   codes,
		Events:  f.events,
		Log:     logger.NewNop(),
		Timeout: time.Second,
	}

	require.NoError(t, store.CreateOrder(ctx, &models.Order{
		OrderID:   f.orderID,
		UserID:    "u1",
		EventID:   "e1",
		Total:     decimal.NewFromInt(3000),
		Status:    models.StatusPendingPayment,
		CreatedAt: time.Now().UTC(),
		Items: []*models.OrderItem{{
			ProductID: "p1", ProductName: "Beer", PriceAtPurchase: decimal.NewFromInt(1000), Quantity: 3,
		}},
	}))
	ok, err := store.SetPaymentToken(ctx, f.orderID, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	return f
}

func (f *fixture) order(t *testing.T) *models.Order {
	o, err := f.store.GetOrder(context.Background(), f.orderID)
	require.NoError(t, err)
	return o
}

func TestAuthorizedCommitCompletesOrder(t *testing.T) {
	f := setup(t)
	f.gw.On("CommitPayment", mock.Anything, "tok-1").
		Return(models.CommitResult{Authorized: true, ResponseCode: 0, SettledOrderID: f.orderID, Amount: 3000}, nil)

	out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.False(t, out.Duplicate)
	assert.True(t, out.Succeeded())

	o := f.order(t)
	assert.Equal(t, models.StatusCompleted, o.Status)
	require.NotEmpty(t, o.RedemptionCode)
	resolved, err := f.codes.Resolve(o.RedemptionCode)
	require.NoError(t, err)
	assert.Equal(t, f.orderID, resolved)
	assert.Equal(t, []string{f.orderID}, f.events.paid)
	assert.False(t, f.redis.Exists("payment_commit:tok-1"), "guard released")
}

func TestDuplicateCommitIsNoop(t *testing.T) {
	f := setup(t)
	f.gw.On("CommitPayment", mock.Anything, "tok-1").
		Return(models.CommitResult{Authorized: true, SettledOrderID: f.orderID}, nil).Once()

	_, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
	require.NoError(t, err)
	code := f.order(t).RedemptionCode

	out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Equal(t, code, f.order(t).RedemptionCode, "code must not be reissued")
	assert.Len(t, f.events.paid, 1)
	f.gw.AssertNumberOfCalls(t, "CommitPayment", 1)
}

func TestRejectedCommitCancels(t *testing.T) {
	tests := []struct {
		name   string
		result models.CommitResult
	}{
		{"not authorized", models.CommitResult{Authorized: false, ResponseCode: -1}},
		{"authorized with nonzero code", models.CommitResult{Authorized: true, ResponseCode: -4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			tt.result.SettledOrderID = f.orderID
			f.gw.On("CommitPayment", mock.Anything, "tok-1").Return(tt.result, nil)

			out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
			require.NoError(t, err)
			assert.Equal(t, models.StatusCancelled, out.Status)
			assert.Equal(t, payment.ReasonRejected, out.Reason)
			assert.False(t, out.Succeeded())

			o := f.order(t)
			assert.Equal(t, models.StatusCancelled, o.Status)
			assert.Empty(t, o.RedemptionCode)
			assert.Equal(t, []string{f.orderID}, f.events.cancelled)
		})
	}
}

func TestGatewayUnavailableLeavesOrderPending(t *testing.T) {
	f := setup(t)
	f.gw.On("CommitPayment", mock.Anything, "tok-1").
		Return(models.CommitResult{}, models.ErrGatewayUnavailable)

	out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
	assert.ErrorIs(t, err, models.ErrGatewayUnavailable)
	assert.Equal(t, payment.ReasonGatewayUnavailable, out.Reason)
	assert.Equal(t, f.orderID, out.OrderID)
	assert.Equal(t, models.StatusPendingPayment, f.order(t).Status)
	assert.False(t, f.redis.Exists("payment_commit:tok-1"))
}

func TestUnknownSettledOrderIsAcknowledged(t *testing.T) {
	f := setup(t)
	f.gw.On("CommitPayment", mock.Anything, "tok-x").
		Return(models.CommitResult{Authorized: true, SettledOrderID: "ghost"}, nil)

	out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-x"})
	require.NoError(t, err)
	assert.Equal(t, payment.ReasonOrderNotFound, out.Reason)
	assert.Equal(t, "ghost", out.OrderID)
	assert.Equal(t, models.StatusPendingPayment, f.order(t).Status)
}

func TestCommitInProgressElsewhere(t *testing.T) {
	f := setup(t)
	ok, err := f.lock.Acquire(context.Background(), "tok-1", "other-replica")
	require.NoError(t, err)
	require.True(t, ok)

	out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, payment.ReasonInProgress, out.Reason)
	f.gw.AssertNotCalled(t, "CommitPayment", mock.Anything, mock.Anything)
}

func TestRedisDownStillCommits(t *testing.T) {
	f := setup(t)
	f.redis.Close()
	f.gw.On("CommitPayment", mock.Anything, "tok-1").
		Return(models.CommitResult{Authorized: true, SettledOrderID: f.orderID}, nil)

	out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Status)
}

func TestConcurrentCallbacksCompleteOnce(t *testing.T) {
	f := setup(t)
	f.rec.Guard = nil
	f.gw.On("CommitPayment", mock.Anything, "tok-1").
		Return(models.CommitResult{Authorized: true, SettledOrderID: f.orderID}, nil)

	var wg sync.WaitGroup
	outs := make([]models.PaymentOutcome, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{CommitToken: "tok-1"})
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, out := range outs {
		assert.Equal(t, models.StatusCompleted, out.Status)
		if !out.Duplicate {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, f.events.paid, 1)
}

func TestAbortCallback(t *testing.T) {
	t.Run("with order id", func(t *testing.T) {
		f := setup(t)
		out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{AbortToken: "tbk", OrderID: f.orderID})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, out.Status)
		assert.Equal(t, payment.ReasonUserAborted, out.Reason)
		assert.Equal(t, models.StatusCancelled, f.order(t).Status)
		f.gw.AssertNotCalled(t, "CommitPayment", mock.Anything, mock.Anything)
	})

	t.Run("without order id", func(t *testing.T) {
		f := setup(t)
		out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{AbortToken: "tbk"})
		require.NoError(t, err)
		assert.Equal(t, payment.ReasonUserAborted, out.Reason)
		assert.Equal(t, models.StatusPendingPayment, f.order(t).Status)
	})

	t.Run("after completion", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.CompletePayment(context.Background(), f.orderID, "code")
		require.NoError(t, err)

		out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{AbortToken: "tbk", OrderID: f.orderID})
		require.NoError(t, err)
		assert.True(t, out.Duplicate)
		assert.Equal(t, models.StatusCompleted, f.order(t).Status, "terminal state is never overwritten")
	})
}

func TestNoTokenRejected(t *testing.T) {
	f := setup(t)
	out, err := f.rec.HandleReturn(context.Background(), models.PaymentCallback{})
	require.NoError(t, err)
	assert.Equal(t, payment.ReasonNoToken, out.Reason)
	assert.Empty(t, out.OrderID)
}

package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-redemption/internal/models"
)

func TestActivityFeedDelivers(t *testing.T) {
	f := NewActivityFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fest := f.Subscribe(ctx, "fest")
	other := f.Subscribe(ctx, "other")
	assert.Equal(t, 1, f.ClientCount("fest"))

	require.NoError(t, f.PublishOrderClaimed(ctx, models.ClaimResult{
		OrderID: "o1", EventID: "fest", Status: models.StatusPartiallyClaimed,
		Items: []models.ClaimCount{{ItemID: 1, Claimed: 1, Quantity: 2}},
	}))

	select {
	case a := <-fest:
		assert.Equal(t, "order.claimed", a.Type)
		assert.Equal(t, "o1", a.OrderID)
		assert.False(t, a.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no activity delivered")
	}

	select {
	case a := <-other:
		t.Fatalf("unexpected activity for other event: %+v", a)
	default:
	}
}

func TestActivityFeedDropsWhenFull(t *testing.T) {
	f := NewActivityFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.Subscribe(ctx, "fest")

	for i := 0; i < clientBuffer*2; i++ {
		f.Emit(Activity{Type: "order.paid", EventID: "fest"})
	}
	assert.Len(t, ch, clientBuffer)
}

func TestActivityFeedUnsubscribesOnCancel(t *testing.T) {
	f := NewActivityFeed()
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.Subscribe(ctx, "fest")

	cancel()
	assert.Eventually(t, func() bool { return f.ClientCount("fest") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)

	// emitting after the last client left must not panic
	f.Emit(Activity{Type: "order.paid", EventID: "fest"})
}

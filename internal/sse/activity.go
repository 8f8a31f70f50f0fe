package sse

import (
	"context"
	"sync"
	"time"

	"ms-redemption/internal/models"
)

const clientBuffer = 16

// Activity is one change worth showing on a live event dashboard.
type Activity struct {
	Type    string              `json:"type"`
	EventID string              `json:"eventId"`
	OrderID string              `json:"orderId"`
	Status  models.Status       `json:"status"`
	Items   []models.ClaimCount `json:"items,omitempty"`
	At      time.Time           `json:"at"`
}

// ActivityFeed fans order activity out to the clients watching an event.
// Slow clients miss messages instead of blocking the emitter.
type ActivityFeed struct {
	mu      sync.RWMutex
	clients map[string][]chan Activity
	now     func() time.Time
}

func NewActivityFeed() *ActivityFeed {
	return &ActivityFeed{
		clients: make(map[string][]chan Activity),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a client for eventID. The channel is closed once ctx is done.
func (f *ActivityFeed) Subscribe(ctx context.Context, eventID string) <-chan Activity {
	ch := make(chan Activity, clientBuffer)

	f.mu.Lock()
	f.clients[eventID] = append(f.clients[eventID], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.remove(eventID, ch)
	}()
	return ch
}

func (f *ActivityFeed) Emit(a Activity) {
	if a.At.IsZero() {
		a.At = f.now()
	}
	// sends happen under the read lock so remove cannot close a channel mid-send
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.clients[a.EventID] {
		select {
		case ch <- a:
		default:
		}
	}
}

func (f *ActivityFeed) remove(eventID string, ch chan Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()

	clients := f.clients[eventID]
	for i, c := range clients {
		if c == ch {
			f.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(f.clients[eventID]) == 0 {
		delete(f.clients, eventID)
	}
}

// ClientCount returns the number of clients watching eventID.
func (f *ActivityFeed) ClientCount(eventID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients[eventID])
}

func (f *ActivityFeed) PublishOrderCreated(_ context.Context, o *models.Order) error {
	f.emitOrder("order.created", o)
	return nil
}

func (f *ActivityFeed) PublishOrderPaid(_ context.Context, o *models.Order) error {
	f.emitOrder("order.paid", o)
	return nil
}

func (f *ActivityFeed) PublishOrderCancelled(_ context.Context, o *models.Order) error {
	f.emitOrder("order.cancelled", o)
	return nil
}

func (f *ActivityFeed) PublishOrderClaimed(_ context.Context, r models.ClaimResult) error {
	f.Emit(Activity{Type: "order.claimed", EventID: r.EventID, OrderID: r.OrderID, Status: r.Status, Items: r.Items})
	return nil
}

func (f *ActivityFeed) emitOrder(kind string, o *models.Order) {
	f.Emit(Activity{Type: kind, EventID: o.EventID, OrderID: o.OrderID, Status: o.Status})
}

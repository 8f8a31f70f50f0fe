package utils

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateOrderID returns a 26 character ULID. Ids sort by creation time,
// which keeps the orders primary key index append-mostly.
func GenerateOrderID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return id.String(), nil
}

// GenerateSessionID creates the per-attempt payment session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}

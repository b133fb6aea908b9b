package clock

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// IDGen issues identifiers.
type IDGen interface {
	NewID() uuid.UUID
}

// UUIDv7 issues time-ordered UUIDs so ids sort roughly by creation.
type UUIDv7 struct{}

func (UUIDv7) NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// BookingCode returns "CH" followed by the last six digits of the unix time
// and five random characters from [A-Z0-9].
func BookingCode(now time.Time) (string, error) {
	const op = "clock.BookingCode"

	suffix := make([]byte, 5)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}

	return fmt.Sprintf("CH%06d%s", now.Unix()%1_000_000, suffix), nil
}

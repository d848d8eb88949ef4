package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"studentportal/backend/internal/metrics"
)

const DefaultBcryptCost = 10

// PasswordHasher wraps bcrypt. At most concurrency hash or check calls
// run at once; the rest wait for a slot or for their context to end.
type PasswordHasher struct {
	cost      int
	slots     *semaphore.Weighted
	dummyHash []byte
}

func NewPasswordHasher(cost, concurrency int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(seed)), cost)
	if err != nil {
		return nil, err
	}

	return &PasswordHasher{
		cost:      cost,
		slots:     semaphore.NewWeighted(int64(concurrency)),
		dummyHash: dummy,
	}, nil
}

func (h *PasswordHasher) Hash(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.slots.Release(1)
	defer func() {
		metrics.PasswordHashDuration.WithLabelValues("hash").Observe(time.Since(start).Seconds())
	}()

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Check reports whether raw matches hash. An empty hash is compared
// against a random dummy hash of the same cost and never matches.
func (h *PasswordHasher) Check(ctx context.Context, hash, raw string) (bool, error) {
	start := time.Now()
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.slots.Release(1)
	defer func() {
		metrics.PasswordHashDuration.WithLabelValues("check").Observe(time.Since(start).Seconds())
	}()

	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(raw))
		return false, nil
	}

	// A malformed stored hash counts as a mismatch.
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil, nil
}

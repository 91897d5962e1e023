package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHasher hashes and verifies passwords with a deliberately slow
// algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(ctx context.Context, hashedPassword, password string) error
}

// BcryptPasswordHasher implements PasswordHasher using bcrypt. Verification
// is gated by a weighted semaphore so the CPU-bound hash comparisons cannot
// starve request dispatch under load.
type BcryptPasswordHasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewBcryptPasswordHasher creates a hasher with the given cost and at most
// workers concurrent verifications. Defaults apply for non-positive values.
func NewBcryptPasswordHasher(cost, workers int) *BcryptPasswordHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if workers <= 0 {
		workers = 8
	}
	return &BcryptPasswordHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(workers)),
	}
}

// Hash generates a bcrypt hash for the given password.
func (h *BcryptPasswordHasher) Hash(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash generation failed: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify compares a bcrypt hashed password with its possible plaintext
// equivalent. It blocks while the worker pool is saturated and honors
// context cancellation while waiting.
func (h *BcryptPasswordHasher) Verify(ctx context.Context, hashedPassword, password string) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("password verify queue: %w", err)
	}
	defer h.sem.Release(1)
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

var _ PasswordHasher = (*BcryptPasswordHasher)(nil)

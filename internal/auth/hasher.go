package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type Hasher struct {
	cost    int
	timeout time.Duration

	dummyOnce sync.Once
	dummyHash string
}

func NewHasher(cost int, timeout time.Duration) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = 12
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Hasher{cost: cost, timeout: timeout}
}

func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	var hash []byte
	err := h.bounded(ctx, func() error {
		var hashErr error
		hash, hashErr = bcrypt.GenerateFromPassword([]byte(password), h.cost)
		return hashErr
	})
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether password matches hash. A mismatch is (false, nil).
func (h *Hasher) Compare(ctx context.Context, hash, password string) (bool, error) {
	err := h.bounded(ctx, func() error {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	})
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return true, nil
}

// CompareDummy spends one bcrypt comparison at the configured cost against a
// throwaway hash, so a login for an unknown email takes as long as a wrong
// password.
func (h *Hasher) CompareDummy(ctx context.Context, password string) error {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("acero-store-dummy-password"), h.cost)
		if err == nil {
			h.dummyHash = string(hash)
		}
	})
	if h.dummyHash == "" {
		return errors.New("compare password: dummy hash unavailable")
	}
	_, err := h.Compare(ctx, h.dummyHash, password)
	return err
}

func (h *Hasher) bounded(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

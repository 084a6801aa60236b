package auth

import (
	"context"
	"time"
)

// LockoutPolicy locks an account for a fixed window after a failed password
// check. Every failure re-arms the lock; there is no attempt threshold.
type LockoutPolicy struct {
	store    UserStore
	duration time.Duration
	now      func() time.Time
}

func NewLockoutPolicy(store UserStore, duration time.Duration, now func() time.Time) *LockoutPolicy {
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &LockoutPolicy{store: store, duration: duration, now: now}
}

func (p *LockoutPolicy) IsLocked(user User) (bool, time.Time) {
	if user.LockedUntil == nil {
		return false, time.Time{}
	}
	if p.now().Before(*user.LockedUntil) {
		return true, *user.LockedUntil
	}
	return false, time.Time{}
}

func (p *LockoutPolicy) RecordFailedAttempt(ctx context.Context, userID string) (time.Time, error) {
	until := p.now().Add(p.duration)
	if err := p.store.SetLockout(ctx, userID, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

func (p *LockoutPolicy) RecordSuccess(ctx context.Context, userID string) error {
	return p.store.ResetLockout(ctx, userID, p.now())
}

// RecordPasswordlessLogin stamps last_login only. A phone link proves
// possession of the phone, not the password, so an active lock stays.
func (p *LockoutPolicy) RecordPasswordlessLogin(ctx context.Context, userID string) error {
	return p.store.TouchLastLogin(ctx, userID, p.now())
}

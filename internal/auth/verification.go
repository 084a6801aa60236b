package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VerificationEngine issues and redeems single-use email and phone tokens.
// A token is issued, then either redeemed or left to expire; neither state
// can go back to issued.
type VerificationEngine struct {
	store    Store
	emailTTL time.Duration
	phoneTTL time.Duration
	now      func() time.Time
}

func NewVerificationEngine(store Store, emailTTL, phoneTTL time.Duration, now func() time.Time) *VerificationEngine {
	if emailTTL <= 0 {
		emailTTL = 24 * time.Hour
	}
	if phoneTTL <= 0 {
		phoneTTL = 10 * time.Minute
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &VerificationEngine{store: store, emailTTL: emailTTL, phoneTTL: phoneTTL, now: now}
}

func (e *VerificationEngine) EmailTTL() time.Duration { return e.emailTTL }

func (e *VerificationEngine) IssueEmailVerification(ctx context.Context, userID string) (string, error) {
	return e.issue(ctx, VerificationEmail, userID, "", e.emailTTL)
}

func (e *VerificationEngine) RedeemEmailVerification(ctx context.Context, token string) (string, error) {
	record, err := e.redeem(ctx, VerificationEmail, token)
	if err != nil {
		return "", err
	}
	if err := e.store.MarkEmailVerified(ctx, record.UserID); err != nil {
		return "", err
	}
	return record.UserID, nil
}

func (e *VerificationEngine) IssuePhoneVerification(ctx context.Context, userID, phone string) (string, error) {
	return e.issue(ctx, VerificationPhone, userID, phone, e.phoneTTL)
}

// RedeemPhoneVerification returns the token owner. Email verification is not
// required.
func (e *VerificationEngine) RedeemPhoneVerification(ctx context.Context, token string) (User, error) {
	record, err := e.redeem(ctx, VerificationPhone, token)
	if err != nil {
		return User{}, err
	}
	user, err := e.store.FindByID(ctx, record.UserID)
	if err != nil {
		return User{}, err
	}
	// The link is bound to the number it was sent to.
	if user.Phone == nil || *user.Phone != record.Phone {
		return User{}, ErrInvalidOrExpiredToken
	}
	return user, nil
}

func (e *VerificationEngine) ResendEmailVerification(ctx context.Context, user User) (string, error) {
	if user.EmailVerified {
		return "", ErrAlreadyVerified
	}
	if err := e.store.InvalidateEmailTokens(ctx, user.ID); err != nil {
		return "", err
	}
	return e.IssueEmailVerification(ctx, user.ID)
}

func (e *VerificationEngine) issue(ctx context.Context, kind VerificationKind, userID, phone string, ttl time.Duration) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate verification token id: %w", err)
	}
	raw, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}

	now := e.now()
	err = e.store.CreateVerificationToken(ctx, VerificationToken{
		ID:        id.String(),
		Kind:      kind,
		UserID:    userID,
		Phone:     phone,
		TokenHash: hashToken(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (e *VerificationEngine) redeem(ctx context.Context, kind VerificationKind, token string) (VerificationToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return VerificationToken{}, ErrInvalidOrExpiredToken
	}

	record, err := e.store.RedeemVerificationToken(ctx, kind, hashToken(token), e.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return VerificationToken{}, ErrInvalidOrExpiredToken
		}
		return VerificationToken{}, err
	}
	return record, nil
}

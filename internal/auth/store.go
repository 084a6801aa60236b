package auth

import (
	"context"
	"time"
)

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	Create(ctx context.Context, user NewUser) (User, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error)
	SetLockout(ctx context.Context, userID string, until time.Time) error
	ResetLockout(ctx context.Context, userID string, now time.Time) error
	TouchLastLogin(ctx context.Context, userID string, now time.Time) error
	MarkEmailVerified(ctx context.Context, userID string) error
	AssignRole(ctx context.Context, userID, role string) error
	RolesFor(ctx context.Context, userID string) ([]string, error)
}

type TokenStore interface {
	CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	FindRefreshToken(ctx context.Context, tokenHash string, now time.Time) (string, error)
	DeleteRefreshToken(ctx context.Context, tokenHash string) error

	CreateVerificationToken(ctx context.Context, token VerificationToken) error
	// RedeemVerificationToken flips used to true only if the token is unused
	// and unexpired. At most one concurrent caller gets the token back.
	RedeemVerificationToken(ctx context.Context, kind VerificationKind, tokenHash string, now time.Time) (VerificationToken, error)
	InvalidateEmailTokens(ctx context.Context, userID string) error
}

type AuditStore interface {
	InsertAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

type Store interface {
	UserStore
	TokenStore
	AuditStore
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenType  = "access"
	refreshTokenSize = 32
)

type TokenIssuer struct {
	store      TokenStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(store TokenStore, secret string, accessTTL, refreshTTL time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TokenIssuer{
		store:      store,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}
}

func (t *TokenIssuer) IssueAccessToken(userID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.accessTTL)
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
		"typ": accessTokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, expiresAt, nil
}

func (t *TokenIssuer) VerifyAccessToken(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if tokenType, _ := claims["typ"].(string); tokenType != accessTokenType {
		return "", ErrInvalidToken
	}

	userID, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(userID) == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (t *TokenIssuer) IssueRefreshToken() (string, error) {
	token, err := randomToken(refreshTokenSize)
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return token, nil
}

// PersistRefreshToken stores the hash of token against userID.
func (t *TokenIssuer) PersistRefreshToken(ctx context.Context, userID, token string) error {
	return t.store.CreateRefreshToken(ctx, userID, hashToken(token), t.now().Add(t.refreshTTL))
}

// RedeemRefreshToken resolves a live refresh token to its user. The token
// stays valid until it expires or is deleted by logout.
func (t *TokenIssuer) RedeemRefreshToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidOrExpiredToken
	}

	userID, err := t.store.FindRefreshToken(ctx, hashToken(token), t.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidOrExpiredToken
		}
		return "", err
	}
	return userID, nil
}

func (t *TokenIssuer) RevokeRefreshToken(ctx context.Context, token string) error {
	return t.store.DeleteRefreshToken(ctx, hashToken(token))
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:])
}

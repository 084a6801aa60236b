package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	DeletedEmailTokens   int64 `json:"deleted_email_tokens"`
	DeletedPhoneTokens   int64 `json:"deleted_phone_tokens"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectUser = `
	SELECT u.id, u.email, u.password_hash, u.name, u.phone, u.company,
		u.email_verified, u.is_active, u.failed_login_attempts, u.locked_until,
		u.last_login, u.created_at, u.updated_at,
		COALESCE(string_agg(r.name, ',' ORDER BY r.name), '')
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
	LEFT JOIN roles r ON r.id = ur.role_id
`

func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findUser(ctx, "email", selectUser+` WHERE u.email = $1 GROUP BY u.id`, email)
}

func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	return r.findUser(ctx, "id", selectUser+` WHERE u.id = $1 GROUP BY u.id`, id)
}

func (r *Repository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.findUser(ctx, "phone", selectUser+` WHERE u.phone = $1 GROUP BY u.id`, phone)
}

func (r *Repository) findUser(ctx context.Context, by, query string, arg any) (User, error) {
	var (
		user        User
		phone       sql.NullString
		company     sql.NullString
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		roles       string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &phone, &company,
		&user.EmailVerified, &user.IsActive, &user.FailedLoginAttempts, &lockedUntil,
		&lastLogin, &user.CreatedAt, &user.UpdatedAt, &roles,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by %s: %w", by, err)
	}

	user.Phone = stringPtr(phone)
	user.Company = stringPtr(company)
	user.LockedUntil = timePtr(lockedUntil)
	user.LastLogin = timePtr(lastLogin)
	user.Roles = []string{}
	if roles != "" {
		user.Roles = strings.Split(roles, ",")
	}
	return user, nil
}

func (r *Repository) Create(ctx context.Context, in NewUser) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, phone, company, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id.String(), in.Email, in.PasswordHash, in.Name, nullable(in.Phone), nullable(in.Company), now)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return User{}, mapped
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return User{
		ID:           id.String(),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Name:         in.Name,
		Phone:        in.Phone,
		Company:      in.Company,
		IsActive:     true,
		Roles:        []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *Repository) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET
			name = COALESCE($2, name),
			phone = CASE WHEN $3::text IS NULL THEN phone ELSE NULLIF($3::text, '') END,
			company = CASE WHEN $4::text IS NULL THEN company ELSE NULLIF($4::text, '') END,
			updated_at = $5
		WHERE id = $1
	`, userID, nullable(update.Name), nullable(update.Phone), nullable(update.Company), time.Now().UTC())
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return User{}, mapped
		}
		return User{}, fmt.Errorf("update profile: %w", err)
	}
	if err := expectRow(res, "update profile"); err != nil {
		return User{}, err
	}

	return r.FindByID(ctx, userID)
}

func (r *Repository) SetLockout(ctx context.Context, userID string, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1, locked_until = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, until.UTC())
	if err != nil {
		return fmt.Errorf("set lockout: %w", err)
	}
	return expectRow(res, "set lockout")
}

func (r *Repository) ResetLockout(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = $2
		WHERE id = $1
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	return expectRow(res, "reset lockout")
}

func (r *Repository) TouchLastLogin(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return expectRow(res, "touch last login")
}

func (r *Repository) MarkEmailVerified(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return expectRow(res, "mark email verified")
}

// AssignRole is idempotent. An unknown role name inserts nothing.
func (r *Repository) AssignRole(ctx context.Context, userID, role string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2
		ON CONFLICT DO NOTHING
	`, userID, role)
	if err != nil {
		return fmt.Errorf("assign role %s: %w", role, err)
	}
	return nil
}

func (r *Repository) RolesFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0, 2)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

func (r *Repository) CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh token id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), userID, tokenHash, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

func (r *Repository) FindRefreshToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_tokens
		WHERE token_hash = $1 AND expires_at > $2
	`, tokenHash, now.UTC()).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	return userID, nil
}

func (r *Repository) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (r *Repository) CreateVerificationToken(ctx context.Context, token VerificationToken) error {
	var err error
	switch token.Kind {
	case VerificationEmail:
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO email_verification_tokens (id, user_id, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, token.ID, token.UserID, token.TokenHash, token.ExpiresAt.UTC(), token.CreatedAt.UTC())
	case VerificationPhone:
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO phone_verification_tokens (id, user_id, phone, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, token.ID, token.UserID, token.Phone, token.TokenHash, token.ExpiresAt.UTC(), token.CreatedAt.UTC())
	default:
		return fmt.Errorf("unknown verification kind %q", token.Kind)
	}
	if err != nil {
		return fmt.Errorf("insert %s verification token: %w", token.Kind, err)
	}
	return nil
}

// RedeemVerificationToken relies on a single conditional UPDATE so that two
// concurrent redemptions cannot both see used = false.
func (r *Repository) RedeemVerificationToken(ctx context.Context, kind VerificationKind, tokenHash string, now time.Time) (VerificationToken, error) {
	token := VerificationToken{Kind: kind, TokenHash: tokenHash, Used: true}

	var err error
	switch kind {
	case VerificationEmail:
		err = r.db.QueryRowContext(ctx, `
			UPDATE email_verification_tokens
			SET used = TRUE
			WHERE token_hash = $1 AND used = FALSE AND expires_at > $2
			RETURNING id, user_id, expires_at, created_at
		`, tokenHash, now.UTC()).Scan(&token.ID, &token.UserID, &token.ExpiresAt, &token.CreatedAt)
	case VerificationPhone:
		err = r.db.QueryRowContext(ctx, `
			UPDATE phone_verification_tokens
			SET used = TRUE
			WHERE token_hash = $1 AND used = FALSE AND expires_at > $2
			RETURNING id, user_id, phone, expires_at, created_at
		`, tokenHash, now.UTC()).Scan(&token.ID, &token.UserID, &token.Phone, &token.ExpiresAt, &token.CreatedAt)
	default:
		return VerificationToken{}, fmt.Errorf("unknown verification kind %q", kind)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VerificationToken{}, ErrNotFound
		}
		return VerificationToken{}, fmt.Errorf("redeem %s verification token: %w", kind, err)
	}
	return token, nil
}

func (r *Repository) InvalidateEmailTokens(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_verification_tokens SET used = TRUE
		WHERE user_id = $1 AND used = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("invalidate email tokens: %w", err)
	}
	return nil
}

func (r *Repository) InsertAudit(ctx context.Context, entry AuditEntry) error {
	var details any
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(raw)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, ip_address, user_agent, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, nullable(entry.UserID), entry.Action, entry.ResourceType, nullable(entry.ResourceID), entry.IPAddress, entry.UserAgent, details)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *Repository) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource_type, resource_id, ip_address, user_agent, details, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var (
			entry      AuditEntry
			userID     sql.NullString
			resourceID sql.NullString
			details    []byte
		)
		if err := rows.Scan(&entry.ID, &userID, &entry.Action, &entry.ResourceType, &resourceID,
			&entry.IPAddress, &entry.UserAgent, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entry.UserID = stringPtr(userID)
		entry.ResourceID = stringPtr(resourceID)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}

	return entries, nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, refreshRetention, verificationRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if refreshRetention <= 0 {
		refreshRetention = 7 * 24 * time.Hour
	}
	if verificationRetention <= 0 {
		verificationRetention = 7 * 24 * time.Hour
	}

	now := time.Now().UTC()
	refreshCutoff := now.Add(-refreshRetention)
	verificationCutoff := now.Add(-verificationRetention)

	deletedRefresh, err := r.deleteBatch(ctx, "refresh_tokens", `expires_at < $1`, refreshCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}
	deletedEmail, err := r.deleteBatch(ctx, "email_verification_tokens", `(used OR expires_at < NOW()) AND created_at < $1`, verificationCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}
	deletedPhone, err := r.deleteBatch(ctx, "phone_verification_tokens", `(used OR expires_at < NOW()) AND created_at < $1`, verificationCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedRefresh,
		DeletedEmailTokens:   deletedEmail,
		DeletedPhoneTokens:   deletedPhone,
	}, nil
}

// deleteBatch removes at most batchSize rows of table matching where. Both
// table and where are package constants.
func (r *Repository) deleteBatch(ctx context.Context, table, where string, cutoff time.Time, batchSize int) (int64, error) {
	query := fmt.Sprintf(`
		WITH stale AS (
			SELECT id FROM %[1]s
			WHERE %[2]s
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM %[1]s t
		USING stale
		WHERE t.id = stale.id
	`, table, where)

	res, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale %s: %w", table, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale %s rows affected: %w", table, err)
	}

	return affected, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "phone") {
		return ErrDuplicatePhone
	}
	return ErrDuplicateEmail
}

func expectRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time.UTC()
	return &v
}

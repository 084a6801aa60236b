package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"acero-store/internal/config"
	"acero-store/internal/jobs"
	"acero-store/internal/notify"
	"acero-store/internal/observability"
)

type Dependencies struct {
	Store       Store
	Queue       *jobs.Queue
	EmailSender notify.EmailSender
	PhoneSender notify.PhoneLinkSender
	Logger      *observability.Logger
	Now         func() time.Time
}

type Settings struct {
	Auth        config.AuthConfig
	FrontendURL string
	DevMode     bool
}

type Service struct {
	store        Store
	hasher       *Hasher
	tokens       *TokenIssuer
	lockout      *LockoutPolicy
	verification *VerificationEngine
	audit        *Auditor
	queue        *jobs.Queue
	email        notify.EmailSender
	phone        notify.PhoneLinkSender
	logger       *observability.Logger
	frontendURL  string
	devMode      bool
}

func NewService(deps Dependencies, settings Settings) *Service {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	cfg := settings.Auth

	return &Service{
		store:        deps.Store,
		hasher:       NewHasher(cfg.BcryptCost, cfg.HashTimeout),
		tokens:       NewTokenIssuer(deps.Store, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, now),
		lockout:      NewLockoutPolicy(deps.Store, cfg.LockDuration, now),
		verification: NewVerificationEngine(deps.Store, cfg.EmailTokenTTL, cfg.PhoneTokenTTL, now),
		audit:        NewAuditor(deps.Store, deps.Queue, deps.Logger),
		queue:        deps.Queue,
		email:        deps.EmailSender,
		phone:        deps.PhoneSender,
		logger:       deps.Logger,
		frontendURL:  strings.TrimRight(settings.FrontendURL, "/"),
		devMode:      settings.DevMode,
	}
}

func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    *string
	Company  *string
}

// Register creates the account, then assigns the customer role and persists a
// refresh token as separate writes. A failed role assignment is logged and
// the account is still returned.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (Session, error) {
	email := NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || in.Password == "" || name == "" {
		return Session{}, invalid("Email, password, and name are required")
	}
	if err := ValidateEmail(email); err != nil {
		return Session{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return Session{}, err
	}
	if err := ValidateName(name); err != nil {
		return Session{}, err
	}
	phone, err := optionalPhone(in.Phone)
	if err != nil {
		return Session{}, err
	}
	company := optionalText(in.Company)
	if company != nil {
		if err := validateCompany(*company); err != nil {
			return Session{}, err
		}
	}

	_, err = s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return Session{}, ErrDuplicateEmail
	case !errors.Is(err, ErrNotFound):
		return Session{}, err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.Create(ctx, NewUser{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Phone:        phone,
		Company:      company,
	})
	if err != nil {
		return Session{}, err
	}

	if err := s.store.AssignRole(ctx, user.ID, RoleCustomer); err != nil {
		s.logger.Warn("assign_default_role_failed", map[string]any{"user_id": user.ID, "error": err})
	} else if roles, err := s.store.RolesFor(ctx, user.ID); err == nil {
		user.Roles = roles
	}

	session, err := s.newSession(ctx, user)
	if err != nil {
		return Session{}, err
	}

	s.audit.Record(meta, user.ID, ActionUserRegistered, map[string]any{"email": user.Email})
	s.sendEmailVerification(user)

	return session, nil
}

func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, invalid("Email and password are required")
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if err := s.hasher.CompareDummy(ctx, password); err != nil {
				s.logger.Warn("dummy_compare_failed", map[string]any{"error": err})
			}
			s.audit.Record(meta, "", ActionLoginFailed, map[string]any{"reason": "unknown_email"})
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	if locked, until := s.lockout.IsLocked(user); locked {
		return Session{}, AccountLockedError{Until: until}
	}
	if !user.IsActive {
		return Session{}, ErrAccountDeactivated
	}

	ok, err := s.hasher.Compare(ctx, user.PasswordHash, password)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		if _, err := s.lockout.RecordFailedAttempt(ctx, user.ID); err != nil {
			return Session{}, err
		}
		s.audit.Record(meta, user.ID, ActionLoginFailed, map[string]any{"reason": "invalid_password"})
		return Session{}, ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(ctx, user.ID); err != nil {
		return Session{}, err
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil

	session, err := s.newSession(ctx, user)
	if err != nil {
		return Session{}, err
	}

	s.audit.Record(meta, user.ID, ActionLoginSuccess, nil)
	return session, nil
}

// Logout deletes refreshToken when one is given. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, user User, refreshToken string, meta RequestMeta) error {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
			return err
		}
	}

	s.audit.Record(meta, user.ID, ActionLogout, nil)
	return nil
}

// Refresh mints a new access token. The refresh token itself is left intact.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	userID, err := s.tokens.RedeemRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	access, _, err := s.tokens.IssueAccessToken(userID)
	if err != nil {
		return "", err
	}
	return access, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (User, error) {
	return s.store.FindByID(ctx, userID)
}

type ProfileInput struct {
	Name    *string
	Phone   *string
	Company *string
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput, meta RequestMeta) (User, error) {
	var update ProfileUpdate

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := ValidateName(name); err != nil {
			return User{}, err
		}
		update.Name = &name
	}
	if in.Phone != nil {
		phone := NormalizePhone(*in.Phone)
		if phone != "" {
			if err := ValidatePhone(phone); err != nil {
				return User{}, err
			}
		}
		update.Phone = &phone
	}
	if in.Company != nil {
		company := strings.TrimSpace(*in.Company)
		if err := validateCompany(company); err != nil {
			return User{}, err
		}
		update.Company = &company
	}

	user, err := s.store.UpdateProfile(ctx, userID, update)
	if err != nil {
		return User{}, err
	}

	s.audit.Record(meta, userID, ActionProfileUpdated, map[string]any{"fields": changedFields(update)})
	return user, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string, meta RequestMeta) error {
	userID, err := s.verification.RedeemEmailVerification(ctx, token)
	if err != nil {
		return err
	}

	s.audit.Record(meta, userID, ActionEmailVerified, nil)
	return nil
}

// ResendVerification retires the user's outstanding email tokens and sends a
// fresh one. Unlike registration the send happens inline so delivery errors
// reach the caller.
func (s *Service) ResendVerification(ctx context.Context, email string, meta RequestMeta) error {
	email = NormalizeEmail(email)
	if email == "" {
		return invalid("Email is required")
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, err := s.verification.ResendEmailVerification(ctx, user)
	if err != nil {
		return err
	}
	if err := s.deliverEmailVerification(ctx, user, token); err != nil {
		return err
	}

	s.audit.Record(meta, user.ID, ActionVerificationResent, nil)
	return nil
}

// RequestPhoneLink sends a passwordless login link to a registered phone. The
// returned URL is only non-empty in development mode.
func (s *Service) RequestPhoneLink(ctx context.Context, phone string, meta RequestMeta) (string, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return "", invalid("Phone number is required")
	}
	if err := ValidatePhone(phone); err != nil {
		return "", err
	}

	user, err := s.store.FindByPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		return "", ErrAccountDeactivated
	}

	token, err := s.verification.IssuePhoneVerification(ctx, user.ID, phone)
	if err != nil {
		return "", err
	}
	link := s.link("/phone-login", token)
	if err := s.phone.SendLink(ctx, phone, link); err != nil {
		return "", fmt.Errorf("send phone link: %w", err)
	}

	s.audit.Record(meta, user.ID, ActionPhoneLinkRequested, nil)
	if s.devMode {
		return link, nil
	}
	return "", nil
}

// VerifyPhone redeems a phone-link token and logs the user in.
func (s *Service) VerifyPhone(ctx context.Context, token string, meta RequestMeta) (Session, error) {
	user, err := s.verification.RedeemPhoneVerification(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, ErrAccountDeactivated
	}

	if err := s.lockout.RecordPasswordlessLogin(ctx, user.ID); err != nil {
		return Session{}, err
	}

	session, err := s.newSession(ctx, user)
	if err != nil {
		return Session{}, err
	}

	s.audit.Record(meta, user.ID, ActionPhoneLogin, nil)
	return session, nil
}

func (s *Service) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListAudit(ctx, limit)
}

// CreateAdmin provisions a verified admin account, or promotes the existing
// account with that email.
func (s *Service) CreateAdmin(ctx context.Context, email, password, name string) (User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return User{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return User{}, err
	}
	if name = strings.TrimSpace(name); name == "" {
		name = "Administrator"
	}

	user, err := s.store.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		hash, hashErr := s.hasher.Hash(ctx, password)
		if hashErr != nil {
			return User{}, hashErr
		}
		user, err = s.store.Create(ctx, NewUser{Email: email, PasswordHash: hash, Name: name})
		if err != nil {
			return User{}, err
		}
	case err != nil:
		return User{}, err
	}

	for _, role := range []string{RoleCustomer, RoleAdmin} {
		if err := s.store.AssignRole(ctx, user.ID, role); err != nil {
			return User{}, fmt.Errorf("assign %s role: %w", role, err)
		}
	}
	if err := s.store.MarkEmailVerified(ctx, user.ID); err != nil {
		return User{}, err
	}

	return s.store.FindByID(ctx, user.ID)
}

func (s *Service) newSession(ctx context.Context, user User) (Session, error) {
	access, expiresAt, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.tokens.PersistRefreshToken(ctx, user.ID, refresh); err != nil {
		return Session{}, err
	}

	return Session{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) sendEmailVerification(user User) {
	accepted := s.queue.Submit(jobs.Job{
		Name: "email_verification",
		Run: func(ctx context.Context) error {
			token, err := s.verification.IssueEmailVerification(ctx, user.ID)
			if err != nil {
				return err
			}
			return s.deliverEmailVerification(ctx, user, token)
		},
	})
	if !accepted {
		s.logger.Warn("email_verification_not_queued", map[string]any{"user_id": user.ID})
	}
}

func (s *Service) deliverEmailVerification(ctx context.Context, user User, token string) error {
	email, err := notify.VerificationEmail(user.Email, user.Name, s.link("/verify-email", token), humanDuration(s.verification.EmailTTL()))
	if err != nil {
		return err
	}
	if err := s.email.Send(ctx, email); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

func (s *Service) link(path, token string) string {
	return s.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func optionalPhone(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	phone := NormalizePhone(*raw)
	if phone == "" {
		return nil, nil
	}
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}
	return &phone, nil
}

func optionalText(raw *string) *string {
	if raw == nil {
		return nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil
	}
	return &value
}

func changedFields(update ProfileUpdate) []string {
	fields := make([]string, 0, 3)
	if update.Name != nil {
		fields = append(fields, "name")
	}
	if update.Phone != nil {
		fields = append(fields, "phone")
	}
	if update.Company != nil {
		fields = append(fields, "company")
	}
	return fields
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}

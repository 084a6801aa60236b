package auth

import "time"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	Phone               *string
	Company             *string
	EmailVerified       bool
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	Roles               []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UserResponse is the public shape of a user. Credential and lockout state
// never leave the service.
type UserResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Phone         *string   `json:"phone"`
	Company       *string   `json:"company"`
	EmailVerified bool      `json:"email_verified"`
	Roles         []string  `json:"roles"`
	CreatedAt     time.Time `json:"created_at"`
}

func (u User) Response() UserResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Phone:         u.Phone,
		Company:       u.Company,
		EmailVerified: u.EmailVerified,
		Roles:         roles,
		CreatedAt:     u.CreatedAt,
	}
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type NewUser struct {
	Email        string
	PasswordHash string
	Name         string
	Phone        *string
	Company      *string
}

// ProfileUpdate carries only the fields the caller sent. A nil pointer leaves
// the column unchanged; an empty string clears phone or company.
type ProfileUpdate struct {
	Name    *string
	Phone   *string
	Company *string
}

type VerificationKind string

const (
	VerificationEmail VerificationKind = "email"
	VerificationPhone VerificationKind = "phone"
)

type VerificationToken struct {
	ID        string
	Kind      VerificationKind
	UserID    string
	Phone     string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type AuditEntry struct {
	ID           int64          `json:"id"`
	UserID       *string        `json:"user_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Session is what register, login and phone-link redemption hand back.
type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RequestMeta identifies the caller for audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

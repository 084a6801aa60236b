package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"acero-store/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the auth API on mux. gate guards bearer-token routes; limit
// wraps every auth route.
func (h *Handler) Routes(mux *http.ServeMux, gate, limit func(http.Handler) http.Handler) {
	public := func(fn http.HandlerFunc) http.Handler { return limit(fn) }
	protected := func(fn http.HandlerFunc) http.Handler { return limit(gate(fn)) }

	mux.Handle("POST /auth/register", public(h.Register))
	mux.Handle("POST /auth/login", public(h.Login))
	mux.Handle("POST /auth/refresh", public(h.Refresh))
	mux.Handle("GET /auth/verify-email", public(h.VerifyEmail))
	mux.Handle("POST /auth/resend-verification", public(h.ResendVerification))
	mux.Handle("POST /auth/phone-link", public(h.RequestPhoneLink))
	mux.Handle("GET /auth/verify-phone", public(h.VerifyPhone))
	mux.Handle("GET /auth/profile", protected(h.GetProfile))
	mux.Handle("PUT /auth/profile", protected(h.UpdateProfile))
	mux.Handle("POST /auth/logout", protected(h.Logout))
	mux.Handle("GET /admin/audit", gate(RequireRole(RoleAdmin, http.HandlerFunc(h.ListAudit))))
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Phone    *string `json:"phone"`
	Company  *string `json:"company"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken *string `json:"refreshToken"`
}

// profileRequest tolerates the full user object the storefront sends back;
// only name, phone and company are applied.
type profileRequest struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Company *string `json:"company"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type sessionResponse struct {
	Message      string       `json:"message"`
	User         UserResponse `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
}

type messageResponse struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

type userResponse struct {
	User UserResponse `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	session, err := h.service.Register(r.Context(), RegisterInput{
		Email:    body.Email,
		Password: body.Password,
		Name:     body.Name,
		Phone:    body.Phone,
		Company:  body.Company,
	}, requestMeta(r))
	if err != nil {
		h.fail(w, err, "register", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, newSessionResponse("User registered successfully", session))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	session, err := h.service.Login(r.Context(), body.Email, body.Password, requestMeta(r))
	if err != nil {
		h.fail(w, err, "login", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse("Login successful", session))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		h.fail(w, ErrUnauthorized, "logout", http.StatusUnauthorized)
		return
	}

	var body logoutRequest
	if !decodeOptionalJSON(w, r, &body) {
		return
	}
	refreshToken := ""
	if body.RefreshToken != nil {
		refreshToken = *body.RefreshToken
	}

	if err := h.service.Logout(r.Context(), user, refreshToken, requestMeta(r)); err != nil {
		h.fail(w, err, "logout", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}

	token, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			writeError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
			return
		}
		h.fail(w, err, "refresh", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	current, ok := UserFromContext(r.Context())
	if !ok {
		h.fail(w, ErrUnauthorized, "get_profile", http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetProfile(r.Context(), current.ID)
	if err != nil {
		h.fail(w, err, "get_profile", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user.Response()})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	current, ok := UserFromContext(r.Context())
	if !ok {
		h.fail(w, ErrUnauthorized, "update_profile", http.StatusUnauthorized)
		return
	}

	var body profileRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), current.ID, ProfileInput{
		Name:    body.Name,
		Phone:   body.Phone,
		Company: body.Company,
	}, requestMeta(r))
	if err != nil {
		h.fail(w, err, "update_profile", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user.Response()})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "Verification token is required")
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token, requestMeta(r)); err != nil {
		h.fail(w, err, "verify_email", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Email verified successfully"})
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	if err := h.service.ResendVerification(r.Context(), body.Email, requestMeta(r)); err != nil {
		h.fail(w, err, "resend_verification", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Verification email sent"})
}

func (h *Handler) RequestPhoneLink(w http.ResponseWriter, r *http.Request) {
	var body phoneRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	link, err := h.service.RequestPhoneLink(r.Context(), body.Phone, requestMeta(r))
	if err != nil {
		h.fail(w, err, "phone_link", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Login link sent to your phone", URL: link})
}

func (h *Handler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "Verification token is required")
		return
	}

	session, err := h.service.VerifyPhone(r.Context(), token, requestMeta(r))
	if err != nil {
		h.fail(w, err, "verify_phone", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse("Phone verified successfully", session))
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListAudit(r.Context(), limit)
	if err != nil {
		h.fail(w, err, "list_audit", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// fail maps service errors to responses. tokenStatus is the status used for
// ErrInvalidOrExpiredToken, which differs per endpoint.
func (h *Handler) fail(w http.ResponseWriter, err error, op string, tokenStatus int) {
	var validationErr ValidationError
	var lockedErr AccountLockedError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "User already exists with this email")
	case errors.Is(err, ErrDuplicatePhone):
		writeError(w, http.StatusConflict, "Phone number is already in use")
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Access token required")
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.As(err, &lockedErr):
		retryAfter := int(time.Until(lockedErr.Until).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusLocked, "Account is temporarily locked due to failed login attempts")
	case errors.Is(err, ErrAccountDeactivated):
		writeError(w, http.StatusUnauthorized, "Account is deactivated")
	case errors.Is(err, ErrAlreadyVerified):
		writeError(w, http.StatusBadRequest, "Email is already verified")
	case errors.Is(err, ErrInvalidOrExpiredToken):
		writeError(w, tokenStatus, "Invalid or expired token")
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	default:
		sentry.CaptureException(err)
		h.logger.Error("auth_"+op+"_failed", map[string]any{"error": err})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func newSessionResponse(message string, session Session) sessionResponse {
	return sessionResponse{
		Message:      message,
		User:         session.User.Response(),
		Token:        session.AccessToken,
		RefreshToken: session.RefreshToken,
	}
}

func requestMeta(r *http.Request) RequestMeta {
	return RequestMeta{
		IPAddress: observability.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

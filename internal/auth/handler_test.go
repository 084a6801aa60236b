package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acero-store/internal/observability"
)

type apiFixture struct {
	*fixture
	server http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := newFixture(t)
	logger := observability.NewNopLogger()

	handler := NewHandler(f.service, logger)
	gate := func(next http.Handler) http.Handler { return Middleware(f.service, logger, next) }
	passthrough := func(next http.Handler) http.Handler { return next }

	mux := http.NewServeMux()
	handler.Routes(mux, gate, passthrough)
	return &apiFixture{fixture: f, server: mux}
}

func (a *apiFixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandler_RegisterResponseShape(t *testing.T) {
	a := newAPIFixture(t)

	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "alice@x.com", "password": "Passw0rd!", "name": "Alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "User registered successfully", body["message"])
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["refreshToken"])

	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@x.com", user["email"])
	assert.Equal(t, false, user["email_verified"])
	assert.Equal(t, []any{"customer"}, user["roles"])
	assert.NotContains(t, user, "password_hash")
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestHandler_RegisterErrors(t *testing.T) {
	a := newAPIFixture(t)
	a.seedUser(t, "alice@x.com", "Passw0rd!", nil)

	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "alice@x.com", "password": "Passw0rd!", "name": "Alice",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"User already exists with this email"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/register", "", map[string]any{"email": "bob@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Email, password, and name are required"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/register", "", `{"email":"bob@x.com","admin":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid json body"}`, rec.Body.String())
}

func TestHandler_LoginLockout(t *testing.T) {
	a := newAPIFixture(t)
	a.seedUser(t, "alice@x.com", "Passw0rd!", nil)

	rec := a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@x.com", "password": "Wrong0ne!"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid credentials"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@x.com", "password": "Passw0rd!"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.JSONEq(t, `{"error":"Account is temporarily locked due to failed login attempts"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Email and password are required"}`, rec.Body.String())
}

func TestHandler_LoginDeactivated(t *testing.T) {
	a := newAPIFixture(t)
	user := a.seedUser(t, "alice@x.com", "Passw0rd!", nil)
	a.store.setActive(user.ID, false)

	rec := a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@x.com", "password": "Passw0rd!"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Account is deactivated"}`, rec.Body.String())
}

func TestHandler_AccessGate(t *testing.T) {
	a := newAPIFixture(t)
	user := a.seedUser(t, "alice@x.com", "Passw0rd!", nil)
	token, _, err := a.service.Tokens().IssueAccessToken(user.ID)
	require.NoError(t, err)

	rec := a.do(t, http.MethodGet, "/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Access token required"}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/auth/profile", "garbage", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid or expired token"}`, rec.Body.String())

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID, "exp": time.Now().Add(time.Hour).Unix(), "typ": "access",
	}).SignedString([]byte("not-the-secret"))
	require.NoError(t, err)
	rec = a.do(t, http.MethodGet, "/auth/profile", forged, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, user.ID, profile["id"])

	a.store.setActive(user.ID, false)
	rec = a.do(t, http.MethodGet, "/auth/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid token"}`, rec.Body.String())

	ghost, _, err := a.service.Tokens().IssueAccessToken("0190e7a4-0000-7000-8000-000000000000")
	require.NoError(t, err)
	rec = a.do(t, http.MethodGet, "/auth/profile", ghost, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def", "abc.def"},
		{"bearer   abc.def  ", "abc.def"},
		{"", ""},
		{"Bearer", ""},
		{"Bearer   ", ""},
		{"Basic abc.def", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			token, err := BearerToken(r)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Equal(t, http.StatusUnauthorized, statusFor(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, token)
		})
	}

	assert.Equal(t, http.StatusForbidden, statusFor(ErrInvalidToken))
}

func TestHandler_UpdateProfileIgnoresEchoedFields(t *testing.T) {
	a := newAPIFixture(t)
	user := a.seedUser(t, "alice@x.com", "Passw0rd!", nil)
	token, _, err := a.service.Tokens().IssueAccessToken(user.ID)
	require.NoError(t, err)

	rec := a.do(t, http.MethodPut, "/auth/profile", token, map[string]any{
		"id": "someone-else", "email": "evil@x.com", "name": "Alice", "phone": "+44 7911 123456", "company": "Acme",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	profile := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, "alice@x.com", profile["email"])
	assert.Equal(t, "+447911123456", profile["phone"])
	assert.Equal(t, "Acme", profile["company"])

	rec = a.do(t, http.MethodPut, "/auth/profile", token, map[string]any{"phone": "0123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	a := newAPIFixture(t)
	a.seedUser(t, "alice@x.com", "Passw0rd!", nil)

	rec := a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@x.com", "password": "Passw0rd!"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody(t, rec)
	access := login["token"].(string)
	refresh := login["refreshToken"].(string)

	rec = a.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Refresh token required"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid or expired refresh token"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["token"])

	rec = a.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/logout", access, map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Logout successful"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/logout", access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_VerificationFlows(t *testing.T) {
	a := newAPIFixture(t)
	ctx := context.Background()
	user := a.seedUser(t, "alice@x.com", "Passw0rd!", strPtr("+15551234567"))

	rec := a.do(t, http.MethodGet, "/auth/verify-email?token=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid or expired token"}`, rec.Body.String())

	token, err := a.service.verification.IssueEmailVerification(ctx, user.ID)
	require.NoError(t, err)
	rec = a.do(t, http.MethodGet, "/auth/verify-email?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Email verified successfully"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/resend-verification", "", map[string]string{"email": "alice@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Email is already verified"}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/resend-verification", "", map[string]string{"email": "ghost@x.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/phone-link", "", map[string]string{"phone": "+15551234567"})
	require.Equal(t, http.StatusOK, rec.Code)
	link := decodeBody(t, rec)["url"].(string)
	assert.True(t, strings.HasPrefix(link, "http://localhost:5173/phone-login?token="))

	rec = a.do(t, http.MethodGet, "/auth/verify-phone?token="+tokenFromLink(t, link), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["refreshToken"])
	assert.Equal(t, "alice@x.com", body["user"].(map[string]any)["email"])

	rec = a.do(t, http.MethodGet, "/auth/verify-phone?token="+tokenFromLink(t, link), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/auth/verify-phone", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_AdminAuditRequiresRole(t *testing.T) {
	a := newAPIFixture(t)
	ctx := context.Background()

	customer := a.seedUser(t, "alice@x.com", "Passw0rd!", nil)
	customerToken, _, err := a.service.Tokens().IssueAccessToken(customer.ID)
	require.NoError(t, err)

	admin, err := a.service.CreateAdmin(ctx, "admin@acero.com", "Adm1nPass!", "Ops")
	require.NoError(t, err)
	adminToken, _, err := a.service.Tokens().IssueAccessToken(admin.ID)
	require.NoError(t, err)

	require.NoError(t, a.store.InsertAudit(ctx, AuditEntry{Action: ActionLoginSuccess, ResourceType: "user"}))

	rec := a.do(t, http.MethodGet, "/admin/audit", customerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/admin/audit?limit=abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/admin/audit?limit=10", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, ActionLoginSuccess, entries[0].Action)
}

func TestHandler_StorageErrorsAreGeneric(t *testing.T) {
	a := newAPIFixture(t)
	a.service.store = failingStore{Store: a.store}

	rec := a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@x.com", "password": "Passw0rd!"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

type failingStore struct {
	Store
}

func (failingStore) FindByEmail(context.Context, string) (User, error) {
	return User{}, errStoreDown
}

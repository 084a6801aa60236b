package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestDefaults(t *testing.T) {
	c := Defaults()

	assert.Equal(t, 7*24*time.Hour, c.Auth.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, c.Auth.RefreshTTL)
	assert.Equal(t, 30*time.Minute, c.Auth.LockDuration)
	assert.Equal(t, 24*time.Hour, c.Auth.EmailTokenTTL)
	assert.Equal(t, 10*time.Minute, c.Auth.PhoneTokenTTL)
	assert.Equal(t, 12, c.Auth.BcryptCost)
	assert.Equal(t, 5, c.RateLimit.AuthMax)
	assert.Equal(t, 100, c.RateLimit.GeneralMax)
	assert.Equal(t, 15*time.Minute, c.RateLimit.Window)
	assert.True(t, c.DevMode())
}

func TestApplyEnv_OverridesAndIgnoresGarbage(t *testing.T) {
	c := Defaults()
	applyEnv(&c, mapEnv(map[string]string{
		"APP_ENV":                   "production",
		"DATABASE_URL":              "postgres://db",
		"JWT_SECRET":                "s3cr3t",
		"FRONTEND_URL":              "https://acero.example/",
		"LOGIN_LOCK_MINUTES":        "45",
		"PHONE_TOKEN_TTL_MINUTES":   "abc",
		"AUTH_RATE_LIMIT_MAX":       "-3",
		"SMTP_USER":                 "mailer@acero.example",
		"RUN_MIGRATIONS_ON_STARTUP": "off",
	}))

	assert.True(t, c.IsProduction())
	assert.Equal(t, "postgres://db", c.DatabaseURL)
	assert.Equal(t, "https://acero.example", c.FrontendURL)
	assert.Equal(t, 45*time.Minute, c.Auth.LockDuration)
	assert.Equal(t, 10*time.Minute, c.Auth.PhoneTokenTTL)
	assert.Equal(t, 5, c.RateLimit.AuthMax)
	assert.Equal(t, "mailer@acero.example", c.SMTP.From)
	assert.False(t, c.DB.RunMigrations)
	assert.Zero(t, c.TrustProxyHops)
}

func TestApplyEnv_TrustProxy(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"true": 1,
		"off":  0,
		"2":    2,
		"-1":   0,
		"lots": 0,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			c := Defaults()
			applyEnv(&c, mapEnv(map[string]string{"TRUST_PROXY": raw}))
			assert.Equal(t, want, c.TrustProxyHops)
		})
	}
}

func TestValidate(t *testing.T) {
	c := Defaults()
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	c.DatabaseURL = "postgres://db"
	c.Auth.JWTSecret = "short"
	require.NoError(t, c.Validate())

	c.Env = EnvProduction
	require.Error(t, c.Validate())

	c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	require.NoError(t, c.Validate())

	c.RateLimit.Window = 0
	require.Error(t, c.Validate())
}

func TestLoad_YAMLOverlayThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acero.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://from-yaml
auth:
  jwt_secret: yaml-secret
  lock_duration: 5m
rate_limit:
  auth_max: 7
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "env-secret")

	c, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "postgres://from-yaml", c.DatabaseURL)
	assert.Equal(t, "env-secret", c.Auth.JWTSecret)
	assert.Equal(t, 5*time.Minute, c.Auth.LockDuration)
	assert.Equal(t, 7, c.RateLimit.AuthMax)
	assert.Equal(t, 100, c.RateLimit.GeneralMax)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

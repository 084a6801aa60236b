package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env         string `yaml:"env"`
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	FrontendURL string `yaml:"frontend_url"`
	RedisURL    string `yaml:"redis_url"`
	SentryDSN   string `yaml:"sentry_dsn"`
	CronSecret  string `yaml:"cron_secret"`

	// TrustProxyHops is how many reverse proxies in front of the API append
	// to X-Forwarded-For. Zero means the header is ignored.
	TrustProxyHops int `yaml:"trust_proxy_hops"`

	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	DB        DBConfig        `yaml:"db"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Log       LogConfig       `yaml:"log"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	LockDuration  time.Duration `yaml:"lock_duration"`
	EmailTokenTTL time.Duration `yaml:"email_token_ttl"`
	PhoneTokenTTL time.Duration `yaml:"phone_token_ttl"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
	HashTimeout   time.Duration `yaml:"hash_timeout"`
}

type RateLimitConfig struct {
	AuthMax    int           `yaml:"auth_max"`
	GeneralMax int           `yaml:"general_max"`
	Window     time.Duration `yaml:"window"`
}

type DBConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	RunMigrations   bool          `yaml:"run_migrations"`
}

type SMTPConfig struct {
	Host     string  `yaml:"host"`
	Port     int     `yaml:"port"`
	Username string  `yaml:"username"`
	Password string  `yaml:"password"`
	From     string  `yaml:"from"`
	PerSec   float64 `yaml:"per_second"`
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type JobsConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type CleanupConfig struct {
	RefreshRetention      time.Duration `yaml:"refresh_retention"`
	VerificationRetention time.Duration `yaml:"verification_retention"`
	BatchSize             int           `yaml:"batch_size"`
}

// Defaults returns the reference behaviour: 7 day access tokens, 30 day
// refresh tokens, 30 minute lockout and 5/100 requests per 15 minutes.
func Defaults() Config {
	return Config{
		Env:         EnvDevelopment,
		Port:        "8080",
		FrontendURL: "http://localhost:5173",
		Auth: AuthConfig{
			AccessTTL:     7 * 24 * time.Hour,
			RefreshTTL:    30 * 24 * time.Hour,
			LockDuration:  30 * time.Minute,
			EmailTokenTTL: 24 * time.Hour,
			PhoneTokenTTL: 10 * time.Minute,
			BcryptCost:    12,
			HashTimeout:   5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			AuthMax:    5,
			GeneralMax: 100,
			Window:     15 * time.Minute,
		},
		DB: DBConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
			RunMigrations:   true,
		},
		SMTP: SMTPConfig{
			Port:   465,
			PerSec: 2,
		},
		Jobs: JobsConfig{
			Workers:     4,
			QueueSize:   256,
			TaskTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
		Cleanup: CleanupConfig{
			RefreshRetention:      14 * 24 * time.Hour,
			VerificationRetention: 7 * 24 * time.Hour,
			BatchSize:             500,
		},
	}
}

type Options struct {
	LoadDotEnv bool
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE and finally the process environment.
func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	env := envReader{getenv: getenv}

	cfg.Env = env.str("APP_ENV", cfg.Env)
	cfg.Port = env.str("PORT", cfg.Port)
	cfg.DatabaseURL = env.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.FrontendURL = strings.TrimRight(env.str("FRONTEND_URL", cfg.FrontendURL), "/")
	cfg.RedisURL = env.str("REDIS_URL", cfg.RedisURL)
	cfg.SentryDSN = env.str("SENTRY_DSN", cfg.SentryDSN)
	cfg.CronSecret = env.str("CRON_SECRET", cfg.CronSecret)
	cfg.TrustProxyHops = env.hops("TRUST_PROXY", cfg.TrustProxyHops)

	cfg.Auth.JWTSecret = env.str("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTTL = env.hours("ACCESS_TOKEN_TTL_HOURS", cfg.Auth.AccessTTL)
	cfg.Auth.RefreshTTL = env.hours("REFRESH_TOKEN_TTL_HOURS", cfg.Auth.RefreshTTL)
	cfg.Auth.LockDuration = env.minutes("LOGIN_LOCK_MINUTES", cfg.Auth.LockDuration)
	cfg.Auth.EmailTokenTTL = env.hours("EMAIL_TOKEN_TTL_HOURS", cfg.Auth.EmailTokenTTL)
	cfg.Auth.PhoneTokenTTL = env.minutes("PHONE_TOKEN_TTL_MINUTES", cfg.Auth.PhoneTokenTTL)
	cfg.Auth.BcryptCost = env.int("BCRYPT_COST", cfg.Auth.BcryptCost)
	cfg.Auth.HashTimeout = env.seconds("HASH_TIMEOUT_SECONDS", cfg.Auth.HashTimeout)

	cfg.RateLimit.AuthMax = env.int("AUTH_RATE_LIMIT_MAX", cfg.RateLimit.AuthMax)
	cfg.RateLimit.GeneralMax = env.int("API_RATE_LIMIT_MAX", cfg.RateLimit.GeneralMax)
	cfg.RateLimit.Window = env.minutes("RATE_LIMIT_WINDOW_MINUTES", cfg.RateLimit.Window)

	cfg.DB.MaxOpenConns = env.int("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConns)
	cfg.DB.MaxIdleConns = env.int("DB_MAX_IDLE_CONNS", cfg.DB.MaxIdleConns)
	cfg.DB.ConnMaxLifetime = env.minutes("DB_CONN_MAX_LIFETIME_MINUTES", cfg.DB.ConnMaxLifetime)
	cfg.DB.ConnMaxIdleTime = env.minutes("DB_CONN_MAX_IDLE_TIME_MINUTES", cfg.DB.ConnMaxIdleTime)
	cfg.DB.RunMigrations = env.bool("RUN_MIGRATIONS_ON_STARTUP", cfg.DB.RunMigrations)

	cfg.SMTP.Host = env.str("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = env.int("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = env.str("SMTP_USER", cfg.SMTP.Username)
	cfg.SMTP.Password = env.str("SMTP_PASS", cfg.SMTP.Password)
	cfg.SMTP.From = env.str("SMTP_FROM", cfg.SMTP.From)
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	cfg.Jobs.Workers = env.int("JOB_WORKERS", cfg.Jobs.Workers)
	cfg.Jobs.QueueSize = env.int("JOB_QUEUE_SIZE", cfg.Jobs.QueueSize)
	cfg.Jobs.TaskTimeout = env.seconds("JOB_TIMEOUT_SECONDS", cfg.Jobs.TaskTimeout)

	cfg.Log.Level = env.str("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = env.str("LOG_FILE", cfg.Log.File)

	cfg.Cleanup.RefreshRetention = env.days("AUTH_REFRESH_TOKEN_RETENTION_DAYS", cfg.Cleanup.RefreshRetention)
	cfg.Cleanup.VerificationRetention = env.days("AUTH_VERIFICATION_RETENTION_DAYS", cfg.Cleanup.VerificationRetention)
	cfg.Cleanup.BatchSize = env.int("AUTH_CLEANUP_BATCH_SIZE", cfg.Cleanup.BatchSize)
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("missing required env: DATABASE_URL"))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("missing required env: JWT_SECRET"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters in production"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.LockDuration <= 0 {
		errs = append(errs, errors.New("token and lockout durations must be positive"))
	}
	if c.Auth.EmailTokenTTL <= 0 || c.Auth.PhoneTokenTTL <= 0 {
		errs = append(errs, errors.New("verification token durations must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost %d out of range", c.Auth.BcryptCost))
	}
	if c.TrustProxyHops < 0 {
		errs = append(errs, errors.New("TRUST_PROXY must not be negative"))
	}
	if c.RateLimit.AuthMax <= 0 || c.RateLimit.GeneralMax <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// DevMode enables development-only conveniences such as echoing phone links.
func (c Config) DevMode() bool {
	return !c.IsProduction()
}

type envReader struct {
	getenv func(string) string
}

func (e envReader) str(name, fallback string) string {
	value := strings.TrimSpace(e.getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func (e envReader) int(name string, fallback int) int {
	value := strings.TrimSpace(e.getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (e envReader) scaled(name string, fallback time.Duration, unit time.Duration) time.Duration {
	value := strings.TrimSpace(e.getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}

func (e envReader) seconds(name string, fallback time.Duration) time.Duration {
	return e.scaled(name, fallback, time.Second)
}

func (e envReader) minutes(name string, fallback time.Duration) time.Duration {
	return e.scaled(name, fallback, time.Minute)
}

func (e envReader) hours(name string, fallback time.Duration) time.Duration {
	return e.scaled(name, fallback, time.Hour)
}

func (e envReader) days(name string, fallback time.Duration) time.Duration {
	return e.scaled(name, fallback, 24*time.Hour)
}

// hops accepts a hop count or a boolean, where true means one proxy.
func (e envReader) hops(name string, fallback int) int {
	value := strings.TrimSpace(strings.ToLower(e.getenv(name)))
	if value == "" {
		return fallback
	}
	switch value {
	case "true", "yes", "on":
		return 1
	case "false", "no", "off":
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func (e envReader) bool(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(e.getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

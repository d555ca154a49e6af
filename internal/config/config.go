// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Revocation store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPAddr    string
	GRPCAddr    string
	DatabaseURL string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RevocationBackend string
	StoreTimeout      time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	TokenIssuer     string

	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	RecaptchaSecret    string
	RecaptchaVerifyURL string

	LoginWindow    time.Duration
	LoginMaxFails  int
	LoginBlockFor  time.Duration
	AdminUsername  string
	AdminEmail     string
	AdminPassword  string
	GRPCTLSCert    string
	GRPCTLSKey     string
	ShutdownPeriod time.Duration
}

// Development reports whether APP_ENV is development.
func (c Config) Development() bool { return c.Environment == "development" }

// Load reads configuration. When envFile is set it must exist; otherwise a
// .env in the working directory is loaded if present.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		Environment: getEnv("APP_ENV", "production"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":3000"),
		GRPCAddr:    getEnv("GRPC_ADDR", ":3001"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		RevocationBackend: strings.ToLower(getEnv("REVOCATION_BACKEND", BackendRedis)),
		StoreTimeout:      getDuration("STORE_TIMEOUT", 250*time.Millisecond),

		JWTSecret:       os.Getenv("JWT_SECRET"),
		RefreshSecret:   os.Getenv("REFRESH_TOKEN_SECRET"),
		AccessTokenTTL:  getDuration("JWT_EXPIRES_IN", 24*time.Hour),
		RefreshTokenTTL: getDuration("REFRESH_TOKEN_EXPIRES_IN", 7*24*time.Hour),
		TokenIssuer:     getEnv("TOKEN_ISSUER", "gatekeeper"),

		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRequests:  getInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:    getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),

		RecaptchaSecret:    os.Getenv("RECAPTCHA_SECRET_KEY"),
		RecaptchaVerifyURL: getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),

		LoginWindow:    getDuration("LOGIN_WINDOW", 15*time.Minute),
		LoginMaxFails:  getInt("LOGIN_MAX_FAILURES", 5),
		LoginBlockFor:  getDuration("LOGIN_BLOCK_FOR", 15*time.Minute),
		AdminUsername:  getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:     strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		GRPCTLSCert:    os.Getenv("GRPC_TLS_CERT"),
		GRPCTLSKey:     os.Getenv("GRPC_TLS_KEY"),
		ShutdownPeriod: getDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required and mutually dependent settings.
func (c Config) Validate() error {
	var problems []error
	if c.DatabaseURL == "" {
		problems = append(problems, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" || c.RefreshSecret == "" {
		problems = append(problems, errors.New("JWT_SECRET and REFRESH_TOKEN_SECRET are required"))
	} else if c.JWTSecret == c.RefreshSecret {
		problems = append(problems, errors.New("JWT_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		problems = append(problems, errors.New("token lifetimes must be positive"))
	}
	if c.RevocationBackend != BackendRedis && c.RevocationBackend != BackendMemory {
		problems = append(problems, fmt.Errorf("REVOCATION_BACKEND must be %q or %q", BackendRedis, BackendMemory))
	}
	if (c.GRPCTLSCert == "") != (c.GRPCTLSKey == "") {
		problems = append(problems, errors.New("GRPC_TLS_CERT and GRPC_TLS_KEY must be set together"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		problems = append(problems, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(problems...)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// getDuration accepts Go durations plus a whole-day suffix such as "7d".
func getDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	if d, err := parseDuration(v); err == nil {
		return d
	}
	return def
}

func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}

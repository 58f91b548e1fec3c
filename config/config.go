package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port     string
	GinMode  string
	MongoURI string
	DBName   string

	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MaxLoginAttempts int
	LockDuration     time.Duration
	CookieSecure     bool

	ClientURL   string
	PublicURL   string
	CORSOrigins []string

	CloudinaryURL string
	AWSRegion     string
	AWSBucketName string
	UploadDir     string

	GeminiAPIKey string
	GeminiModel  string

	SendGridAPIKey string
	MailFrom       string
	MailFromName   string
	SMTPHost       string
	SMTPPort       string
	SMTPUser       string
	SMTPPass       string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	// WriteTimeout bounds each HTTP response, AI calls included.
	WriteTimeout time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
	AuthRateLimit   int
	AIRateLimit     int
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		GinMode:  os.Getenv("GIN_MODE"),
		MongoURI: os.Getenv("MONGODB_URI"),
		DBName:   getEnv("MONGODB_DB", "blogsy"),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),

		ClientURL: getEnv("CLIENT_URL", "http://localhost:5173"),

		CloudinaryURL: os.Getenv("CLOUDINARY_URL"),
		AWSRegion:     os.Getenv("AWS_REGION"),
		AWSBucketName: os.Getenv("AWS_S3_BUCKET"),
		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		MailFrom:       getEnv("MAIL_FROM", "no-reply@blogsy.dev"),
		MailFromName:   getEnv("MAIL_FROM_NAME", "BlogSy"),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       getEnv("SMTP_PORT", "587"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASS"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@blogsy.dev"),
	}

	if cfg.MongoURI == "" || cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET and MONGODB_URI must be set")
	}
	if cfg.JWTRefreshSecret == "" {
		cfg.JWTRefreshSecret = cfg.JWTSecret
	}

	cfg.PublicURL = strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:"+cfg.Port), "/")
	cfg.GoogleRedirectURL = getEnv("GOOGLE_REDIRECT_URL", cfg.PublicURL+"/api/auth/google/callback")
	cfg.CORSOrigins = splitList(getEnv("CORS_ORIGINS", cfg.ClientURL))

	var err error
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockDuration, err = getDuration("LOCK_DURATION", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = getDuration("WRITE_TIMEOUT", 75*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxLoginAttempts, err = getInt("MAX_LOGIN_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = getInt("RATE_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimit, err = getInt("AUTH_RATE_LIMIT", 20); err != nil {
		return nil, err
	}
	if cfg.AIRateLimit, err = getInt("AI_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.CookieSecure, err = getBool("COOKIE_SECURE", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsRelease reports whether gin should run in release mode.
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.TrimRight(part, "/"))
		}
	}
	return out
}

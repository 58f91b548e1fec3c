package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("JWT_REFRESH_SECRET", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("CLIENT_URL", "")
	t.Setenv("WRITE_TIMEOUT", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cases := []struct {
		title    string
		got, exp interface{}
	}{
		{"port", cfg.Port, "8080"},
		{"db name", cfg.DBName, "blogsy"},
		{"refresh secret falls back", cfg.JWTRefreshSecret, "secret"},
		{"access ttl", cfg.AccessTokenTTL, 15 * time.Minute},
		{"refresh ttl", cfg.RefreshTokenTTL, 7 * 24 * time.Hour},
		{"lock duration", cfg.LockDuration, 2 * time.Hour},
		{"max login attempts", cfg.MaxLoginAttempts, 5},
		{"public url", cfg.PublicURL, "http://localhost:8080"},
		{"cors origins", len(cfg.CORSOrigins), 1},
		{"rate limit", cfg.RateLimit, 100},
		{"cookie secure", cfg.CookieSecure, false},
		{"write timeout", cfg.WriteTimeout, 75 * time.Second},
	}
	for _, c := range cases {
		if c.got != c.exp {
			t.Errorf("[%s] Expected: %v, got: %v", c.title, c.exp, c.got)
		}
	}
}

func TestFromEnvRequired(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := FromEnv(); err == nil {
		t.Error("Expected error for missing MONGODB_URI")
	}
}

func TestFromEnvInvalidValues(t *testing.T) {
	cases := []struct {
		title string
		key   string
		value string
	}{
		{"bad duration", "ACCESS_TOKEN_TTL", "fifteen"},
		{"bad int", "MAX_LOGIN_ATTEMPTS", "many"},
		{"non positive int", "RATE_LIMIT", "0"},
		{"bad bool", "COOKIE_SECURE", "maybe"},
		{"bad write timeout", "WRITE_TIMEOUT", "soon"},
	}
	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			setRequired(t)
			t.Setenv(c.key, c.value)
			if _, err := FromEnv(); err == nil {
				t.Errorf("[%s] Expected error for %s=%q", c.title, c.key, c.value)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" http://a.com/ , ,http://b.com")
	if len(got) != 2 || got[0] != "http://a.com" || got[1] != "http://b.com" {
		t.Errorf("Expected: [http://a.com http://b.com], got: %v", got)
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.True(t, cfg.Server.IsDevelopment())
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Database.Migrate)
	assert.True(t, cfg.Session.UseRedis())
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL())
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiry())
	assert.Equal(t, 2, cfg.Claims.RefreshAttempts)
	assert.Equal(t, "*/15 * * * *", cfg.Housekeeping.Cron)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SERVER_ENV", "production")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example.org, ,https://b.example.org")
	t.Setenv("SESSION_BACKEND", "Database")
	t.Setenv("SESSION_TTL_HOURS", "8")
	t.Setenv("CLAIMS_REFRESH_ATTEMPTS", "4")
	t.Setenv("DATABASE_MIGRATE", "false")
	t.Setenv("DATABASE_HOST", "db.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Server.IsDevelopment())
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Session.UseRedis())
	assert.Equal(t, 8*time.Hour, cfg.Session.TTL())
	assert.Equal(t, 4, cfg.Claims.RefreshAttempts)
	assert.False(t, cfg.Database.Migrate)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}

func TestLoad_InvalidSessionBackend(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "memcached")

	_, err := Load()
	assert.ErrorContains(t, err, "SESSION_BACKEND")
}

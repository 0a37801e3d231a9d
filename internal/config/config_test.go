package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BUSINESS_TIMEZONE", "")
	t.Setenv("STATS_CACHE_TTL_SECONDS", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "Africa/Accra", cfg.BusinessTimezone)
	assert.Equal(t, 30, cfg.StatsCacheTTLSeconds)
	assert.Equal(t, []string{"http://127.0.0.1:3000"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	t.Setenv("ALLOWED_ORIGINS", "https://till.example.com, https://office.example.com,")
	t.Setenv("STATS_CACHE_TTL_SECONDS", "-5")
	t.Setenv("REDIS_DB", "2")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://till.example.com", "https://office.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 30, cfg.StatsCacheTTLSeconds)
	assert.Equal(t, 2, cfg.RedisDB)
}

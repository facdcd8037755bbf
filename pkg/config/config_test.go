package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchd/dispatch-backend/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, config.EnvDevelopment, cfg.Server.Environment)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 10, cfg.Database.PoolMax)
	assert.Equal(t, 2*time.Second, cfg.Database.ConnectionTimeout)
	assert.Equal(t, 15*time.Minute, cfg.JWT.Expiration)
	assert.Equal(t, 7, cfg.JWT.RefreshDays)
	assert.Equal(t, "lax", cfg.Cookie.SameSite)
	assert.Equal(t, "http://localhost:3000", cfg.Routing.VroomURL)
	assert.Equal(t, 10, cfg.RabbitMQ.PrefetchCount)
	assert.False(t, cfg.Seed.SuperAdmin)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NODE_ENV", "staging")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dispatch")
	t.Setenv("VROOM_URL", "http://vroom:3000")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "staging", cfg.Server.Environment)
	assert.Equal(t, "postgres://u:p@db:5432/dispatch", cfg.Database.DSN())
	assert.Equal(t, "http://vroom:3000", cfg.Routing.VroomURL)
}

func TestBareMillisecondDurations(t *testing.T) {
	// Deployments hand these over as bare millisecond counts.
	t.Setenv("JWT_EXPIRATION", "900000")
	t.Setenv("DB_POOL_IDLE_TIMEOUT_MS", "30000")
	t.Setenv("DB_POOL_CONNECTION_TIMEOUT_MS", "2000")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.JWT.Expiration)
	assert.Equal(t, 30*time.Second, cfg.Database.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.Database.ConnectionTimeout)
}

func TestDurationStringsStillWork(t *testing.T) {
	t.Setenv("JWT_EXPIRATION", "20m")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.JWT.Expiration)
}

func TestDatabaseDSN(t *testing.T) {
	c := &config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		Username: "u",
		Password: "p",
		Database: "dispatch",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=dispatch sslmode=disable", c.DSN())

	c.URL = "postgres://elsewhere"
	assert.Equal(t, "postgres://elsewhere", c.DSN())
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&config.ServerConfig{Environment: config.EnvProduction}).IsProduction())
	assert.True(t, (&config.ServerConfig{Environment: config.EnvStaging}).IsProduction())
	assert.False(t, (&config.ServerConfig{Environment: config.EnvDevelopment}).IsProduction())
}

func TestRefreshExpiry(t *testing.T) {
	c := &config.JWTConfig{RefreshDays: 7}
	assert.Equal(t, 7*24*time.Hour, c.RefreshExpiry())
}

func TestLoadWithValidation(t *testing.T) {
	t.Run("development defaults pass", func(t *testing.T) {
		_, err := config.LoadWithValidation()
		assert.NoError(t, err)
	})

	t.Run("production requires a database host", func(t *testing.T) {
		t.Setenv("NODE_ENV", "production")
		t.Setenv("JWT_SECRET", "a-real-secret-for-production-use!!")

		_, err := config.LoadWithValidation()
		assert.ErrorContains(t, err, "localhost database not allowed")
	})

	t.Run("production rejects the dev JWT secret", func(t *testing.T) {
		t.Setenv("NODE_ENV", "production")
		t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dispatch")

		_, err := config.LoadWithValidation()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("refresh days must be positive", func(t *testing.T) {
		t.Setenv("REFRESH_TOKEN_EXPIRATION_DAYS", "0")

		_, err := config.LoadWithValidation()
		assert.ErrorContains(t, err, "REFRESH_TOKEN_EXPIRATION_DAYS")
	})

	t.Run("seeding requires credentials", func(t *testing.T) {
		t.Setenv("SEED_SUPER_ADMIN", "true")

		_, err := config.LoadWithValidation()
		assert.ErrorContains(t, err, "SEED_SUPER_ADMIN")
	})

	t.Run("same-site attribute is validated", func(t *testing.T) {
		t.Setenv("COOKIE_SAME_SITE", "sideways")

		_, err := config.LoadWithValidation()
		assert.ErrorContains(t, err, "COOKIE_SAME_SITE")
	})
}

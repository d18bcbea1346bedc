package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("LEASE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Production.LeaseTTL)
	assert.Equal(t, 1.5, cfg.Production.MarkupFactor)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Redis.Channel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", "/tmp/farm.db")
	t.Setenv("LEASE_TTL", "90s")
	t.Setenv("REDIS_CHANNEL", "printfarm.changes")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Production.LeaseTTL)
	assert.Equal(t, "printfarm.changes", cfg.Redis.Channel)
	assert.Contains(t, cfg.Database.SQLiteDSN(), "/tmp/farm.db?")
}

func TestLoadRejectsNonPositiveLeaseTTL(t *testing.T) {
	t.Setenv("LEASE_TTL", "-1s")

	_, err := Load()
	assert.Error(t, err)
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "farm", Password: "pw", DBName: "printfarm", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=farm password=pw dbname=printfarm sslmode=disable TimeZone=UTC", db.DSN())

	rc := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", rc.Addr())
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("PRINTFARM_TEST_KEY", "")
	assert.Equal(t, "fallback", GetEnvOrDefault("PRINTFARM_TEST_KEY", "fallback"))

	t.Setenv("PRINTFARM_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnvOrDefault("PRINTFARM_TEST_KEY", "fallback"))
}

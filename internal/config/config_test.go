package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Engine.PoolSize)
	assert.Equal(t, 3, cfg.Engine.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryBaseDelay)
	assert.True(t, cfg.Engine.RetryExponential)
	assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)
	assert.Equal(t, "order.events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Broker, "kafka sink disabled by default")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
log_level: debug
server:
  addr: ":9090"
engine:
  pool_size: 10
  retry_max_attempts: 2
redis:
  cache_ttl: 30m
venues:
  - name: RAYDIUM
    fee_rate: 0.003
    pools:
      USDC-SOL:
        reserve_in: 1000000
        reserve_out: 10000
    default_pool:
      reserve_in: 1000000
      reserve_out: 1000000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Engine.PoolSize)
	assert.Equal(t, 2, cfg.Engine.RetryMaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Redis.CacheTTL)

	require.Len(t, cfg.Venues, 1)
	assert.Equal(t, "RAYDIUM", cfg.Venues[0].Name)
	assert.Equal(t, 0.003, cfg.Venues[0].FeeRate)
	require.Len(t, cfg.Venues[0].Pools, 1)
	for _, pool := range cfg.Venues[0].Pools {
		assert.Equal(t, 10000.0, pool.ReserveOut)
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "secret", Name: "dexflow", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=dexflow sslmode=disable",
		db.DSN())
}

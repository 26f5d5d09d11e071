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
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, LockLocal, cfg.LockBackend)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, int32(6), cfg.Settlement.AmountDecimals)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SPLITVAULT_STORE", "postgres")
	t.Setenv("SPLITVAULT_POSTGRES_DSN", "postgres://localhost/splitvault")
	t.Setenv("SPLITVAULT_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("SPLITVAULT_STORAGE_DEPOSIT", "2039280")
	t.Setenv("SPLITVAULT_ALLOW_POOL_OVERFUNDING", "true")
	t.Setenv("SPLITVAULT_RATE_LIMIT_REQUESTS", "10")
	t.Setenv("SPLITVAULT_RATE_LIMIT_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, uint64(2039280), cfg.Settlement.StorageDeposit)
	assert.True(t, cfg.Settlement.AllowPoolOverfunding)
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without dsn", map[string]string{"SPLITVAULT_STORE": "postgres"}},
		{"redis lock without url", map[string]string{"SPLITVAULT_LOCK": "redis"}},
		{"unknown store", map[string]string{"SPLITVAULT_STORE": "sqlite"}},
		{"relay without postgres", map[string]string{"SPLITVAULT_KAFKA_BROKERS": "a:9092"}},
		{"decimals out of range", map[string]string{"SPLITVAULT_AMOUNT_DECIMALS": "19"}},
		{"zero rate limit", map[string]string{"SPLITVAULT_RATE_LIMIT_REQUESTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

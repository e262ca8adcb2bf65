package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("COMMIT_TIMEOUT", "")
	t.Setenv("SYNC_RETRIES", "")
	t.Setenv("APP_ENV", "")

	cfg := Load()
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.CommitTimeout)
	assert.Equal(t, 3, cfg.SyncRetries)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("COMMIT_TIMEOUT", "750ms")
	t.Setenv("SYNC_RETRIES", "0")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("APP_ENV", "production")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.CommitTimeout)
	assert.Equal(t, 0, cfg.SyncRetries)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.True(t, cfg.Production())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("COMMIT_TIMEOUT", "soon")
	t.Setenv("INVENTORY_WORKERS", "-2")

	cfg := Load()
	assert.Equal(t, 3*time.Second, cfg.CommitTimeout)
	assert.Equal(t, 4, cfg.InventoryWorkers)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadConfig_DefaultsAndFile(t *testing.T) {
	dir := writeConfig(t, `
db:
  driver: memory
redis:
  addr: localhost:6379
queue:
  max_retries: 5
`)
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, DBMemory, cfg.DB.Driver)
	assert.Equal(t, StorageLocal, cfg.Storage.Driver)
	assert.Equal(t, EventsMemory, cfg.Events.Driver)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, int64(10<<20), cfg.Upload.MaxBytes)
	assert.Equal(t, 200, cfg.Transcoder.ImageThumbnailWidth)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := writeConfig(t, "db:\n  driver: memory\n")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("EVENTS_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("UPLOAD_MAX_BYTES", "1024")
	t.Setenv("WORKER_JOB_TIMEOUT", "30s")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(1024), cfg.Upload.MaxBytes)
	assert.Equal(t, 30*time.Second, cfg.Worker.JobTimeout)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	var cfg Config
	cfg.DB.Driver = DBPostgres
	cfg.Storage.Driver = StorageMinio
	cfg.Events.Driver = EventsKafka

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"db.dsn", "minio.endpoint", "kafka.brokers", "redis.addr", "queue.concurrency", "worker.job_timeout"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_UnknownDrivers(t *testing.T) {
	var cfg Config
	cfg.DB.Driver = "sqlite"
	cfg.Storage.Driver = "ftp"
	cfg.Events.Driver = "nats"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown db.driver "sqlite"`)
	assert.Contains(t, err.Error(), `unknown storage.driver "ftp"`)
	assert.Contains(t, err.Error(), `unknown events.driver "nats"`)
}

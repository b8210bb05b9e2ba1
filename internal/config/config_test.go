package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
environment: staging
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["https://app.fanmail.io"]

database:
  url: "postgres://localhost/fanmail"

quota:
  daily_limit: 200000
  window_limit: 50
  window_millis: 500

sending:
  provider: sparkpost
  default_batch_size: 100
  require_verified_domain: true

sparkpost:
  api_key: "test-api-key"
  timeout_seconds: 45

worker:
  workers: 8
  recovery_spec: "@every 30s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"https://app.fanmail.io"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/fanmail", cfg.Database.URL)

	assert.Equal(t, 200000, cfg.Quota.DailyLimit)
	assert.Equal(t, 50, cfg.Quota.WindowLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Quota.WindowSize())

	assert.Equal(t, "sparkpost", cfg.Sending.Provider)
	assert.Equal(t, 100, cfg.Sending.DefaultBatchSize)
	assert.Equal(t, 500, cfg.Sending.MaxBatchSize)
	assert.True(t, cfg.Sending.RequireVerifiedDomain)

	assert.Equal(t, "test-api-key", cfg.SparkPost.APIKey)
	assert.Equal(t, 45*time.Second, cfg.SparkPost.Timeout())

	assert.Equal(t, 8, cfg.Worker.Workers)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, "@every 30s", cfg.Worker.RecoverySpec)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout())
	assert.Equal(t, 50000, cfg.Quota.DailyLimit)
	assert.Equal(t, 14, cfg.Quota.WindowLimit)
	assert.Equal(t, time.Second, cfg.Quota.WindowSize())
	assert.Equal(t, "ses", cfg.Sending.Provider)
	assert.Equal(t, 25, cfg.Sending.DefaultBatchSize)
	assert.Equal(t, 15*time.Second, cfg.Sending.LockWait())
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 30*time.Second, cfg.Worker.SendTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Worker.Lease())
	assert.Equal(t, 30*time.Second, cfg.Worker.LockTTL())
	assert.Equal(t, "@every 1m", cfg.Worker.RecoverySpec)
	assert.Equal(t, 100, cfg.Worker.MaxErrors)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: [oops\n"))
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	path := writeConfig(t, `
sending:
  provider: ses
quota:
  daily_limit: 100
`)
	t.Setenv("DATABASE_URL", "postgres://env/fanmail")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ESP_PROVIDER", "SparkPost")
	t.Setenv("SPARKPOST_API_KEY", "env-key")
	t.Setenv("AWS_SES_REGION", "eu-west-1")
	t.Setenv("QUOTA_DAILY_LIMIT", "2500")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("REQUIRE_VERIFIED_DOMAIN", "true")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/fanmail", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "sparkpost", cfg.Sending.Provider)
	assert.Equal(t, "env-key", cfg.SparkPost.APIKey)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, 2500, cfg.Quota.DailyLimit)
	assert.Equal(t, 2, cfg.Worker.Workers)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Sending.RequireVerifiedDomain)
}

func TestLoadFromEnv_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("QUOTA_WINDOW_LIMIT", "20")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Quota.WindowLimit)
}

func TestLoadFromEnv_RejectsBadNumbers(t *testing.T) {
	t.Setenv("QUOTA_DAILY_LIMIT", "lots")
	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "QUOTA_DAILY_LIMIT")
}

func TestServerAddr(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	c := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", c.Addr())

	t.Setenv("SERVER_HOST", "10.1.2.3")
	assert.Equal(t, "10.1.2.3:9000", c.Addr())
}

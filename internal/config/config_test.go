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
	path := filepath.Join(t.TempDir(), "judged.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults_load_without_a_file", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost:5432/judged")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, ":8086", cfg.HTTP.Addr)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "judge_jobs", cfg.MQ.QueueName)
		assert.Equal(t, "judge_results", cfg.MQ.ResultQueueName)
		assert.Equal(t, "judge_jobs_dlq", cfg.MQ.DLQQueueName)
		assert.True(t, cfg.MQ.Enabled)
		assert.Equal(t, 3, cfg.MQ.DLQ.MaxRetries)
		assert.Equal(t, time.Second, cfg.MQ.DLQ.BaseDelay())
		assert.Equal(t, time.Minute, cfg.MQ.DLQ.MaxDelay())
		assert.Equal(t, 15*time.Minute, cfg.MQ.DLQ.StuckJobTimeout())
		assert.Equal(t, int64(64<<20), cfg.Blob.MaxSizeBytes)
		assert.Equal(t, 10, cfg.Submission.RateLimitPerMinute)
	})

	t.Run("file_overrides_defaults", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "")
		path := writeConfig(t, `
[log]
level = "debug"

[db]
dsn = "postgres://db:5432/judged"

[mq]
prefetch = 8

[mq.dlq]
max_retries = 5
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "postgres://db:5432/judged", cfg.DB.DSN)
		assert.Equal(t, 8, cfg.MQ.Prefetch)
		assert.Equal(t, 5, cfg.MQ.DLQ.MaxRetries)
		// keys the file does not mention keep their defaults
		assert.Equal(t, ":8086", cfg.HTTP.Addr)
		assert.Equal(t, "judge_jobs", cfg.MQ.QueueName)
	})

	t.Run("env_overrides_file", func(t *testing.T) {
		path := writeConfig(t, `
[log]
level = "debug"

[db]
dsn = "postgres://file:5432/judged"
`)
		t.Setenv("JUDGED_LOG_LEVEL", "warn")
		t.Setenv("JUDGED_DB_DSN", "postgres://env:5432/judged")
		t.Setenv("JUDGED_MQ_DLQ_MAX_RETRIES", "7")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "postgres://env:5432/judged", cfg.DB.DSN)
		assert.Equal(t, 7, cfg.MQ.DLQ.MaxRetries)
	})

	t.Run("named_file_must_exist", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost/judged")
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.ErrorContains(t, err, "read config")
	})

	t.Run("malformed_file_is_an_error", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost/judged")
		_, err := Load(writeConfig(t, "[mq\nbroken"))
		assert.ErrorContains(t, err, "parse config")
	})

	t.Run("missing_dsn_fails_validation", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "")
		_, err := Load("")
		assert.ErrorContains(t, err, "db.dsn")
	})

	t.Run("zero_scan_interval_fails_validation", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost/judged")
		_, err := Load(writeConfig(t, `
[mq.dlq]
stuck_job_scan_interval_secs = 0
`))
		assert.ErrorContains(t, err, "scan interval")
	})

	t.Run("duplicate_queue_names_fail_validation", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost/judged")
		_, err := Load(writeConfig(t, `
[mq]
queue_name = "judge_jobs"
result_queue_name = "judge_jobs"
`))
		assert.ErrorContains(t, err, "distinct")
	})

	t.Run("mq_disabled_skips_broker_validation", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost/judged")
		cfg, err := Load(writeConfig(t, `
[mq]
enabled = false
url = ""
`))
		require.NoError(t, err)
		assert.False(t, cfg.MQ.Enabled)
	})

	t.Run("zero_blob_limit_fails_validation", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost/judged")
		_, err := Load(writeConfig(t, `
[blob]
max_size_bytes = 0
`))
		assert.ErrorContains(t, err, "blob.max_size_bytes")
	})

	t.Run("base_delay_above_max_fails_validation", func(t *testing.T) {
		t.Setenv("JUDGED_DB_DSN", "postgres://localhost/judged")
		_, err := Load(writeConfig(t, `
[mq.dlq]
base_delay_ms = 5000
max_delay_ms = 1000
`))
		assert.ErrorContains(t, err, "max_delay_ms")
	})
}

func TestGetBool(t *testing.T) {
	t.Run("truthy_values", func(t *testing.T) {
		for _, v := range []string{"1", "true", "T", "yes", "on"} {
			t.Setenv("JUDGED_TEST_BOOL", v)
			assert.True(t, getBool("JUDGED_TEST_BOOL", false), v)
		}
	})

	t.Run("falsy_values", func(t *testing.T) {
		for _, v := range []string{"0", "false", "no", "off"} {
			t.Setenv("JUDGED_TEST_BOOL", v)
			assert.False(t, getBool("JUDGED_TEST_BOOL", true), v)
		}
	})

	t.Run("garbage_keeps_default", func(t *testing.T) {
		t.Setenv("JUDGED_TEST_BOOL", "whatever")
		assert.True(t, getBool("JUDGED_TEST_BOOL", true))
	})
}

func TestGetInt(t *testing.T) {
	t.Run("parses_and_trims", func(t *testing.T) {
		t.Setenv("JUDGED_TEST_INT", " 42 ")
		assert.Equal(t, 42, getInt("JUDGED_TEST_INT", 7))
	})

	t.Run("invalid_keeps_default", func(t *testing.T) {
		t.Setenv("JUDGED_TEST_INT", "4x2")
		assert.Equal(t, 7, getInt("JUDGED_TEST_INT", 7))
	})
}

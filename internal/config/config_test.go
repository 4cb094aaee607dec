package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcjob/internal/plugin"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "WORKER_PORT", "CALCJOB_DEFAULT_EXECUTOR", "CALCJOB_DEFAULT_STORAGE", "CALCJOB_PLUGIN_CACHE_SIZE", "ARTIFACT_S3_USE_SSL", "CALCJOB_JOB_ROOT"} {
		t.Setenv(key, "")
	}
	cfg, err := Load("gateway", nil)
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, ":8082", cfg.WorkerPort)
	assert.Equal(t, "jobs", cfg.JobRoot)
	assert.Nil(t, cfg.DefaultExecutor)
	assert.Nil(t, cfg.Artifact.UseSSL)
	assert.Equal(t, 0, cfg.PluginCacheSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WORKER_PORT", ":9001")
	t.Setenv("CALCJOB_DEFAULT_EXECUTOR", `{"type":"async","pool":"gpu"}`)
	t.Setenv("CALCJOB_DEFAULT_STORAGE", `"{\"type\":\"s3\"}"`)
	t.Setenv("CALCJOB_PLUGIN_CACHE_SIZE", "16")
	t.Setenv("ARTIFACT_S3_USE_SSL", "false")
	t.Setenv("ARTIFACT_S3_BUCKET", "results")

	cfg, err := Load("gateway", []string{"-port", ":7000"})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, ":9001", cfg.WorkerPort)
	assert.Equal(t, plugin.Config{"type": "async", "pool": "gpu"}, cfg.DefaultExecutor)
	assert.Equal(t, "s3", cfg.DefaultStorage.Type())
	assert.Equal(t, 16, cfg.PluginCacheSize)
	require.NotNil(t, cfg.Artifact.UseSSL)
	assert.False(t, *cfg.Artifact.UseSSL)
	assert.Equal(t, "results", cfg.StorageEnv().S3.Bucket)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CALCJOB_DEFAULT_EXECUTOR", "local")
	_, err := Load("gateway", nil)
	assert.Error(t, err)

	t.Setenv("CALCJOB_DEFAULT_EXECUTOR", "")
	t.Setenv("CALCJOB_PLUGIN_CACHE_SIZE", "-1")
	_, err = Load("gateway", nil)
	assert.Error(t, err)
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)

	path := filepath.Join(t.TempDir(), "jobctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server: http://gw:8081
transport: ws
executor:
  type: dispatcher
  url: http://worker:8082
poll_interval: 2s
timeout: 1m
terminate_on_timeout: true
`), 0o644))
	cfg, err = LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws", cfg.Transport)
	assert.Equal(t, "dispatcher", cfg.Executor["type"])
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.True(t, cfg.TerminateOnTimeout)
	assert.Nil(t, cfg.Storage)

	require.NoError(t, os.WriteFile(path, []byte("transport: grpc\n"), 0o644))
	_, err = LoadClientConfig(path)
	assert.Error(t, err)
}

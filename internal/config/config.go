// Package config loads process settings for the gateway, worker and client
// commands from .env, flags and the environment.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"calcjob/internal/plugin"
	"calcjob/internal/storage"
	"calcjob/internal/util/jsonutil"
)

type Config struct {
	Port       string
	WorkerPort string
	Log        LogConfig

	// InputRoot receives downloaded job inputs.
	InputRoot string
	// LocalStorageRoot backs the local storage plugin.
	LocalStorageRoot string
	// JobRoot holds job directories of the local and async executors.
	JobRoot string

	DefaultExecutor plugin.Config
	DefaultStorage  plugin.Config

	Artifact ArtifactConfig
	// PluginCacheSize bounds the resolved-plugin caches; 0 disables them.
	PluginCacheSize int
}

type LogConfig struct {
	Level  string
	Format string
}

// ArtifactConfig holds the defaults of the s3 storage plugin.
type ArtifactConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    *bool
}

// S3 converts c for storage.Env.
func (c ArtifactConfig) S3() storage.S3Config {
	return storage.S3Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	}
}

// StorageEnv returns the process defaults of the storage plugins.
func (c *Config) StorageEnv() storage.Env {
	return storage.Env{LocalRoot: c.LocalStorageRoot, S3: c.Artifact.S3()}
}

// Load reads .env (if present), then parses args as flags of the command
// called name, then lets the environment override.
func Load(name string, args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	port := fs.String("port", ":8081", "gateway listen address")
	workerPort := fs.String("worker-port", ":8082", "worker listen address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		*port = normalizePort(envPort)
	}
	if envPort := os.Getenv("WORKER_PORT"); envPort != "" {
		*workerPort = normalizePort(envPort)
	}

	defaultExecutor, err := configFromEnv("CALCJOB_DEFAULT_EXECUTOR")
	if err != nil {
		return nil, err
	}
	defaultStorage, err := configFromEnv("CALCJOB_DEFAULT_STORAGE")
	if err != nil {
		return nil, err
	}
	cacheSize := 0
	if raw := strings.TrimSpace(os.Getenv("CALCJOB_PLUGIN_CACHE_SIZE")); raw != "" {
		cacheSize, err = strconv.Atoi(raw)
		if err != nil || cacheSize < 0 {
			return nil, fmt.Errorf("CALCJOB_PLUGIN_CACHE_SIZE must be a non-negative integer, got %q", raw)
		}
	}

	return &Config{
		Port:       *port,
		WorkerPort: *workerPort,
		Log: LogConfig{
			Level:  firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
			Format: firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "json"),
		},
		InputRoot:        firstNonEmpty(strings.TrimSpace(os.Getenv("CALCJOB_INPUT_ROOT")), "inputs"),
		LocalStorageRoot: firstNonEmpty(strings.TrimSpace(os.Getenv("CALCJOB_LOCAL_STORAGE_ROOT")), "storage"),
		JobRoot:          firstNonEmpty(strings.TrimSpace(os.Getenv("CALCJOB_JOB_ROOT")), "jobs"),
		DefaultExecutor:  defaultExecutor,
		DefaultStorage:   defaultStorage,
		Artifact:         loadArtifactConfig(),
		PluginCacheSize:  cacheSize,
	}, nil
}

func loadArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Endpoint:  strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "calcjob-artifacts"),
		UseSSL:    resolveArtifactUseSSL(),
	}
}

// resolveArtifactUseSSL returns nil when unset so the plugin config can
// decide.
func resolveArtifactUseSSL() *bool {
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		v = true
	}
	return &v
}

func configFromEnv(key string) (plugin.Config, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	obj, err := jsonutil.DecodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return plugin.Config(obj), nil
}

func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Package config builds the immutable runtime configuration from the
// process environment. It is constructed once at startup and passed by
// reference into every component; nothing here is mutated afterward.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Backend selects which Blob Store implementation is active. Only one
// backend is live per process; there is no runtime switching.
type Backend string

const (
	BackendDatabase Backend = "database"
	BackendS3       Backend = "s3"
)

// Config is the frozen configuration for one docsbuild process.
type Config struct {
	DatabaseURL string
	MaxPoolSize int
	MinPoolIdle int

	StorageBackend Backend
	S3Bucket       string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string

	Prefix    string // workspace root on local disk
	Toolchain string // pinned toolchain version, e.g. "1.78.0"

	BuildCPULimit float64 // cores
	InsideDocker  bool
	LocalDockerImage string

	RegistryIndexURL  string
	RegistryIndexPath string
	RegistryAPIURL    string
	RegistryPollInterval time.Duration

	LogLevel string
}

// FromEnv reads and validates the configuration from the process
// environment. It fails fast (configuration errors are fatal at
// startup, per the error-handling design) rather than deferring
// validation to first use.
func FromEnv() (*Config, error) {
	c := &Config{
		MaxPoolSize: 90,
		MinPoolIdle: 10,
		LogLevel:    "info",
	}

	c.DatabaseURL = os.Getenv("DATABASE_URL")
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	c.StorageBackend = Backend(getenvDefault("STORAGE_BACKEND", string(BackendDatabase)))
	switch c.StorageBackend {
	case BackendDatabase, BackendS3:
	default:
		return nil, fmt.Errorf("config: invalid STORAGE_BACKEND %q (want %q or %q)", c.StorageBackend, BackendDatabase, BackendS3)
	}

	c.S3Bucket = os.Getenv("S3_BUCKET")
	c.S3Endpoint = os.Getenv("S3_ENDPOINT")
	c.S3Region = getenvDefault("S3_REGION", "us-east-1")
	c.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	c.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	if c.StorageBackend == BackendS3 && c.S3Bucket == "" {
		return nil, fmt.Errorf("config: S3_BUCKET is required when STORAGE_BACKEND=s3")
	}

	c.Prefix = getenvDefault("PREFIX", ".")
	c.Toolchain = os.Getenv("TOOLCHAIN")

	c.RegistryIndexURL = getenvDefault("REGISTRY_INDEX_URL", "https://github.com/rust-lang/crates.io-index")
	c.RegistryIndexPath = getenvDefault("REGISTRY_INDEX_PATH", filepath.Join(c.Prefix, "crates.io-index"))
	c.RegistryAPIURL = getenvDefault("REGISTRY_API_URL", "https://crates.io/api/v1")

	var err error
	if c.MaxPoolSize, err = getenvIntDefault("MAX_POOL_SIZE", 90); err != nil {
		return nil, err
	}
	if c.MinPoolIdle, err = getenvIntDefault("MIN_POOL_IDLE", 10); err != nil {
		return nil, err
	}
	if c.BuildCPULimit, err = getenvFloatDefault("BUILD_CPU_LIMIT", 2.0); err != nil {
		return nil, err
	}
	if c.InsideDocker, err = getenvBoolDefault("INSIDE_DOCKER", false); err != nil {
		return nil, err
	}
	c.LocalDockerImage = os.Getenv("LOCAL_DOCKER_IMAGE")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	pollSeconds, err := getenvIntDefault("REGISTRY_POLL_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	c.RegistryPollInterval = time.Duration(pollSeconds) * time.Second

	return c, nil
}

func getenvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer: %w", key, v, err)
	}
	return n, nil
}

func getenvFloatDefault(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a number: %w", key, v, err)
	}
	return f, nil
}

func getenvBoolDefault(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean: %w", key, v, err)
	}
	return b, nil
}

// PoolTimeouts returns the connection lifetime settings applied to the
// shared *sql.DB, split out since they aren't environment-driven.
func (c *Config) PoolTimeouts() (maxLifetime time.Duration) {
	return 30 * time.Minute
}

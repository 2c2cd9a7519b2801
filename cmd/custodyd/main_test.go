package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testJWTSecret = "test-secret-for-development-only!!"

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("CUSTODY_CONFIG")
	defer os.Setenv("CUSTODY_CONFIG", originalEnv)

	os.Setenv("CUSTODY_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when the database path
// is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
center:
  id: test-center

database:
  path: ""
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18094
  timeouts:
    read: 30
    write: 30
    idle: 60

security:
  jwt:
    secret: "` + testJWTSecret + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("CUSTODY_CONFIG")
	defer os.Setenv("CUSTODY_CONFIG", originalEnv)
	os.Setenv("CUSTODY_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies the default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("CUSTODY_CONFIG")
	defer os.Setenv("CUSTODY_CONFIG", originalEnv)

	os.Unsetenv("CUSTODY_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies the environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("CUSTODY_CONFIG")
	defer os.Setenv("CUSTODY_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("CUSTODY_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_StartupAndShutdown runs the full daemon with MQTT and InfluxDB
// disabled and verifies it starts and shuts down cleanly on context
// cancellation.
func TestRun_StartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "custody.db")

	configContent := `
center:
  id: test-center

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18095
  timeouts:
    read: 30
    write: 30
    idle: 60

security:
  jwt:
    secret: "` + testJWTSecret + `"

retention:
  movement_horizon_days: 365
  prune_interval: 60
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("CUSTODY_CONFIG")
	defer os.Setenv("CUSTODY_CONFIG", originalEnv)
	os.Setenv("CUSTODY_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want clean shutdown", err)
	}

	// The database file must exist after migrations ran.
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file missing after run: %v", err)
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/database"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/logging"
	"github.com/nerrad567/geomodel-core/internal/script"
	"github.com/nerrad567/geomodel-core/internal/table"
)

const loopbackConfig = `
site:
  id: test-table

table:
  transport: loopback
  codec: text
  status_policy: force_ok
  auto_connect: true
  loopback:
    echo: true

database:
  path: "%DB%"
  wal_mode: true
  busy_timeout: 5

history:
  enabled: true
  retention_days: 7

script:
  file: "%SCRIPT%"
  autostart: true

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr

api:
  host: "127.0.0.1"
  port: 18931
  timeouts:
    read: 5
    write: 5
    idle: 5
`

const testScript = `
name: tilt
steps:
  - at: 0s
    device: pitch
    command: SET
    value: 1.5
    seconds: 10
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func setConfigEnv(t *testing.T, path string) {
	t.Helper()
	original, had := os.LookupEnv("GEOMODEL_CONFIG")
	os.Setenv("GEOMODEL_CONFIG", path)
	t.Cleanup(func() {
		if had {
			os.Setenv("GEOMODEL_CONFIG", original)
		} else {
			os.Unsetenv("GEOMODEL_CONFIG")
		}
	})
}

func replaceAll(s string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(s)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	setConfigEnv(t, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, configPath, replaceAll(loopbackConfig, "%DB%", "", "%SCRIPT%", ""))
	setConfigEnv(t, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_BadScript verifies a broken script file aborts startup.
func TestRun_BadScript(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	scriptPath := filepath.Join(tmpDir, "script.yaml")
	writeFile(t, scriptPath, "name: empty\nsteps: []\n")
	writeFile(t, configPath, replaceAll(loopbackConfig,
		"%DB%", filepath.Join(tmpDir, "test.db"),
		"%SCRIPT%", scriptPath,
	))
	setConfigEnv(t, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a script that has no steps")
	}
}

// TestRun_LoopbackStartupAndShutdown starts the full service over the
// loopback transport with MQTT and InfluxDB disabled.
func TestRun_LoopbackStartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")
	scriptPath := filepath.Join(tmpDir, "script.yaml")
	writeFile(t, scriptPath, testScript)
	writeFile(t, configPath, replaceAll(loopbackConfig, "%DB%", dbPath, "%SCRIPT%", scriptPath))
	setConfigEnv(t, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	setConfigEnv(t, "")
	os.Unsetenv("GEOMODEL_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	setConfigEnv(t, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestNewController(t *testing.T) {
	log := logging.Default()
	base := config.Defaults().Table
	base.Transport = config.TransportLoopback

	tests := []struct {
		name    string
		mutate  func(*config.TableConfig)
		wantErr bool
	}{
		{name: "loopback", mutate: func(*config.TableConfig) {}},
		{name: "udp", mutate: func(c *config.TableConfig) { c.Transport = config.TransportUDP }},
		{name: "unknown codec", mutate: func(c *config.TableConfig) { c.Codec = "morse" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *config.TableConfig) { c.Transport = "carrier-pigeon" }, wantErr: true},
		{name: "unknown policy", mutate: func(c *config.TableConfig) { c.StatusPolicy = "trust-me" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)

			ctrl, err := newController(cfg, log)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newController() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && ctrl.IsConnected() {
				t.Error("new controller should start disconnected")
			}
		})
	}
}

type nopSender struct{}

func (nopSender) SendRequest(table.Request) {}

func TestLoadScript(t *testing.T) {
	log := logging.Default()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, testScript)

	t.Run("no file leaves runner idle", func(t *testing.T) {
		runner := script.NewRunner(nopSender{}, script.Options{TickInterval: time.Hour})
		defer runner.Close()

		if err := loadScript(config.ScriptConfig{}, runner, log); err != nil {
			t.Fatalf("loadScript() error = %v", err)
		}
		if got := runner.Status().State; got != script.StateIdle {
			t.Errorf("state = %q, want idle", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		runner := script.NewRunner(nopSender{}, script.Options{TickInterval: time.Hour})
		defer runner.Close()

		cfg := config.ScriptConfig{File: filepath.Join(dir, "missing.yaml")}
		if err := loadScript(cfg, runner, log); err == nil {
			t.Fatal("loadScript() should fail for a missing file")
		}
	})

	t.Run("loaded without autostart", func(t *testing.T) {
		runner := script.NewRunner(nopSender{}, script.Options{TickInterval: time.Hour})
		defer runner.Close()

		if err := loadScript(config.ScriptConfig{File: good}, runner, log); err != nil {
			t.Fatalf("loadScript() error = %v", err)
		}
		status := runner.Status()
		if status.Script != "tilt" || status.State != script.StateIdle {
			t.Errorf("status = %+v, want idle tilt", status)
		}
	})

	t.Run("autostart", func(t *testing.T) {
		runner := script.NewRunner(nopSender{}, script.Options{TickInterval: time.Hour})
		defer runner.Close()

		if err := loadScript(config.ScriptConfig{File: good, Autostart: true}, runner, log); err != nil {
			t.Fatalf("loadScript() error = %v", err)
		}
		if got := runner.Status().State; got != script.StateRunning {
			t.Errorf("state = %q, want running", got)
		}
	})
}

// TestHealthCheck_OptionalClients verifies disabled MQTT and InfluxDB are
// skipped.
func TestHealthCheck_OptionalClients(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "health.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	if err := healthCheck(ctx, db, nil, nil); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}
}

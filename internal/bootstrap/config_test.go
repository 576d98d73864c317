package bootstrap

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/target/reclaim/config"
)

func TestEnabledServices(t *testing.T) {
	got, err := EnabledServices(&config.AppConfig{Services: "reaper, http,finalizer"})
	if err != nil {
		t.Fatalf("EnabledServices() error = %v", err)
	}
	if want := []string{"http", "finalizer", "reaper"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EnabledServices() = %v, want %v", got, want)
	}

	for name, cfg := range map[string]*config.AppConfig{
		"unknown mode": {Services: "bogus"},
		"empty":        {Services: " , "},
		"nil config":   nil,
	} {
		if _, err := EnabledServices(cfg); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestLoadConfig_EnvFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.env")
	if err := os.WriteFile(base, []byte("CATALOG_PATH=/etc/reclaim/catalog.yaml\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables that are already set.
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("CATALOG_PATH", "")
	os.Unsetenv("CATALOG_PATH")

	cfg, err := loadConfig([]string{base, filepath.Join(dir, "missing.env")})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.CatalogPath != "/etc/reclaim/catalog.yaml" {
		t.Errorf("CatalogPath = %q", cfg.CatalogPath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want the process value", cfg.LogLevel)
	}
}

func TestEnvFiles(t *testing.T) {
	t.Setenv(envFilesVar, " a.env, ,b.env ")
	if got := envFiles(); !reflect.DeepEqual(got, []string{"a.env", "b.env"}) {
		t.Fatalf("envFiles() = %v", got)
	}
	os.Unsetenv(envFilesVar)
	if got := envFiles(); !reflect.DeepEqual(got, []string{".env"}) {
		t.Fatalf("envFiles() default = %v", got)
	}
}

func TestNewLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := newLogger(&buf, &config.AppConfig{LogLevel: "warn"})
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "kept" || line["service"] != "reclaim" || line["k"] != "v" {
		t.Errorf("unexpected log line %v", line)
	}
}

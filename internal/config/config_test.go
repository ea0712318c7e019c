package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("unexpected logging config: %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Workers != 1 || cfg.CacheSize != 1024 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.CacheTTL() != 5*time.Minute || cfg.PollInterval() != 10*time.Second {
		t.Errorf("unexpected durations: %v, %v", cfg.CacheTTL(), cfg.PollInterval())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("MAX_PARALLEL", "4")
	t.Setenv("DB_URL", "postgresql://localhost/ensemble")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.HTTPAddr != ":9090" || cfg.MaxParallel != 4 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.DBURL != "postgresql://localhost/ensemble" {
		t.Errorf("unexpected DB_URL: %s", cfg.DBURL)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ensemble.yaml")
	content := "log_format: text\nworkers: 3\nensemble_dir: /etc/ensembles\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// Переменная окружения важнее файла
	t.Setenv("WORKERS", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != "text" || cfg.EnsembleDir != "/etc/ensembles" {
		t.Errorf("file not applied: %+v", cfg)
	}
	if cfg.Workers != 5 {
		t.Errorf("expected env to win, got workers=%d", cfg.Workers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad level", "LOG_LEVEL", "verbose"},
		{"bad format", "LOG_FORMAT", "xml"},
		{"zero workers", "WORKERS", "0"},
		{"bad api url", "API_URL", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Errorf("expected validation error for %s=%s", tt.key, tt.value)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvNamespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "API_TOKEN=from-file\nREGION=eu\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TEST_NS_REGION", "us")
	t.Setenv("TEST_NS_NAME", "prod")
	t.Setenv("UNRELATED", "x")

	cfg := &Config{EnvPrefix: "TEST_NS_", EnvFile: path}
	env, err := cfg.EnvNamespace()
	if err != nil {
		t.Fatalf("env namespace: %v", err)
	}

	want := map[string]string{"API_TOKEN": "from-file", "REGION": "us", "NAME": "prod"}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("env[%s] = %v, want %s", k, env[k], v)
		}
	}
	if _, ok := env["UNRELATED"]; ok {
		t.Error("variables without prefix must not leak into env")
	}

	cfg.EnvFile = filepath.Join(t.TempDir(), "missing.env")
	if _, err := cfg.EnvNamespace(); err == nil {
		t.Error("expected error for missing env file")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins:
    - "https://editor.example.com"
auth:
  jwt_secret: "s3cret"
  required: true
processor:
  workers: 4
  idle_timeout: 0s
  persist_on_submit: true
store:
  driver: sqlite
  path: /var/lib/collab/models.db
tracing:
  enabled: true
  exporter: otlp
  otlp_endpoint: "collector:4317"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr() = %q, want %q", cfg.Addr(), "0.0.0.0:9090")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://editor.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.AuthEnabled() || !cfg.Auth.Required {
		t.Error("auth should be enabled and required")
	}
	if cfg.Processor.Workers != 4 {
		t.Errorf("Processor.Workers = %d, want 4", cfg.Processor.Workers)
	}
	if cfg.Processor.IdleTimeout != 0 {
		t.Errorf("Processor.IdleTimeout = %v, want 0", cfg.Processor.IdleTimeout)
	}
	if !cfg.Processor.PersistOnSubmit {
		t.Error("Processor.PersistOnSubmit = false, want true")
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/var/lib/collab/models.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.OTLPEndpoint != "collector:4317" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Server.KeepAlive != 15*time.Second {
		t.Errorf("Server.KeepAlive = %v, want default 15s", cfg.Server.KeepAlive)
	}
	if cfg.Processor.SubscriberBuffer != 16 {
		t.Errorf("Processor.SubscriberBuffer = %d, want default 16", cfg.Processor.SubscriberBuffer)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("Tracing.SampleRate = %f, want 1.0", cfg.Tracing.SampleRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Store.Driver != "file" {
		t.Errorf("Store.Driver = %q, want default file", cfg.Store.Driver)
	}
	if cfg.AuthEnabled() {
		t.Error("auth should be disabled by default")
	}
	if cfg.Tracing.Enabled {
		t.Error("tracing should be disabled by default")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "required auth without secret", mutate: func(c *Config) { c.Auth.Required = true }, wantErr: true},
		{name: "negative workers", mutate: func(c *Config) { c.Processor.Workers = -1 }, wantErr: true},
		{name: "negative idle timeout", mutate: func(c *Config) { c.Processor.IdleTimeout = -time.Second }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: true},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }, wantErr: true},
		{name: "memory store", mutate: func(c *Config) { c.Store.Driver = "memory" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDiffNoChanges(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	if changes := Diff(a, b); len(changes) != 0 {
		t.Errorf("Diff of identical configs = %v, want empty", changes)
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	old := defaultConfig()
	new := defaultConfig()

	new.Server.Port = 9090
	new.Processor.IdleTimeout = time.Minute
	new.Auth.JWTSecret = "s3cret"
	new.Tracing.Enabled = true

	changes := Diff(old, new)

	found := map[string]bool{}
	for _, c := range changes {
		found[c] = true
	}

	want := []string{
		"server.port: 8080 → 9090",
		"processor.idle_timeout: 5m0s → 1m0s",
		"auth.jwt_secret: changed",
		"tracing.enabled: false → true",
	}
	for _, w := range want {
		if !found[w] {
			t.Errorf("Missing expected change: %q\nGot: %v", w, changes)
		}
	}
	if len(changes) != len(want) {
		t.Errorf("Diff = %v, want %d changes", changes, len(want))
	}
}

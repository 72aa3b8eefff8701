package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeTemp(t, "ttsd.yaml", `
addr: ":9090"
data_dir: /var/lib/ttsd
engine_url: http://engine:5002
default_model: m1
max_text_len: 500
devices:
  cpu: 4
  cuda: 1
queue_depth: 16
models:
  - id: m1
    name: Model One
    languages: [en, de]
    voice_cloning: true
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.DataDir != "/var/lib/ttsd" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Devices["cpu"] != 4 || cfg.Devices["cuda"] != 1 {
		t.Fatalf("devices = %v", cfg.Devices)
	}
	if len(cfg.Models) != 1 || !cfg.Models[0].VoiceCloning || len(cfg.Models[0].Languages) != 2 {
		t.Fatalf("models = %+v", cfg.Models)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTemp(t, "ttsd.json", `{
  "addr": ":7070",
  "queue_wait_seconds": 10,
  "artifact_ttl_seconds": 120,
  "storage_quota_bytes": 1048576
}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.StorageQuotaBytes != 1<<20 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.WithDefaults().QueueWait() != 10*time.Second {
		t.Fatalf("queue wait = %v", cfg.WithDefaults().QueueWait())
	}
	if cfg.WithDefaults().ArtifactTTL() != 2*time.Minute {
		t.Fatalf("ttl = %v", cfg.WithDefaults().ArtifactTTL())
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeTemp(t, "ttsd.toml", `
addr = ":6060"
log_level = "debug"
cors_enabled = true
cors_origins = ["https://example.com"]

[[models]]
id = "vc"
voice_conversion = true
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":6060" || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.CORSEnabled || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("cors = %v %v", cfg.CORSEnabled, cfg.CORSOrigins)
	}
	if len(cfg.Models) != 1 || !cfg.Models[0].VoiceConversion {
		t.Fatalf("models = %+v", cfg.Models)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	p := writeTemp(t, "ttsd.ini", "addr=:8080")
	if _, err := Load(p); err == nil {
		t.Fatal("want error for unsupported extension")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.DefaultFormat != "wav" || cfg.DefaultDevice != "cpu" {
		t.Fatalf("defaults = %q %q", cfg.DefaultFormat, cfg.DefaultDevice)
	}
	if cfg.MaxTextLen != 1000 {
		t.Fatalf("max text len = %d", cfg.MaxTextLen)
	}
	if cfg.Devices["cpu"] != 2 {
		t.Fatalf("devices = %v", cfg.Devices)
	}
	if cfg.ArtifactTTL() != 24*time.Hour {
		t.Fatalf("ttl = %v", cfg.ArtifactTTL())
	}
	if cfg.InferenceTimeout() != 5*time.Minute {
		t.Fatalf("inference timeout = %v", cfg.InferenceTimeout())
	}

	// Explicit values survive.
	cfg = Config{Addr: ":9999", MaxTextLen: 50}.WithDefaults()
	if cfg.Addr != ":9999" || cfg.MaxTextLen != 50 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

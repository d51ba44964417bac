package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppopth/lt-fountain/broadcast"
	"github.com/ppopth/lt-fountain/host"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "fountain.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != host.DefaultPort {
		t.Errorf("listen_port: got %d, want %d", cfg.ListenPort, host.DefaultPort)
	}
	if got, want := cfg.Params(), broadcast.DefaultParams(); got != want {
		t.Errorf("params: got %+v, want %+v", got, want)
	}
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, `
listen_port: 9100
peers:
  - 127.0.0.1:9101
  - 127.0.0.1:9102
transport: stream
chunk_size: 512
repair_interval_ms: 250
session_ttl_ms: 5000
max_sessions: 8
seeded: false
log_level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 9100 {
		t.Errorf("listen_port: got %d, want 9100", cfg.ListenPort)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[1] != "127.0.0.1:9102" {
		t.Errorf("peers: got %v", cfg.Peers)
	}
	params := cfg.Params()
	if params.ChunkSize != 512 {
		t.Errorf("chunk_size: got %d, want 512", params.ChunkSize)
	}
	if params.RepairInterval != 250*time.Millisecond {
		t.Errorf("repair interval: got %v, want 250ms", params.RepairInterval)
	}
	if params.Seeded {
		t.Error("seeded: got true, want false")
	}
	if params.SessionTTL != 5*time.Second || params.MaxSessions != 8 {
		t.Errorf("sessions: got ttl %v, max %d", params.SessionTTL, params.MaxSessions)
	}
	// Untouched fields keep their defaults
	if params.PublishMultiplier != broadcast.DefaultParams().PublishMultiplier {
		t.Errorf("publish multiplier: got %v", params.PublishMultiplier)
	}
	mode, err := cfg.transportMode()
	if err != nil || mode != host.TransportStream {
		t.Errorf("transport: got %v (%v), want stream", mode, err)
	}
	if opts, err := cfg.HostOptions(); err != nil || len(opts) != 3 {
		t.Errorf("host options: got %d (%v)", len(opts), err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != broadcast.DefaultParams().ChunkSize {
		t.Errorf("default chunk size: got %d", cfg.ChunkSize)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "listen_port: [",
		"bad port":        "listen_port: 70000",
		"bad transport":   "transport: carrier-pigeon",
		"bad loss":        "loss_rate: 1",
		"bad chunk size":  "chunk_size: 0",
		"bad delta":       "delta: 1.5",
		"bad c":           "c: 0",
		"bad log level":   "log_level: loud",
		"bad repair":      "repair_interval_ms: 0",
		"bad session ttl": "session_ttl_ms: 0",
		"bad sessions":    "max_sessions: -1",
		"tiny chunks":     "chunk_size: 1",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestSplitPeers(t *testing.T) {
	got := splitPeers(" 127.0.0.1:1, ,127.0.0.1:2,")
	if len(got) != 2 || got[0] != "127.0.0.1:1" || got[1] != "127.0.0.1:2" {
		t.Fatalf("unexpected peers %v", got)
	}
}

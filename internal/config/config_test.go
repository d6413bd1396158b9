package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.SizeMax != 25 {
		t.Errorf("pool.size.max = %d, want 25", cfg.Pool.SizeMax)
	}
	if cfg.SubmitBatchMax != 100 {
		t.Errorf("submit.batch.max = %d, want 100", cfg.SubmitBatchMax)
	}
	if cfg.CreateBatchMax != 1000 {
		t.Errorf("create.batch.max = %d, want 1000", cfg.CreateBatchMax)
	}
	if cfg.Breaker.UtilThreshold != 0.90 {
		t.Errorf("breaker.util-threshold = %v, want 0.90", cfg.Breaker.UtilThreshold)
	}
	if got := cfg.AcquireTimeout(); got != 2*time.Second {
		t.Errorf("AcquireTimeout() = %v, want 2s", got)
	}
	if got := cfg.MonitorInterval(); got != 5*time.Second {
		t.Errorf("MonitorInterval() = %v, want 5s", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ORDERD_POOL_SIZE_MAX", "40")
	t.Setenv("ORDERD_TRADESERVICE_URL", "http://trades.internal:9000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.SizeMax != 40 {
		t.Errorf("pool.size.max = %d, want 40 from env", cfg.Pool.SizeMax)
	}
	if cfg.TradeService.URL != "http://trades.internal:9000" {
		t.Errorf("tradeService.url = %q, want env value", cfg.TradeService.URL)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orderd.yaml")
	content := []byte("submit:\n  batch:\n    max: 250\nserver:\n  addr: \":9090\"\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SubmitBatchMax != 250 {
		t.Errorf("submit.batch.max = %d, want 250 from file", cfg.SubmitBatchMax)
	}
	if cfg.ServerAddr != ":9090" {
		t.Errorf("server.addr = %q, want :9090", cfg.ServerAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGatePermits(t *testing.T) {
	tests := []struct {
		name    string
		pool    int
		permits int
		want    int
	}{
		{"derived from default pool", 25, 0, 10},
		{"derived rounds down", 24, 0, 9},
		{"explicit value kept", 25, 8, 8},
		{"capped at pool minus headroom", 10, 9, 8},
		{"tiny pool still grants one", 2, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Pool: Pool{SizeMax: tt.pool}, Gate: Gate{Permits: tt.permits}}
			if got := c.GatePermits(); got != tt.want {
				t.Errorf("GatePermits() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero pool", map[string]string{"ORDERD_POOL_SIZE_MAX": "0"}},
		{"threshold above one", map[string]string{"ORDERD_BREAKER_UTIL_THRESHOLD": "1.5"}},
		{"permits exceed pool", map[string]string{"ORDERD_GATE_PERMITS": "50"}},
		{"retry bounds inverted", map[string]string{
			"ORDERD_RETRYAFTER_BASE_SECONDS": "300",
			"ORDERD_RETRYAFTER_MAX_SECONDS":  "60",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

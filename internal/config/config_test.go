package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DBDriver)
	}
	if cfg.OrderTTL != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", cfg.OrderTTL)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
http_addr: ":9090"
db_driver: postgres
db_dsn: "host=db user=market"
order_ttl: 15m
sweep_batch_size: 10
kafka_brokers: ["k1:9092", "k2:9092"]
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SWEEP_BATCH_SIZE", "25")
	t.Setenv("KAFKA_BROKERS", "a:1, b:2 ,")
	t.Setenv("PAY_RATE_WINDOW", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.DBDriver != "postgres" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.OrderTTL != 15*time.Minute {
		t.Fatalf("expected 15m ttl, got %s", cfg.OrderTTL)
	}
	if cfg.SweepBatchSize != 25 {
		t.Fatalf("expected env override 25, got %d", cfg.SweepBatchSize)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:2" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.PayRateWindow != 2*time.Second {
		t.Fatalf("expected 2s window, got %s", cfg.PayRateWindow)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "driver", key: "DB_DRIVER", val: "mysql"},
		{name: "batch_not_int", key: "SWEEP_BATCH_SIZE", val: "ten"},
		{name: "batch_zero", key: "SWEEP_BATCH_SIZE", val: "0"},
		{name: "ttl", key: "ORDER_TTL", val: "soon"},
		{name: "discount", key: "MAX_DISCOUNT_PERCENT", val: "100"},
		{name: "rate_window", key: "PAY_RATE_WINDOW", val: "10ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	t.Parallel()

	got := splitCSV(" a, ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected %v", got)
	}
}

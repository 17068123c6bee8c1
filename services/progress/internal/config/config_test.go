package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PROGRESS_GRPC_ADDR", "PROGRESS_STORE", "DATABASE_URL", "REDIS_URL", "PROGRESS_CACHE_TTL", "WORKER_BATCH_SIZE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GRPCAddr != ":9094" || cfg.Store != StoreMemory || cfg.CacheTTL != 5*time.Minute || cfg.Worker.BatchSize != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("PROGRESS_STORE", "Postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/progress")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StorePostgres {
		t.Fatalf("expected postgres, got %q", cfg.Store)
	}
}

func TestLoad_UnknownStore(t *testing.T) {
	t.Setenv("PROGRESS_STORE", "mongo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store")
	}
}

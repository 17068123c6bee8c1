package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	platformconfig "github.com/example/course-platform/internal/platform/config"
)

// Store backends selectable with PROGRESS_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	GRPCAddr    string
	MetricsAddr string
	Store       string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	CacheTTL    time.Duration
	NATSURL     string
	Worker      WorkerConfig
}

// WorkerConfig tunes the beacon consumer.
type WorkerConfig struct {
	Enabled       bool
	BatchSize     int
	BatchInterval time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		GRPCAddr:    platformconfig.String("PROGRESS_GRPC_ADDR", ":9094"),
		MetricsAddr: platformconfig.String("PROGRESS_METRICS_ADDR", ":9464"),
		Store:       strings.ToLower(platformconfig.String("PROGRESS_STORE", StoreMemory)),
		DatabaseURL: platformconfig.String("DATABASE_URL", ""),
		SQLitePath:  platformconfig.String("SQLITE_PATH", "data/progress.db"),
		RedisURL:    platformconfig.String("REDIS_URL", ""),
		CacheTTL:    platformconfig.Duration("PROGRESS_CACHE_TTL", 5*time.Minute),
		NATSURL:     platformconfig.String("NATS_URL", ""),
		Worker: WorkerConfig{
			Enabled:       platformconfig.Bool("PROGRESS_WORKER_ENABLED", true),
			BatchSize:     platformconfig.Int("WORKER_BATCH_SIZE", 100),
			BatchInterval: platformconfig.Duration("WORKER_BATCH_INTERVAL", 2*time.Second),
		},
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 100
	}

	switch cfg.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required when PROGRESS_STORE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown PROGRESS_STORE %q (want memory, postgres or sqlite)", cfg.Store)
	}
	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/platform/analytics"
	"github.com/example/course-platform/internal/platform/config"
	"github.com/example/course-platform/internal/platform/db"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/platform/logging"
	"github.com/example/course-platform/internal/platform/metrics"
	"github.com/example/course-platform/internal/platform/natsconn"
	"github.com/example/course-platform/internal/platform/run"
	"github.com/example/course-platform/internal/platform/telemetry"
	progressconfig "github.com/example/course-platform/services/progress/internal/config"
	"github.com/example/course-platform/services/progress/internal/grpcapi"
	"github.com/example/course-platform/services/progress/internal/store"
	"github.com/example/course-platform/services/progress/internal/tracker"
	"github.com/example/course-platform/services/progress/internal/worker"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	serviceName := config.String("SERVICE_NAME", "progress")
	log, err := logging.NewService(serviceName, config.String("LOG_LEVEL", "info"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := progressconfig.Load()
	if err != nil {
		log.Error("load progress config", zap.Error(err))
		run.Exit(1)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Init(ctx, serviceName, log)
	if err != nil {
		log.Error("init tracing", zap.Error(err))
		run.Exit(1)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	repo, checks, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Error("open store", zap.String("store", cfg.Store), zap.Error(err))
		run.Exit(1)
	}
	defer closeRepo()

	var (
		nc  *nats.Conn
		pub *analytics.Publisher
	)
	if cfg.NATSURL != "" {
		conn, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: serviceName})
		if err != nil {
			log.Error("nats connect", zap.Error(err))
		} else {
			nc = conn
			defer conn.Close()
			js, err := conn.JetStream()
			if err == nil {
				err = natsconn.EnsureStream(js, analytics.Stream, analytics.StreamSubjects)
			}
			if err == nil {
				pub = analytics.New(js, log)
			} else {
				log.Warn("jetstream unavailable, analytics disabled", zap.Error(err))
			}
		}
	}

	trk := tracker.New(repo, pub, log)

	grpcSrv := grpc.NewServer()
	progressv1.RegisterProgressServiceServer(grpcSrv, &grpcapi.ProgressService{Tracker: trk, Logger: log})
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(progressv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("listen", zap.Error(err))
		run.Exit(1)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Metrics: metrics.Handler(),
		ReadyFunc: func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for _, p := range checks {
				if err := p.Ping(pctx); err != nil {
					return err
				}
			}
			return nil
		},
	})
	opsSrv := httpserver.New(httpserver.Options{Addr: cfg.MetricsAddr, ServiceName: serviceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if nc != nil && cfg.Worker.Enabled {
			consumer := worker.NewBeaconConsumer(trk, worker.Options{
				BatchSize:     cfg.Worker.BatchSize,
				BatchInterval: cfg.Worker.BatchInterval,
				Logger:        log,
			})
			if err := consumer.Start(ctx, nc); err != nil {
				log.Error("start beacon consumer", zap.Error(err))
			}
		}

		go func() {
			if err := opsSrv.Start(log); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("ops http server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			healthSrv.Shutdown()
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(run.ShutdownTimeout):
				grpcSrv.Stop()
			}
		}()

		log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr), zap.String("store", cfg.Store))
		return grpcSrv.Serve(lis)
	})

	grpcSrv.GracefulStop()
	runner.Graceful("ops http", opsSrv.Shutdown)
	runner.Graceful("tracing", shutdownTracing)
	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

func openRepository(ctx context.Context, cfg progressconfig.Config, log *zap.Logger) (store.Repository, []pinger, func(), error) {
	var (
		repo    store.Repository
		checks  []pinger
		closers []func()
	)
	switch cfg.Store {
	case progressconfig.StorePostgres:
		pool, err := db.OpenDSN(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		pg := store.NewPostgresRepository(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		repo, checks, closers = pg, append(checks, pg), append(closers, pool.Close)
	case progressconfig.StoreSQLite:
		sq, err := store.NewSQLiteRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		repo, checks, closers = sq, append(checks, sq), append(closers, func() { _ = sq.Close() })
	default:
		repo = store.NewMemory()
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		client := redis.NewClient(opts)
		cached := store.NewCached(repo, client, cfg.CacheTTL, log)
		if err := cached.Ping(ctx); err != nil {
			log.Warn("redis unavailable, cache will be bypassed until it recovers", zap.Error(err))
		}
		repo, closers = cached, append(closers, func() { _ = client.Close() })
	}

	return repo, checks, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	progressv1 "github.com/example/course-platform/api/progress/v1"
	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/config"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/platform/logging"
	"github.com/example/course-platform/internal/platform/metrics"
	"github.com/example/course-platform/internal/platform/natsconn"
	"github.com/example/course-platform/internal/platform/ratelimit"
	"github.com/example/course-platform/internal/platform/run"
	"github.com/example/course-platform/internal/platform/telemetry"
	bffconfig "github.com/example/course-platform/services/bff/internal/config"
	"github.com/example/course-platform/services/bff/internal/grpcclient"
	bffhandlers "github.com/example/course-platform/services/bff/internal/handlers"
	bffhttp "github.com/example/course-platform/services/bff/internal/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.NewService(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	bffCfg, err := bffconfig.LoadBFF()
	if err != nil {
		log.Error("load bff config", zap.Error(err))
		run.Exit(1)
	}

	shutdownTracing, err := telemetry.Init(context.Background(), cfg.ServiceName, log)
	if err != nil {
		log.Error("init tracing", zap.Error(err))
		run.Exit(1)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	progressc, err := grpcclient.NewProgressClient(bffCfg.ProgressGRPCAddr)
	if err != nil {
		log.Error("init progress grpc client", zap.Error(err))
		run.Exit(1)
	}
	defer progressc.Conn.Close()

	var publisher *bffhandlers.EventPublisher
	if bffCfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: bffCfg.NATSURL, Name: cfg.ServiceName})
		if err != nil {
			log.Warn("nats unavailable, beacons fall back to synchronous commits", zap.Error(err))
		} else {
			defer nc.Close()
			js, err := nc.JetStream()
			if err == nil {
				err = natsconn.EnsureStream(js, progressv1.BeaconStream, progressv1.BeaconSubjects)
			}
			if err != nil {
				log.Warn("jetstream unavailable, beacons fall back to synchronous commits", zap.Error(err))
			} else {
				publisher = bffhandlers.NewEventPublisher(js, bffCfg.AsyncWrites)
			}
		}
	}

	r := bffhttp.NewRouter(bffhttp.Deps{
		Verifier: auth.JWTVerifier{Secret: bffCfg.JWTSecret},
		Progress: &bffhandlers.ProgressHandlers{Client: progressc.Client, Publisher: publisher, Logger: log},
		Limiter:  ratelimit.New(bffCfg.RateLimitRPS, bffCfg.RateLimitBurst),
		Metrics:  metrics.Handler(),
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			runner.Graceful("http", srv.Shutdown)
		}()
		log.Info("bff starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("progress_grpc_addr", bffCfg.ProgressGRPCAddr),
			zap.Bool("async_beacons", publisher.Enabled()),
		)
		return srv.Start(log)
	})

	runner.Graceful("http", srv.Shutdown)
	runner.Graceful("tracing", shutdownTracing)
	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

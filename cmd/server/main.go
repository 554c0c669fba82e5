package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"depthbook/api/grpcserver"
	"depthbook/api/httpserver"
	"depthbook/api/ws"
	"depthbook/config"
	"depthbook/infra/codec"
	"depthbook/infra/kafka"
	"depthbook/infra/logger"
	"depthbook/infra/metrics"
	"depthbook/infra/nats"
	entrywal "depthbook/infra/wal/entry"
	exitwal "depthbook/infra/wal/exit"
	"depthbook/jobs/broadcaster"
	"depthbook/jobs/depthcache"
	"depthbook/pkg/ticks"
	"depthbook/service"
	"depthbook/snapshot"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := logger.New(cfg.Log.Level, cfg.Log.JSON)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("engine exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := codec.ParseFormat(cfg.Outbox.Format)
	if err != nil {
		return err
	}
	scale := ticks.Scale(cfg.Book.PriceScale)

	// ---------------- Entry WAL ----------------

	entryWAL, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.WAL.Dir,
		SegmentSize:     cfg.WAL.SegmentSize,
		SegmentDuration: cfg.WAL.SegmentDuration,
		SyncEveryWrite:  cfg.WAL.SyncEveryWrite,
	})
	if err != nil {
		return fmt.Errorf("entry wal: %w", err)
	}
	defer func() { _ = entryWAL.Close() }()

	// ---------------- Exit WAL ----------------

	exitWAL, err := exitwal.Open(cfg.Outbox.Dir)
	if err != nil {
		return fmt.Errorf("exit wal: %w", err)
	}
	defer func() { _ = exitWAL.Close() }()

	// ---------------- Service ----------------

	m := metrics.New("depthbook", cfg.Book.Symbol)
	svc := service.NewOrderService(service.Options{
		Symbol:         cfg.Book.Symbol,
		DepthSize:      cfg.Book.DepthSize,
		MaxCascade:     cfg.Book.MaxCascade,
		MaxDepthLevels: cfg.Book.MaxDepthLevels,
		RetireRing:     cfg.Book.RetireRing,
		Format:         format,
	}, entryWAL, exitWAL, m, log)

	if err := svc.Recover(ctx, cfg.Snapshot.Dir); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	// ---------------- Depth subscribers ----------------

	hub := ws.NewHub(cfg.Book.Symbol, svc.Depth(0), log)
	svc.Subscribe(hub)

	var cache *depthcache.Cache
	if cfg.Redis.Enabled {
		rdb := depthcache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer func() { _ = rdb.Close() }()
		cache = depthcache.New(rdb, cfg.Book.Symbol, cfg.Redis.TTL, log)
		svc.Subscribe(cache)
		if err := cache.Prime(ctx, svc.Depth(0)); err != nil {
			log.Warn("depth cache prime failed", zap.Error(err))
		}
	}

	// ---------------- Background Jobs ----------------

	g, gctx := errgroup.WithContext(ctx)

	publisher, err := newPublisher(cfg)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	if publisher != nil {
		publisher = broadcaster.NewBreakerPublisher(publisher, "outbox", broadcaster.BreakerConfig{
			MaxFailures: cfg.Outbox.BreakerFailures,
			Timeout:     cfg.Outbox.BreakerTimeout,
		})
		bc := broadcaster.New(exitWAL, publisher, broadcaster.Config{
			Interval:   cfg.Outbox.Interval,
			BatchSize:  cfg.Outbox.BatchSize,
			MaxRetries: cfg.Outbox.MaxRetries,
		}, log.Named("broadcaster"), m)
		defer func() { _ = bc.Close() }()
		g.Go(func() error { return bc.Run(gctx) })
	} else {
		log.Warn("no broker configured; events stay in the outbox")
	}

	writer := &snapshot.Writer{Dir: cfg.Snapshot.Dir}
	g.Go(func() error { return svc.RunSnapshots(gctx, writer, cfg.Snapshot.Interval) })

	if cache != nil {
		g.Go(func() error { return cache.Run(gctx) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddress)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcSrv := grpcserver.NewGRPCServer(grpcserver.NewServer(svc, scale), log)
	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddress))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	// ---------------- HTTP ----------------

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr: cfg.Server.HTTPAddress,
		Handler: httpserver.NewServer(svc, scale, log,
			httpserver.WithMetrics(m.Handler()),
			httpserver.WithDepthStream(hub),
			httpserver.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.Server.HTTPAddress))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	log.Info("engine running",
		zap.String("symbol", cfg.Book.Symbol),
		zap.Int("depth", cfg.Book.DepthSize),
		zap.Uint64("last_seq", entryWAL.LastSeq()),
	)

	err = g.Wait()
	log.Info("engine stopped", zap.Error(err))
	return err
}

// newPublisher returns nil when neither Kafka nor NATS is enabled.
func newPublisher(cfg *config.Config) (broadcaster.Publisher, error) {
	switch {
	case cfg.Kafka.Enabled:
		k := cfg.Kafka
		switch k.Client {
		case "kafka-go":
			return kafka.NewProducer(k.Brokers, k.Topic, k.ClientID), nil
		case "sarama", "":
			return broadcaster.NewSaramaPublisher(k.Brokers, k.Topic, k.ClientID)
		default:
			return nil, fmt.Errorf("unknown kafka client %q", k.Client)
		}
	case cfg.NATS.Enabled:
		return nats.Connect(cfg.NATS.URL, cfg.NATS.Subject, cfg.Kafka.ClientID)
	default:
		return nil, nil
	}
}

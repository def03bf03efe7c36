package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/config"
	"campuswallet.org/internal/events"
	"campuswallet.org/internal/httpapi"
	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/obs"
	"campuswallet.org/internal/store/pg"
	"campuswallet.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", os.Getenv("WALLET_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		obs.Logger().Fatal("config", zap.Error(err))
	}
	cfg.Version = version

	logger, err := obs.NewLogger(cfg.Log.Level)
	if err != nil {
		obs.Logger().Fatal("logger", zap.Error(err))
	}
	defer obs.SetLogger(logger.With(zap.String("service", "campuswallet-api")))()
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg); err != nil {
		obs.Logger().Fatal("api_exit", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	log := obs.Logger()

	store, err := pg.Open(cfg.Store.DSN, pg.Options{
		Timeout:         cfg.Store.Timeout,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		BreakerFailures: cfg.Store.BreakerFailures,
		BreakerOpenFor:  cfg.Store.BreakerOpenFor,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}

	live := stream.New(32)
	publishers := events.Multi{live}
	var notifier auth.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publishers = append(publishers, kp)

		kn := events.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		defer kn.Close()
		notifier = kn
		log.Info("kafka_enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	svc := ledger.NewService(store, ledger.WithObserver(events.NewLedgerObserver(publishers)))
	verify := auth.NewVerificationService(store, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go verify.RunSweeper(ctx, cfg.Store.CodeSweepEvery)

	probe := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(svc, tokens,
		httpapi.WithVerification(verify),
		httpapi.WithStream(live),
		httpapi.WithReadiness(probe),
		httpapi.WithVersion(cfg.Version),
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSec),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: /v1/stream holds the response open
	}

	errc := make(chan error, 2)
	go func() {
		log.Info("http_listen", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if cfg.GRPC.Addr != "" {
		grpcSrv, health := httpapi.NewGRPCServer(probe)
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		go health.Run(ctx, 10*time.Second)
		go func() {
			log.Info("grpc_listen", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				errc <- err
			}
		}()
		defer grpcSrv.GracefulStop()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	log.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

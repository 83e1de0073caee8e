package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"parking-service/internal/bank"
	"parking-service/internal/barrier"
	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/dedup"
	"parking-service/internal/domain/parking"
	"parking-service/internal/events"
	httphandler "parking-service/internal/http"
	"parking-service/internal/logger"
	"parking-service/internal/recognition"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/internal/tariff"
	"parking-service/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("PARKING_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Log, cfg.Telemetry.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(cfg.Telemetry, log)

	gormDB, err := db.Open(cfg.DB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get database handle")
	}
	defer sqlDB.Close()

	repo := repository.NewParkingRepository(gormDB)

	var cache dedup.HotCache = dedup.NewMemoryCache(cfg.Parking.DedupCacheSize, cfg.Parking.DedupLogWindow)
	if client := dedup.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); client != nil {
		defer client.Close()
		cache = dedup.NewRedisCache(client, cfg.Redis.Prefix)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis dedup cache enabled")
	} else if cfg.Redis.Addr != "" {
		log.Warn().Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-memory dedup cache")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQ.URL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.RabbitMQ, log.With().Str("component", "events").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable, events disabled")
		} else {
			defer amqpPub.Close()
			publisher = amqpPub
		}
	}

	var provider service.PaymentProvider
	bankClient := bank.NewClient(cfg.Bank, log.With().Str("component", "bank").Logger())
	if bankClient.Configured() {
		provider = bankClient
	} else {
		log.Warn().Msg("bank client not configured, QR issuance disabled")
	}

	gates := barrier.NewController(cfg.Barriers, log.With().Str("component", "barrier").Logger())
	cameras := service.NewCameras(cfg.Cameras)
	recognizer := recognition.New(cfg.Parking.MinPlateLength)
	tariffs := tariff.NewProvider(repo, tariff.FromConfig(cfg.Tariff), log.With().Str("component", "tariff").Logger())

	admin := service.NewAdminService(repo, tariffs, gates, recognizer, parking.Mode(cfg.Parking.Mode),
		log.With().Str("component", "admin").Logger())
	sessions := service.NewSessionService(repo, tariffs, admin, gates, publisher, cfg.Parking, cfg.Location(),
		log.With().Str("component", "sessions").Logger())
	payments := service.NewPaymentService(repo, provider, gates, cameras, publisher, cfg.Payment,
		log.With().Str("component", "payments").Logger())
	dd := dedup.New(cache, repo, dedup.Config{
		Interval:  cfg.Parking.DetectionInterval,
		LogWindow: cfg.Parking.DedupLogWindow,
	}, log.With().Str("component", "dedup").Logger())
	camera := service.NewCameraService(recognizer, dd, repo, sessions, cameras, cfg.Parking.EventRetention,
		log.With().Str("component", "camera").Logger())

	if n, err := sessions.SweepTimeouts(ctx); err != nil {
		log.Error().Err(err).Msg("startup timeout sweep failed")
	} else if n > 0 {
		log.Info().Int("closed", n).Msg("startup timeout sweep")
	}

	router := httphandler.NewRouter(cfg.HTTP, log.With().Str("component", "http").Logger())
	httphandler.NewHandler(camera, sessions, payments, admin, sqlDB, cfg, log.With().Str("component", "http").Logger()).
		Register(router, httphandler.AuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.AdminRole))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      otelhttp.NewHandler(router, cfg.Telemetry.ServiceName),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("mode", string(admin.Mode(gctx))).Msg("parking service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		every(gctx, cfg.Parking.SweepInterval, func(ctx context.Context) {
			if n, err := sessions.SweepTimeouts(ctx); err != nil {
				log.Error().Err(err).Msg("timeout sweep failed")
			} else if n > 0 {
				log.Info().Int("closed", n).Msg("timed out sessions closed")
			}
			if n, err := camera.CleanupEvents(ctx); err != nil {
				log.Error().Err(err).Msg("event cleanup failed")
			} else if n > 0 {
				log.Info().Int64("deleted", n).Msg("old camera events deleted")
			}
		})
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Payment.PollInterval, func(ctx context.Context) {
			if n, err := payments.PollPending(ctx); err != nil {
				log.Error().Err(err).Msg("payment poll failed")
			} else if n > 0 {
				log.Info().Int("settled", n).Msg("pending payments settled")
			}
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
	}

	tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(tctx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown failed")
	}
	log.Info().Msg("parking service stopped")
}

// every runs fn on each tick until ctx is done. A non-positive interval disables it.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

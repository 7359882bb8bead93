package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"widesquare/authz"
	"widesquare/booking"
	"widesquare/config"
	"widesquare/db"
	"widesquare/identity"
	"widesquare/listing"
	"widesquare/migrations"
	"widesquare/notify"
	"widesquare/storage"
	"widesquare/tracing"
)

func main() {
	loadLocalEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg)
	log.Logger = logger

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, logger, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
		return err
	}
	logger.Info().Msg("database ready")

	mongoClient, err := storage.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	images, err := storage.NewGridFSStore(mongoClient.Database(cfg.MongoDatabase), cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	sender, closeSender, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSender()
	dispatcher := notify.NewDispatcher(sender, cfg.AdminEmails, logger.With().Str("component", "notify").Logger())

	identityService := identity.NewService(identity.NewRepository(pool), cfg.JWTSecret).
		WithNotifier(dispatcher).
		WithLogger(logger.With().Str("component", "identity").Logger()).
		WithTokenTTL(cfg.JWTTTL).
		WithResetTokenTTL(cfg.ResetTokenTTL)

	listingRepo := listing.NewRepository(pool)
	listingService := listing.NewService(listingRepo, identityService, images, dispatcher,
		logger.With().Str("component", "listing").Logger())
	bookingService := booking.NewService(booking.NewRepository(pool), listingRepo, identityService, dispatcher,
		logger.With().Str("component", "booking").Logger())

	srv := &Server{
		identityService: identityService,
		listingService:  listingService,
		bookingService:  bookingService,
		images:          images,
		gate:            authz.NewGate(identityService, identityService, authz.NewAllowList(cfg.AdminEmails)),
		db:              pool,
		log:             logger,
	}
	httpServer := newHTTPServer(cfg.HTTPAddress(), srv.handler(cfg.CORSOrigins))

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	identityService.Wait()
	return nil
}

// newSender picks the Redis mail queue when REDIS_URL is configured and the
// log sender otherwise.
func newSender(ctx context.Context, cfg config.Config, logger zerolog.Logger) (notify.Sender, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set; notifications are written to the log")
		return notify.NewLogSender(logger.With().Str("component", "mail").Logger()), func() {}, nil
	}
	queue, err := notify.NewRedisQueue(ctx, cfg.RedisURL, cfg.NotifyQueue)
	if err != nil {
		return nil, nil, err
	}
	return queue, func() { _ = queue.Close() }, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Development() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found; relying on existing environment")
	}
}

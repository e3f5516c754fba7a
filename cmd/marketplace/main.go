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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/costume-exchange/internal/auth"
	"github.com/vasiliy-maslov/costume-exchange/internal/cart"
	"github.com/vasiliy-maslov/costume-exchange/internal/config"
	"github.com/vasiliy-maslov/costume-exchange/internal/db"
	"github.com/vasiliy-maslov/costume-exchange/internal/events"
	httpapi "github.com/vasiliy-maslov/costume-exchange/internal/handler/http"
	"github.com/vasiliy-maslov/costume-exchange/internal/listing"
	"github.com/vasiliy-maslov/costume-exchange/internal/mailer"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
	"github.com/vasiliy-maslov/costume-exchange/internal/payment"
	"github.com/vasiliy-maslov/costume-exchange/internal/redisx"
	"github.com/vasiliy-maslov/costume-exchange/internal/storage"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

type publisher interface {
	order.EventPublisher
	Close() error
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), ".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App)

	log.Info().Str("env", cfg.App.Env).Msg("Costume exchange starting...")

	ctx := context.Background()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.Migrate(cfg.Postgres.MigrationsPath, cfg.Postgres.DBName); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	redisClient, err := redisx.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer redisClient.Close()

	var eventPublisher publisher = events.LogPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		eventPublisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka publisher configured")
	}
	defer func() {
		if err := eventPublisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to flush event publisher")
		}
	}()

	images, uploadsDir, err := newImageStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure image storage")
	}

	mailSender, err := newMailSender(ctx, cfg.Mail)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure mailer")
	}

	gateway := payment.WithCircuitBreaker(
		payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil),
		payment.DefaultBreakerSettings(),
	)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)

	userRepository := user.NewRepository(pg.Pool)
	userSvc := user.NewService(userRepository, mailer.New(mailSender), cfg.App.BaseURL)

	listingSvc := listing.NewService(listing.NewRepository(pg.SQL), images)
	cartSvc := cart.NewService(cart.NewRedisStore(redisClient), listingSvc)

	paymentSvc := payment.NewService(gateway, userRepository, cfg.App.CommissionRate, cfg.App.Currency)
	orderSvc := order.NewService(
		order.NewRepository(pg.Pool),
		userSvc,
		paymentSvc,
		eventPublisher,
		redisx.NewIdempotencyStore(redisClient, redisx.DefaultIdempotencyTTL),
	)
	paymentSvc.SetOrderReader(orderSvc)

	connectSvc := payment.NewConnectService(gateway, userRepository, cfg.Stripe.RefreshURL, cfg.Stripe.ReturnURL)
	webhooks := payment.NewWebhookProcessor(gateway, connectSvc, paymentSvc, orderSvc)

	router := httpapi.NewRouter(httpapi.Handlers{
		Auth:     httpapi.NewAuthHandler(userSvc, tokens),
		Users:    httpapi.NewUserHandler(userSvc, orderSvc),
		Costumes: httpapi.NewCostumeHandler(listingSvc),
		Orders:   httpapi.NewOrderHandler(orderSvc, cartSvc),
		Cart:     httpapi.NewCartHandler(cartSvc),
		Stripe:   httpapi.NewStripeHandler(connectSvc, webhooks),
	}, tokens, uploadsDir)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Costume exchange stopped gracefully")
}

func setupLogger(app config.AppConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(app.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", app.Name).Logger()
}

// newImageStore возвращает хранилище изображений и каталог для раздачи через /uploads (только для local).
func newImageStore(ctx context.Context, cfg *config.Config) (listing.ImageStore, string, error) {
	if cfg.Storage.Driver == "s3" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return nil, "", err
		}
		log.Info().Str("bucket", cfg.Storage.Bucket).Msg("Using S3 image storage")
		return storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Storage.Bucket, cfg.Storage.PublicBaseURL), "", nil
	}

	publicURL := cfg.Storage.PublicBaseURL
	if publicURL == "" {
		publicURL = "http://localhost:" + cfg.App.Port + "/uploads"
	}
	local, err := storage.NewLocalStore(cfg.Storage.LocalDir, publicURL)
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("dir", local.Dir()).Msg("Using local image storage")
	return local, local.Dir(), nil
}

func newMailSender(ctx context.Context, cfg config.MailConfig) (mailer.Sender, error) {
	if cfg.Driver != "ses" {
		return mailer.LogSender{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	return mailer.NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.From), nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/extraction/internal/config"
	"github.com/ehr/extraction/internal/domain/batch"
	"github.com/ehr/extraction/internal/domain/extraction"
	"github.com/ehr/extraction/internal/domain/mapping"
	"github.com/ehr/extraction/internal/domain/population"
	"github.com/ehr/extraction/internal/domain/template"
	"github.com/ehr/extraction/internal/domain/terminology"
	"github.com/ehr/extraction/internal/domain/validation"
	"github.com/ehr/extraction/internal/platform/auth"
	"github.com/ehr/extraction/internal/platform/blobstore"
	"github.com/ehr/extraction/internal/platform/cache"
	"github.com/ehr/extraction/internal/platform/db"
	"github.com/ehr/extraction/internal/platform/events"
	"github.com/ehr/extraction/internal/platform/extractor"
	"github.com/ehr/extraction/internal/platform/middleware"
)

const maxJSONBody = 1 << 20

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, db.Pinger, error) {
	switch cfg.BlobBackend {
	case "s3":
		s, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "azure":
		s, err := blobstore.NewAzureStore(cfg.AzureConnectionString, cfg.AzureContainer)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureContainer(ctx); err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "memory":
		return blobstore.NewMemoryStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

func openBatchStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (batch.Store, func(), db.Pinger, error) {
	if cfg.BatchStore != "mongo" {
		return batch.NewStorePG(pool), func() {}, nil, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	closeFn := func() { _ = client.Disconnect(context.Background()) }
	store, err := batch.NewStoreMongo(ctx, client.Database(cfg.MongoDB))
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	ping := db.PingFunc(func(ctx context.Context) error { return client.Ping(ctx, nil) })
	return store, closeFn, ping, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	health := map[string]db.Pinger{}

	// Optional infrastructure. Each is skipped when unconfigured.
	var snapshots batch.Snapshots
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; batch progress is local to this instance")
		} else {
			defer rc.Close()
			snapshots = rc
			health["redis"] = rc
		}
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		ap, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp unavailable; events are dropped")
		} else {
			defer ap.Close()
			publisher = ap
			health["amqp"] = ap
		}
	}

	blobs, blobPing, err := openBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.BlobBackend).Msg("failed to open blob store")
	}
	if blobPing != nil {
		health["blobstore"] = blobPing
	}

	batchStore, closeBatchStore, batchPing, err := openBatchStore(ctx, cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open batch store")
	}
	defer closeBatchStore()
	if batchPing != nil {
		health["mongo"] = batchPing
	}

	ext := extractor.NewHTTPClient(cfg.ExtractorURL, cfg.ExtractorAPIKey, cfg.ExtractorTimeout)
	if cfg.ExtractorURL == "" {
		logger.Warn().Msg("EXTRACTOR_URL not set; document processing will fail")
	} else {
		health["extractor"] = ext
	}

	// Reference codes back the lookup transformation.
	codes := mapping.NewCodeSets()
	termSvc := terminology.NewService(terminology.NewRepoPG(pool), codes, logger)
	if loaded, err := termSvc.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("reference codes not loaded; lookups will miss")
	} else {
		logger.Info().Interface("codes", loaded).Msg("reference codes loaded")
	}

	templateSvc := template.NewService(template.NewRepoPG(pool))
	docs := extraction.NewDocumentRepoPG(pool)
	records := extraction.NewRecordRepoPG(pool)
	processor := extraction.NewProcessor(docs, records, blobs, ext, templateSvc,
		mapping.NewEngine(codes), population.NewWriter(pool, logger), publisher, logger)

	orchestrator := batch.NewOrchestrator(batch.Config{
		MaxFiles:       cfg.BatchMaxFiles,
		InterFileDelay: cfg.BatchInterFileDelay,
		SnapshotTTL:    cfg.BatchSnapshotTTL,
	}, processor, batchStore, snapshots, db.TenantScope(pool), publisher, logger)

	validationSvc := validation.NewService(validation.NewRepoPG(pool), docs, templateSvc, publisher, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.UploadLimit(cfg.MaxUploadBytes, maxJSONBody))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":          "ok",
			"batches_running": orchestrator.InFlight(),
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, health))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg, cfg.DefaultTenant, cfg.DefaultWorkspace))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rl))
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	template.NewHandler(templateSvc).RegisterRoutes(apiV1)
	extraction.NewHandler(processor, records).RegisterRoutes(apiV1)
	batch.NewHandler(orchestrator).RegisterRoutes(apiV1)
	validation.NewHandler(validationSvc, cfg.ValidationMaxPageSize).RegisterRoutes(apiV1)
	terminology.NewHandler(termSvc).RegisterRoutes(apiV1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Int("batches_running", orchestrator.InFlight()).Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown failed")
		}
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("batches still running at shutdown deadline")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

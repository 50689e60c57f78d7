package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"productocr/internal/adapter/repo"
	"productocr/internal/domain"
	"productocr/internal/extract"
	"productocr/internal/http/handlers"
	"productocr/internal/http/httpapi"
	"productocr/internal/infra"
	"productocr/internal/lifecycle"
	"productocr/internal/storage"
	"productocr/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs, cleanup, err := openJobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open job store")
	}
	defer cleanup()

	objects, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure object storage")
	}

	uploads := storage.NewUploadBroker(cfg.PublicBaseURL, cfg.UploadURLTTL)
	notifier := storage.NewNotifier(64)

	extractor, err := extract.NewGeminiExtractor(extract.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: &http.Client{Timeout: cfg.ExtractTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure extractor")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Str("model", extractor.Model()).Msg("gemini api key missing, extraction calls will fail")
	}

	app := handlers.NewApp(jobs, objects, uploads, notifier, logger)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	lc := lifecycle.NewManager(jobs)
	proc := worker.New(lc, jobs, objects, extractor, cfg.ExtractTimeout, logger)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		g.Go(func() error {
			return proc.Run(gctx, notifier.Events())
		})
	}
	g.Go(func() error {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func openJobStore(ctx context.Context, cfg *infra.Config) (domain.JobRepository, func(), error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := repo.NewJobRepositoryPG(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case infra.StoreDriverSQLite:
		store, err := repo.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return repo.NewJobRepositoryMemory(), func() {}, nil
	}
}

package snapfind

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/snapfind/snapfind/internal/config"
	"github.com/snapfind/snapfind/internal/facerec"
	"github.com/snapfind/snapfind/internal/fetch"
	"github.com/snapfind/snapfind/internal/ingest"
	"github.com/snapfind/snapfind/internal/metadata"
	"github.com/snapfind/snapfind/internal/pipeline"
	"github.com/snapfind/snapfind/internal/source"
	"github.com/snapfind/snapfind/internal/storage"
	"github.com/snapfind/snapfind/internal/transform"
	"github.com/snapfind/snapfind/internal/util"
)

// Snapfind is the interface for the engine that runs this service.
type Snapfind interface {

	// Run runs the ingest service until the context is cancelled.
	Run(ctx context.Context) error
}

// New creates a new Snapfind service instance, returning a pointer to the
// concrete implementation.
func New(ctx context.Context, cfg *config.Config) (Snapfind, error) {

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws configuration: %v", err)
	}

	// shared http client for drive scraping, content fetches, and logo fetches
	httpClient := &http.Client{Timeout: fetch.FetchTimeout}

	store := storage.NewS3(s3.NewFromConfig(awsCfg), cfg.Storage.Bucket)
	indexer := facerec.NewIndexer(rekognition.NewFromConfig(awsCfg), cfg.Storage.Bucket, cfg.FaceIndex)
	meta := metadata.NewStore(dynamodb.NewFromConfig(awsCfg), cfg.Tables)
	branding := metadata.NewBranding(meta, cfg.Branding.Overrides)
	logos := metadata.NewLogoFetcher(httpClient, cfg.Site, cfg.Storage.Bucket)

	transformer := transform.NewTransformer()

	orch := pipeline.NewOrchestrator(
		fetch.NewFetcher(httpClient),
		transformer,
		store,
		indexer,
		branding,
		logos,
		meta,
		cfg.Pipeline,
	)

	return &snapfind{
		config:      *cfg,
		resolver:    source.NewResolver(httpClient, source.DefaultFolderBaseUrl),
		orch:        orch,
		transformer: transformer,
		store:       store,
		indexer:     indexer,

		logger: slog.Default().
			With(slog.String(util.ServiceKey, util.ServiceIngest)).
			With(slog.String(util.PackageKey, util.PackageSnapfind)).
			With(slog.String(util.ComponentKey, util.ComponentSnapfind)),
	}, nil
}

var _ Snapfind = (*snapfind)(nil)

// snapfind is the concrete implementation of the Snapfind interface.
type snapfind struct {
	config      config.Config
	resolver    source.Resolver
	orch        pipeline.Orchestrator
	transformer transform.Transformer
	store       storage.ObjectStorage
	indexer     facerec.Indexer

	logger *slog.Logger
}

// Run runs the ingest service until the context is cancelled.
func (s *snapfind) Run(ctx context.Context) error {

	// register handlers
	h := ingest.NewHandler(s.resolver, s.orch, s.transformer, s.store, s.indexer)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Get("/health", handleHealth)
	mux.Post("/api/ingest", h.HandleIngest)
	mux.Post("/api/sources", h.HandleListSources)
	mux.Post("/api/events/{eventId}/reindex", h.HandleReindex)

	server := &http.Server{
		Addr:    s.config.HttpAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {

		s.logger.Info(fmt.Sprintf("starting %s ingest service on %s", s.config.ServiceName, server.Addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- fmt.Errorf("failed to run %s ingest service: %v", s.config.ServiceName, err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down %s ingest service: %v", s.config.ServiceName, err)
	}

	return nil
}

// handleHealth reports service liveness.
func handleHealth(w http.ResponseWriter, r *http.Request) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

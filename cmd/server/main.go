package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imagevault/internal/config"
	"imagevault/internal/gateway"
	"imagevault/internal/handlers"
	mw "imagevault/internal/middleware"
	"imagevault/internal/models"
	"imagevault/internal/services"
	"imagevault/internal/store"
	"imagevault/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx := context.Background()
	config.ConfigureLogging()
	cfg := config.Load()

	// Database
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("connect to db")
	}
	defer dbPool.Close()

	recordStore := store.NewPostgresStore(dbPool)
	if err := recordStore.Migrate(ctx); err != nil {
		logrus.WithError(err).Fatal("migrate")
	}

	blobStore, err := store.NewDiskBlobStore(cfg.StorageDir)
	if err != nil {
		logrus.WithError(err).Fatal("blob store")
	}

	// Embedding model
	model, err := gateway.NewOnnxGateway(gateway.OnnxConfig{
		TextModelPath:  cfg.TextModelPath,
		ImageModelPath: cfg.ImageModelPath,
		TokenizerPath:  cfg.TokenizerPath,
		LibraryPath:    cfg.OnnxLibrary,
		Dimensions:     cfg.Dimensions,
	})
	if err != nil {
		logrus.WithError(err).Fatal("embedding model")
	}
	defer model.Close()

	// Vector index
	index, err := newVectorIndex(ctx, cfg, dbPool)
	if err != nil {
		logrus.WithError(err).Fatal("vector index")
	}

	// Query-embedding cache
	cache, err := newEmbeddingCache(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("embedding cache")
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Embedding pipeline
	pipeline := services.NewPipeline(recordStore, blobStore, model, index, services.PipelineConfig{
		BatchSize: cfg.BatchSize,
		Policy: models.RetryPolicy{
			MaxAttempts:        cfg.MaxAttempts,
			RetryDelay:         cfg.RetryDelay,
			StaleProcessingAge: cfg.StaleAge,
		},
		Interval:       cfg.Interval,
		EmbedPerSecond: cfg.EmbedPerSecond,
	})
	pipeline.SetOnCompleted(func(rec models.ImageRecord) {
		hub.Broadcast(ws.Message{
			Type:     "embedding_ready",
			ID:       rec.ID,
			Title:    rec.Title,
			Status:   string(models.StatusCompleted),
			ImageURL: rec.ImageURL,
		})
	})
	pipeline.SetOnFailed(func(rec models.ImageRecord, msg string) {
		hub.Broadcast(ws.Message{
			Type:   "embedding_failed",
			ID:     rec.ID,
			Title:  rec.Title,
			Status: string(models.StatusFailed),
			Error:  msg,
		})
	})

	// Runs a pass immediately, so records left pending by a previous run
	// get picked up, then keeps draining on the interval.
	pipeline.Start(cfg.Interval)

	// Search orchestrator
	searcher := services.NewSearcher(recordStore, model, index, cache, services.SearcherConfig{
		Oversample: cfg.Oversample,
	})

	// Handlers
	uploadHandler := handlers.NewUploadHandler(recordStore, blobStore, pipeline)
	searchHandler := handlers.NewSearchHandler(searcher)
	imagesHandler := handlers.NewImagesHandler(recordStore, pipeline)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(mw.CorsMiddleware)

	r.Handle("/uploads/*", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(blobStore.Dir()))))

	r.Route("/api", func(r chi.Router) {
		r.Post("/images", uploadHandler.Upload)
		r.Get("/images/{id}", imagesHandler.Get)
		r.Delete("/images/{id}", imagesHandler.Delete)
		r.Get("/search", searchHandler.Search)
		r.Get("/embeddings/stats", imagesHandler.Stats)
		r.Get("/health", handlers.Health(model, index))
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.HandleWebSocket(hub, w, r)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server")
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv.Shutdown(shutdownCtx)
	pipeline.Stop()
	hub.Shutdown()
	model.Close()
	dbPool.Close()
}

func newVectorIndex(ctx context.Context, cfg config.Config, dbPool *pgxpool.Pool) (gateway.VectorIndex, error) {
	if cfg.VectorBackend == "qdrant" {
		return gateway.NewQdrantIndex(ctx, gateway.QdrantConfig{
			URL:            cfg.QdrantURL,
			APIKey:         cfg.QdrantAPIKey,
			CollectionName: cfg.QdrantCollection,
			Dimensions:     cfg.Dimensions,
		})
	}
	return gateway.NewPgvectorIndex(ctx, dbPool, cfg.Dimensions)
}

func newEmbeddingCache(cfg config.Config) (services.EmbeddingCache, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return services.NewEmbeddingCache(services.CacheTypeRedis,
			services.WithRedisClient(client))
	}
	return services.NewEmbeddingCache(services.CacheTypeMemory)
}

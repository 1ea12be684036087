// Command semindexd is the entry point for the semantic memory ingestion
// and retrieval service: chi router, orchestrator wiring, signal-context
// shutdown, following cmd/chrc/main.go's shape with the authentication and
// MCP/QUIC layers it carries dropped (both out of scope per spec §1).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/semindex/blobstore"
	"github.com/hazyhaar/semindex/blobstore/fsblob"
	"github.com/hazyhaar/semindex/contentstorage"
	"github.com/hazyhaar/semindex/handler/embed"
	"github.com/hazyhaar/semindex/handler/extract"
	"github.com/hazyhaar/semindex/handler/partition"
	"github.com/hazyhaar/semindex/handler/save"
	"github.com/hazyhaar/semindex/idgen"
	"github.com/hazyhaar/semindex/orchestrator"
	"github.com/hazyhaar/semindex/orchestrator/distributed"
	"github.com/hazyhaar/semindex/orchestrator/inprocess"
	"github.com/hazyhaar/semindex/queue"
	"github.com/hazyhaar/semindex/queue/filequeue"
	"github.com/hazyhaar/semindex/queue/natsqueue"
	"github.com/hazyhaar/semindex/search"
	"github.com/hazyhaar/semindex/search/embedding"
	"github.com/hazyhaar/semindex/search/memorydb/fsvector"
	"github.com/hazyhaar/semindex/search/memorydb/qdrant"
	"github.com/hazyhaar/semindex/search/retrieval"
	"github.com/hazyhaar/semindex/search/textgen"
	transporthttp "github.com/hazyhaar/semindex/transport/http"

	"github.com/nats-io/nats.go"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(logLevel)}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(env("CONFIG_FILE", ""))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if p := os.Getenv("PORT"); p != "" {
		cfg.Port = p
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	blobs, err := newBlobStore(cfg)
	if err != nil {
		logger.Error("blob store", "error", err)
		os.Exit(1)
	}

	embedder := embedding.New(cfg.Embedding)
	generator := textgen.New(cfg.TextGen)
	vectorDB, closeVectorDB, err := newVectorDB(cfg)
	if err != nil {
		logger.Error("vector db", "error", err)
		os.Exit(1)
	}
	if closeVectorDB != nil {
		defer closeVectorDB()
	}

	newID := idgen.UUIDv7()

	orch, err := newOrchestrator(ctx, cfg, blobs, newID, embedder, vectorDB, generator, logger)
	if err != nil {
		logger.Error("orchestrator", "error", err)
		os.Exit(1)
	}

	store, err := contentstorage.Open(cfg.ContentStorageDBPath, newID)
	if err != nil {
		logger.Error("content storage", "error", err)
		os.Exit(1)
	}
	store.StartWorker(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = store.StopWorker(stopCtx)
	}()

	client := retrieval.New(embedder, vectorDB, generator, 5)
	srv := transporthttp.New(orch, client, newID)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Router()}
	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = orch.StopAll(shutdownCtx)
}

func newBlobStore(cfg *Config) (blobstore.Store, error) {
	switch cfg.ContentStorage {
	case ContentStorageAzureBlobs:
		return nil, fmt.Errorf("content storage %q has no adapter in this build (see DESIGN.md)", cfg.ContentStorage)
	case ContentStorageFileSystem, "":
		return fsblob.New(cfg.DataDir + "/artifacts"), nil
	default:
		return nil, fmt.Errorf("unknown content storage type %q", cfg.ContentStorage)
	}
}

func newVectorDB(cfg *Config) (search.VectorDB, func(), error) {
	switch cfg.VectorDb {
	case VectorDbQdrant:
		store, err := qdrant.New(cfg.QdrantAddr)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case VectorDbFileSystem, "":
		return fsvector.New(cfg.DataDir + "/vectors"), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector db type %q", cfg.VectorDb)
	}
}

func newHandlers(embedder search.EmbeddingGenerator, vectorDB search.VectorDB, partOpts partition.Options, embedEnabled bool) []orchestrator.StepHandlerRegistrant {
	embedHandler := embed.New(embedder)
	embedHandler.Enabled = embedHandler.Enabled && embedEnabled
	return []orchestrator.StepHandlerRegistrant{
		extract.New(),
		partition.New(partOpts),
		embedHandler,
		save.New(vectorDB),
	}
}

func newOrchestrator(
	ctx context.Context,
	cfg *Config,
	blobs blobstore.Store,
	newID idgen.Generator,
	embedder search.EmbeddingGenerator,
	vectorDB search.VectorDB,
	generator search.TextGenerator,
	logger *slog.Logger,
) (orchestrator.Service, error) {
	partOpts := partition.Options{
		MaxTokens:          cfg.Partition.MaxTokens,
		OverlapTokens:      cfg.Partition.OverlapTokens,
		MinPartitionTokens: cfg.Partition.MinPartitionTokens,
	}

	switch cfg.Orchestration {
	case OrchestrationDistributed:
		factory, err := newQueueFactory(cfg, logger)
		if err != nil {
			return nil, err
		}
		opts := queue.Options{
			FetchBatchSize:   cfg.QueueFetchBatchSize,
			FetchLockSeconds: int(cfg.QueueFetchLock.Seconds()),
			MaxAttempts:      cfg.QueueMaxAttempts,
			DequeueEnabled:   true,
		}
		o := distributed.New(factory, opts, blobs, newID, cfg.EmbeddingGenerationEnabled, cfg.DataDir)
		o.EmbeddingGenerators = append(o.EmbeddingGenerators, embedder)
		o.MemoryDBs = append(o.MemoryDBs, vectorDB)
		o.TextGen = generator
		for _, h := range newHandlers(embedder, vectorDB, partOpts, cfg.EmbeddingGenerationEnabled) {
			if err := o.AddHandler(h); err != nil {
				return nil, err
			}
		}
		return o, nil

	case OrchestrationInProcess, "":
		o := inprocess.New(blobs, newID, cfg.EmbeddingGenerationEnabled, inprocess.RetryPolicy{})
		o.EmbeddingGenerators = append(o.EmbeddingGenerators, embedder)
		o.MemoryDBs = append(o.MemoryDBs, vectorDB)
		o.TextGen = generator
		for _, h := range newHandlers(embedder, vectorDB, partOpts, cfg.EmbeddingGenerationEnabled) {
			if err := o.AddHandler(h); err != nil {
				return nil, err
			}
		}
		return o, nil

	default:
		return nil, fmt.Errorf("unknown orchestration type %q", cfg.Orchestration)
	}
}

func newQueueFactory(cfg *Config, logger *slog.Logger) (queue.Factory, error) {
	switch cfg.Queue {
	case QueueNATS:
		conn, err := nats.Connect(cfg.QueueNATSURL)
		if err != nil {
			return nil, fmt.Errorf("queue: connect nats: %w", err)
		}
		return natsqueue.NewFactory(conn, logger), nil
	case QueueFileBased, "":
		return filequeue.NewFactory(cfg.DataDir+"/queue", logger), nil
	case QueueRabbitMQ, QueueAzure:
		return nil, fmt.Errorf("queue type %q has no adapter in this build (see DESIGN.md)", cfg.Queue)
	default:
		return nil, fmt.Errorf("unknown queue type %q", cfg.Queue)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

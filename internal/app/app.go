// Package app assembles a service.Service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/embedding/hashing"
	embollama "docrag/internal/embedding/ollama"
	embopenai "docrag/internal/embedding/openai"
	"docrag/internal/generation"
	genollama "docrag/internal/generation/ollama"
	genopenai "docrag/internal/generation/openai"
	"docrag/internal/loader"
	"docrag/internal/metrics"
	"docrag/internal/service"
	"docrag/internal/summarizer"
	"docrag/internal/synthesizer"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/memory"
	"docrag/internal/vectorstore/pgvector"
	"docrag/internal/vectorstore/qdrant"
)

// App is a fully wired service plus the registry its metrics live in.
type App struct {
	Service  *service.Service
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

func (a *App) Close() error { return a.Service.Close() }

// Build wires every component named in cfg.
func Build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	provider, err := NewProvider(ctx, cfg.Embedder, m, logger)
	if err != nil {
		return nil, err
	}
	col, err := openCollection(ctx, cfg.VectorStore, provider, logger)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.NewRecursiveChunker(chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})
	if err != nil {
		_ = col.Close()
		return nil, err
	}
	synth, err := newSynthesizer(cfg.Generator, col.AsRetriever(cfg.VectorStore.TopK), logger)
	if err != nil {
		_ = col.Close()
		return nil, err
	}
	var sum domain.Summarizer
	switch cfg.Summarizer.Type {
	case "frequency", "":
		sum = summarizer.NewFrequencySummarizer()
	case "none":
	default:
		_ = col.Close()
		return nil, fmt.Errorf("%w: unknown summarizer: %s", domain.ErrConfiguration, cfg.Summarizer.Type)
	}

	svc := service.New(service.Deps{
		Collection:       col,
		Loader:           loader.New(logger),
		Chunker:          ch,
		Synthesizer:      synth,
		Summarizer:       sum,
		SummarySentences: cfg.Summarizer.MaxSentences,
		Metrics:          m,
		Logger:           logger,
	})
	logger.Info("service ready",
		"embedder", cfg.Embedder.Type, "vector_store", cfg.VectorStore.Type, "mode", synth.Mode())
	return &App{Service: svc, Registry: reg, Logger: logger}, nil
}

// NewProvider builds the embedder and its wrappers: retry for remote
// providers, then the placeholder fallback, then the cache.
func NewProvider(ctx context.Context, cfg config.EmbedderConfig, m *metrics.Metrics, logger *slog.Logger) (embedding.Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		p      embedding.Provider
		remote bool
	)
	switch cfg.Type {
	case "hashing", "":
		hc := config.HashingEmbedderConfig{}
		if cfg.Hashing != nil {
			hc = *cfg.Hashing
		}
		p = hashing.New(hashing.Config{Dimension: hc.Dimension, ModelPath: hc.ModelPath})
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("%w: openai embedder config missing", domain.ErrConfiguration)
		}
		p = embopenai.NewClient(embopenai.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKeyEnv:         cfg.OpenAI.APIKeyEnv,
			Model:             cfg.OpenAI.Model,
			Timeout:           seconds(cfg.OpenAI.TimeoutSecs),
			BatchSize:         cfg.OpenAI.BatchSize,
			Workers:           cfg.OpenAI.Workers,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		})
		remote = true
	case "ollama":
		if cfg.Ollama == nil {
			return nil, fmt.Errorf("%w: ollama embedder config missing", domain.ErrConfiguration)
		}
		client := embollama.NewClient(embollama.Config{
			Host:    cfg.Ollama.Host,
			Model:   cfg.Ollama.Model,
			Timeout: seconds(cfg.Ollama.TimeoutSecs),
		})
		if !client.IsHealthy(ctx) {
			logger.Warn("ollama is not reachable, embeddings may fall back", "host", cfg.Ollama.Host)
		}
		p = client
		remote = true
	default:
		return nil, fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, cfg.Type)
	}

	if remote && cfg.Retry.MaxRetries > 0 {
		p = embedding.WithRetry(p, embedding.RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: time.Duration(cfg.Retry.InitialIntervalMs) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Retry.MaxIntervalMs) * time.Millisecond,
		}, logger)
	}
	if cfg.Fallback {
		p = embedding.WithFallback(p, embedding.FallbackConfig{
			Dimension:  cfg.FallbackDimension,
			Logger:     logger,
			OnFallback: m.RecordFallback,
		})
	}
	if cfg.CacheSize > 0 {
		cached, err := embedding.WithCache(p, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding cache: %v", domain.ErrConfiguration, err)
		}
		p = cached
	}
	return p, nil
}

func openCollection(ctx context.Context, cfg config.VectorStoreConfig, provider embedding.Provider, logger *slog.Logger) (*vectorstore.Collection, error) {
	opts := []vectorstore.Option{vectorstore.WithLogger(logger), vectorstore.WithName(cfg.CollectionName)}
	switch cfg.Type {
	case "bolt", "":
		return vectorstore.OpenOrCreate(ctx, cfg.CollectionName, cfg.PersistDirectory, provider, opts...)
	case "memory":
		return vectorstore.New(memory.NewStorage(), provider, opts...), nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("%w: qdrant config missing", domain.ErrConfiguration)
		}
		st := qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.CollectionName,
			Timeout:    seconds(cfg.Qdrant.TimeoutSecs),
		})
		return vectorstore.New(st, provider, opts...), nil
	case "pgvector":
		dsn := (&config.AppConfig{VectorStore: cfg}).PGVectorDSN()
		if dsn == "" {
			return nil, fmt.Errorf("%w: pgvector dsn missing", domain.ErrConfiguration)
		}
		st, err := pgvector.New(ctx, dsn, cfg.CollectionName, logger)
		if err != nil {
			return nil, err
		}
		return vectorstore.New(st, provider, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store: %s", domain.ErrConfiguration, cfg.Type)
	}
}

func newSynthesizer(cfg config.GeneratorConfig, retriever domain.ChunkRetriever, logger *slog.Logger) (synthesizer.Synthesizer, error) {
	var gen generation.Generator
	switch cfg.Type {
	case "none", "":
		return synthesizer.NewRetrievalOnly(retriever, logger), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("%w: openai generator config missing", domain.ErrConfiguration)
		}
		gen = genopenai.NewClient(genopenai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Timeout:     seconds(cfg.OpenAI.TimeoutSecs),
		})
	case "ollama":
		if cfg.Ollama == nil {
			return nil, fmt.Errorf("%w: ollama generator config missing", domain.ErrConfiguration)
		}
		gen = genollama.NewClient(genollama.Config{
			Host:    cfg.Ollama.Host,
			Model:   cfg.Ollama.Model,
			Timeout: seconds(cfg.Ollama.TimeoutSecs),
		})
	default:
		return nil, fmt.Errorf("%w: unknown generator: %s", domain.ErrConfiguration, cfg.Type)
	}
	gen = generation.WithBreaker(gen, generation.BreakerSettings{
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         seconds(cfg.Breaker.OpenTimeoutSecs),
		Logger:              logger,
	})
	return synthesizer.NewGenerative(retriever, gen, synthesizer.GenerativeOptions{
		MaxContextTokens: cfg.MaxContextTokens,
		Counter:          generation.NewTokenCounter(logger),
		Logger:           logger,
	}), nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// BuildModel trains hashing weights on the chunks of paths and saves them
// to out. It returns the number of chunks the model was trained on.
func BuildModel(cfg *config.AppConfig, paths []string, out string, logger *slog.Logger) (int, error) {
	docs, failed := loader.New(logger).LoadPaths(paths)
	for _, f := range failed {
		logger.Warn("skipping file", "path", f.Path, "error", f.Err)
	}
	if len(docs) == 0 {
		return 0, fmt.Errorf("%w: no documents to train on", domain.ErrEmptyInput)
	}
	ch, err := chunker.NewRecursiveChunker(chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})
	if err != nil {
		return 0, err
	}
	chunks, err := ch.SplitMany(docs)
	if err != nil {
		return 0, err
	}
	corpus := make([]string, len(chunks))
	for i, c := range chunks {
		corpus[i] = c.Content
	}
	model, err := hashing.Train(corpus)
	if err != nil {
		return 0, err
	}
	if err := model.Save(out); err != nil {
		return 0, fmt.Errorf("save model: %w", err)
	}
	logger.Info("saved embedding model", "path", out, "chunks", len(chunks), "terms", len(model.Weights))
	return len(chunks), nil
}

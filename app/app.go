// Package app opens the shared clients described by a config.Config and
// assembles the retrieval components from them.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smallnest/hybridrag/config"
	"github.com/smallnest/hybridrag/ingest"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"github.com/smallnest/hybridrag/rag/extract"
	"github.com/smallnest/hybridrag/rag/retriever"
	"github.com/smallnest/hybridrag/rag/store"
	"github.com/smallnest/hybridrag/upload"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/pgvector"
)

// DocumentCollection holds the corpus chunks when the graph backend keeps
// no embeddings itself.
const DocumentCollection = "documents"

// App owns every long-lived client. Close releases them.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	LLM      *openai.LLM
	Embedder embeddings.Embedder
	Graph    rag.GraphStore
	Writer   rag.GraphWriter
	Vector   rag.VectorIndex
	// Indexer is set for Neo4j, Documents for FalkorDB.
	Indexer   ingest.VectorIndexer
	Documents vectorstores.VectorStore
	Pool      *pgxpool.Pool

	closers []func(context.Context) error
}

// New connects to the model provider, the graph backend and, when
// configured, Postgres.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log.OrDefault(logger)}

	opts := []openai.Option{
		openai.WithModel(cfg.ModelName),
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	a.LLM = llm

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	a.Embedder = embedder

	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
	}

	if err := a.openGraph(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) openGraph(ctx context.Context) error {
	cfg := a.Config
	switch cfg.GraphBackend {
	case rag.DialectFalkorDB:
		g, err := store.NewFalkorDBGraph(cfg.FalkorDBURL, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return g.Close() })
		a.Graph, a.Writer = g, g

		if a.Pool == nil {
			return errors.New("the falkordb backend keeps its chunks in pgvector and needs POSTGRES_URL")
		}
		vs, err := pgvector.New(ctx,
			pgvector.WithConn(a.Pool),
			pgvector.WithEmbedder(a.Embedder),
			pgvector.WithCollectionName(DocumentCollection),
		)
		if err != nil {
			return fmt.Errorf("open document collection: %w", err)
		}
		a.Vector, a.Documents = &vs, &vs
	default:
		g, err := store.NewNeo4jGraph(ctx, cfg.Neo4jURI, cfg.Neo4jUsername, cfg.Neo4jPassword,
			store.WithDatabase(cfg.Neo4jDatabase),
			store.WithLogger(a.Logger),
		)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, g.Close)
		v := store.NewNeo4jVector(g, a.Embedder)
		a.Graph, a.Writer = g, g
		a.Vector, a.Indexer = v, v
	}
	a.Logger.Info("connected to %s graph backend", cfg.GraphBackend)
	return nil
}

// KnowledgeBase assembles the hybrid retriever behind the knowledge_base tool.
func (a *App) KnowledgeBase() *retriever.HybridRetriever {
	resolver := retriever.NewNeighborhoodResolver(a.Graph,
		retriever.WithCandidateLimit(a.Config.CandidateLimit),
		retriever.WithRelationLimit(a.Config.RelationLimit),
		retriever.WithResolverLogger(a.Logger),
	)
	structured := retriever.NewStructuredRetriever(extract.New(a.LLM, extract.WithLogger(a.Logger)), resolver, a.Logger)
	return retriever.NewHybridRetriever(structured, retriever.NewVectorRetriever(a.Vector, a.Config.VectorTopK))
}

// Splitter is the token splitter for corpus and upload chunks.
func (a *App) Splitter() textsplitter.TextSplitter {
	return textsplitter.NewTokenSplitter(
		textsplitter.WithChunkSize(a.Config.ChunkSize),
		textsplitter.WithChunkOverlap(a.Config.ChunkOverlap),
	)
}

// UploadRepository opens the configured upload record store and ensures its
// schema.
func (a *App) UploadRepository(ctx context.Context) (upload.Repository, error) {
	var repo upload.Repository
	switch a.Config.UploadBackend {
	case "sqlite":
		r, err := upload.NewSQLiteRepository(a.Config.SQLitePath)
		if err != nil {
			return nil, err
		}
		repo = r
	case "redis":
		r, err := upload.NewRedisRepository(a.Config.RedisURL, upload.RedisOptions{})
		if err != nil {
			return nil, err
		}
		repo = r
	default:
		if a.Pool == nil {
			return nil, errors.New("postgres upload backend needs POSTGRES_URL")
		}
		repo = upload.NewPostgresRepositoryWithPool(a.Pool, "")
	}
	if err := repo.InitSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return repo.Close() })
	return repo, nil
}

// UploadManager assembles the embedding manager for uploads.
func (a *App) UploadManager(repo upload.Repository) (*upload.Manager, error) {
	if a.Pool == nil {
		return nil, errors.New("upload embeddings need POSTGRES_URL")
	}
	index := upload.NewPGVectorIndex(a.Pool, a.Embedder, a.Config.VectorTopK)
	return upload.NewManager(repo, index, a.Splitter(), a.Logger), nil
}

// Close releases clients in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

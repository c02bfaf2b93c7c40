package upload

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/pgvector"
)

// DefaultRetrieverK is the number of chunks an upload retriever returns.
const DefaultRetrieverK = 4

// DocumentIndex stores the chunks of each upload separately and hands out
// retrievers scoped to one upload.
type DocumentIndex interface {
	AddDocuments(ctx context.Context, uploadID string, docs []schema.Document) error
	Retriever(ctx context.Context, uploadID string) (schema.Retriever, error)
}

// CollectionName is the vector collection holding an upload's chunks.
func CollectionName(uploadID string) string {
	return "upload_" + uploadID
}

// PGVectorIndex keeps one pgvector collection per upload.
type PGVectorIndex struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
	k        int
}

// NewPGVectorIndex creates a PGVectorIndex. k <= 0 selects DefaultRetrieverK.
func NewPGVectorIndex(pool *pgxpool.Pool, embedder embeddings.Embedder, k int) *PGVectorIndex {
	if k <= 0 {
		k = DefaultRetrieverK
	}
	return &PGVectorIndex{pool: pool, embedder: embedder, k: k}
}

func (p *PGVectorIndex) store(ctx context.Context, uploadID string) (pgvector.Store, error) {
	s, err := pgvector.New(ctx,
		pgvector.WithConn(p.pool),
		pgvector.WithEmbedder(p.embedder),
		pgvector.WithCollectionName(CollectionName(uploadID)),
	)
	if err != nil {
		return pgvector.Store{}, fmt.Errorf("open collection for upload %s: %w", uploadID, err)
	}
	return s, nil
}

// AddDocuments embeds docs into the upload's collection.
func (p *PGVectorIndex) AddDocuments(ctx context.Context, uploadID string, docs []schema.Document) error {
	s, err := p.store(ctx, uploadID)
	if err != nil {
		return err
	}
	if _, err := s.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("embed upload %s: %w", uploadID, err)
	}
	return nil
}

// Retriever returns a retriever over the upload's collection only.
func (p *PGVectorIndex) Retriever(ctx context.Context, uploadID string) (schema.Retriever, error) {
	s, err := p.store(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return vectorstores.ToRetriever(s, p.k), nil
}

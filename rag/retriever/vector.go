package retriever

import (
	"context"

	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/schema"
)

// DefaultK is the number of passages returned by a VectorRetriever.
const DefaultK = 4

// VectorRetriever returns the text of the passages most similar to a question.
type VectorRetriever struct {
	index rag.VectorIndex
	k     int
}

// NewVectorRetriever creates a VectorRetriever. k <= 0 selects DefaultK.
func NewVectorRetriever(index rag.VectorIndex, k int) *VectorRetriever {
	if k <= 0 {
		k = DefaultK
	}
	return &VectorRetriever{index: index, k: k}
}

// Retrieve returns the page contents of the top k passages. Metadata is dropped.
func (v *VectorRetriever) Retrieve(ctx context.Context, question string) ([]string, error) {
	docs, err := v.GetRelevantDocuments(ctx, question)
	if err != nil {
		return nil, err
	}
	passages := make([]string, len(docs))
	for i, d := range docs {
		passages[i] = d.PageContent
	}
	return passages, nil
}

// GetRelevantDocuments implements schema.Retriever.
func (v *VectorRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	docs, err := v.index.SimilaritySearch(ctx, query, v.k)
	if err != nil {
		return nil, rag.Unavailable("vector search", err)
	}
	return docs, nil
}

var _ schema.Retriever = (*VectorRetriever)(nil)

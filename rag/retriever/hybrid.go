package retriever

import (
	"context"

	"github.com/smallnest/hybridrag/rag"
	"golang.org/x/sync/errgroup"
)

// HybridRetriever answers knowledge-base lookups by running structured and
// vector retrieval side by side and fusing them with rag.ComposeContext.
type HybridRetriever struct {
	structured *StructuredRetriever
	vector     *VectorRetriever
}

// NewHybridRetriever creates a HybridRetriever.
func NewHybridRetriever(structured *StructuredRetriever, vector *VectorRetriever) *HybridRetriever {
	return &HybridRetriever{structured: structured, vector: vector}
}

// Retrieve returns the composed context block for question. A failure on
// either side fails the whole lookup.
func (h *HybridRetriever) Retrieve(ctx context.Context, question string) (string, error) {
	var (
		structured string
		passages   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		structured, err = h.structured.Retrieve(gctx, question)
		return err
	})
	g.Go(func() error {
		var err error
		passages, err = h.vector.Retrieve(gctx, question)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	return rag.ComposeContext(structured, passages), nil
}

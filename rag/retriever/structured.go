package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"golang.org/x/sync/errgroup"
)

// Resolver turns one entity name into rendered relations.
type Resolver interface {
	Resolve(ctx context.Context, entity string) ([]string, error)
}

// StructuredRetriever builds the graph half of the context: entities are
// extracted from the question and each one is expanded by a Resolver.
type StructuredRetriever struct {
	extractor rag.EntityExtractor
	resolver  Resolver
	logger    log.Logger
}

// NewStructuredRetriever creates a StructuredRetriever.
func NewStructuredRetriever(extractor rag.EntityExtractor, resolver Resolver, logger log.Logger) *StructuredRetriever {
	return &StructuredRetriever{
		extractor: extractor,
		resolver:  resolver,
		logger:    log.OrDefault(logger),
	}
}

// Retrieve returns the newline-joined relations of every entity in the
// question, grouped by entity in extraction order. Entities are resolved
// concurrently. A question without entities yields "".
func (s *StructuredRetriever) Retrieve(ctx context.Context, question string) (string, error) {
	entities, err := s.extractor.Extract(ctx, question)
	if err != nil {
		return "", fmt.Errorf("structured retrieval: %w", err)
	}
	if len(entities) == 0 {
		s.logger.Debug("no entities in question")
		return "", nil
	}

	results := make([][]string, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	for i, entity := range entities {
		g.Go(func() error {
			rows, err := s.resolver.Resolve(gctx, entity)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("structured retrieval: %w", err)
	}

	var lines []string
	for _, rows := range results {
		lines = append(lines, rows...)
	}
	return strings.Join(lines, "\n"), nil
}

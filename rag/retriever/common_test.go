package retriever

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

type query struct {
	stmt   string
	params map[string]any
}

// mockGraphStore answers every query with rows, or err.
type mockGraphStore struct {
	mu      sync.Mutex
	dialect rag.Dialect
	rows    map[string][]map[string]any // keyed by fulltext query
	err     error
	queries []query
}

func (m *mockGraphStore) Query(ctx context.Context, stmt string, params map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query{stmt: stmt, params: params})
	if m.err != nil {
		return nil, m.err
	}
	return m.rows[params["query"].(string)], nil
}

func (m *mockGraphStore) Dialect() rag.Dialect {
	if m.dialect == "" {
		return rag.DialectNeo4j
	}
	return m.dialect
}

func row(source, relation, target string) map[string]any {
	return map[string]any{"source": source, "relation": relation, "target": target}
}

type mockExtractor struct {
	names []string
	err   error
}

func (m *mockExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	return m.names, m.err
}

type mockIndex struct {
	docs []schema.Document
	err  error
	k    int
}

func (m *mockIndex) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	m.k = numDocuments
	if m.err != nil {
		return nil, m.err
	}
	if numDocuments < len(m.docs) {
		return m.docs[:numDocuments], nil
	}
	return m.docs, nil
}

func passages(n int) []schema.Document {
	docs := make([]schema.Document, n)
	for i := range docs {
		docs[i] = schema.Document{PageContent: fmt.Sprintf("p%d", i+1), Metadata: map[string]any{"source": "doc.pdf"}}
	}
	return docs
}

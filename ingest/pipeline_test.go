package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
)

type fakeTransformer struct {
	err error
}

func (f *fakeTransformer) Transform(ctx context.Context, doc schema.Document) (rag.GraphDocument, error) {
	if f.err != nil {
		return rag.GraphDocument{}, f.err
	}
	n := rag.Node{ID: doc.PageContent, Type: "Chunk"}
	return rag.GraphDocument{
		Source:        doc,
		Nodes:         []rag.Node{n, {ID: "Acme", Type: "Organization"}},
		Relationships: []rag.Relationship{{Source: n, Target: rag.Node{ID: "Acme", Type: "Organization"}, Type: "ABOUT"}},
	}, nil
}

type fakeWriter struct {
	docs    []rag.GraphDocument
	indexed bool
}

func (f *fakeWriter) AddGraphDocuments(ctx context.Context, docs []rag.GraphDocument) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeWriter) EnsureEntityIndex(ctx context.Context) error {
	f.indexed = true
	return nil
}

type fakeIndexer struct {
	dims int
}

func (f *fakeIndexer) Dimensions(ctx context.Context) (int, error) { return 3, nil }

func (f *fakeIndexer) EnsureIndexes(ctx context.Context, dimensions int) error {
	f.dims = dimensions
	return nil
}

func (f *fakeIndexer) EmbedMissing(ctx context.Context) (int, error) { return 2, nil }

func loadText(ctx context.Context, path string) ([]schema.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []schema.Document{{PageContent: string(b), Metadata: map[string]any{"source": path}}}, nil
}

func newTestPipeline(t *testing.T, w *fakeWriter, tr Transformer, idx VectorIndexer, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{
		WithLoader(".TXT", loadText),
		WithSplitter(textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(1000),
			textsplitter.WithChunkOverlap(0),
		)),
		WithLogger(&log.NoOpLogger{}),
	}, opts...)
	p, err := NewPipeline(w, tr, idx, opts...)
	require.NoError(t, err)
	return p
}

func TestPipeline_Run(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Acme enforces a code of conduct.")
	writeFile(t, filepath.Join(dir, "policies", "b.txt"), "Acme protects customer data.")

	var (
		mu     sync.Mutex
		stages []string
	)
	listener := func(ctx context.Context, node string, err error, elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, node)
	}

	w := &fakeWriter{}
	idx := &fakeIndexer{}
	p := newTestPipeline(t, w, &fakeTransformer{}, idx, WithNodeListener(listener), WithConcurrency(2))

	report, err := p.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 4, report.Nodes)
	assert.Equal(t, 2, report.Relationships)
	assert.Equal(t, 2, report.Embedded)

	require.Len(t, w.docs, 2)
	assert.Equal(t, "Acme enforces a code of conduct.", w.docs[0].Source.PageContent)
	assert.Equal(t, rag.DocumentLabel, w.docs[0].Source.Metadata["label"])
	assert.Equal(t, "Acme protects customer data.", w.docs[1].Source.PageContent)
	assert.True(t, w.indexed)
	assert.Equal(t, 3, idx.dims)

	assert.Equal(t, []string{"discover", "load", "split", "transform", "write", "index"}, stages)
}

func TestPipeline_EmptyDirectory(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPipeline(t, w, &fakeTransformer{}, nil)

	_, err := p.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
	assert.Empty(t, w.docs)
}

func TestPipeline_TransformFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Acme")

	w := &fakeWriter{}
	p := newTestPipeline(t, w, &fakeTransformer{err: rag.ErrExtractionSchemaViolation}, &fakeIndexer{})

	_, err := p.Run(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rag.ErrExtractionSchemaViolation))
	assert.Empty(t, w.docs)
	assert.False(t, w.indexed)
}

func TestPipeline_WithoutIndexer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Acme")

	w := &fakeWriter{}
	report, err := newTestPipeline(t, w, &fakeTransformer{}, nil).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, report.Embedded)
	assert.True(t, w.indexed)
}

type fakeVectorStore struct {
	added []schema.Document
}

func (f *fakeVectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	f.added = append(f.added, docs...)
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = fmt.Sprint(i)
	}
	return ids, nil
}

func (f *fakeVectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	return nil, nil
}

func TestPipeline_DocumentStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Acme")
	writeFile(t, filepath.Join(dir, "b.txt"), "Globex")

	vs := &fakeVectorStore{}
	report, err := newTestPipeline(t, &fakeWriter{}, &fakeTransformer{}, nil, WithDocumentStore(vs)).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)
	require.Len(t, vs.added, 2)
	assert.Equal(t, "Acme", vs.added[0].PageContent)
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(nil, &fakeTransformer{}, nil)
	assert.Error(t, err)
}

type resettingWriter struct {
	fakeWriter
	events []string
}

func (r *resettingWriter) Delete(ctx context.Context) error {
	r.events = append(r.events, "delete")
	return nil
}

func (r *resettingWriter) AddGraphDocuments(ctx context.Context, docs []rag.GraphDocument) error {
	r.events = append(r.events, "write")
	return r.fakeWriter.AddGraphDocuments(ctx, docs)
}

func TestPipeline_Reset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "Acme enforces a code of conduct.")

	newPipeline := func(w rag.GraphWriter, tr Transformer) (*Pipeline, error) {
		return NewPipeline(w, tr, nil,
			WithLoader(".txt", loadText),
			WithSplitter(textsplitter.NewRecursiveCharacter()),
			WithLogger(&log.NoOpLogger{}),
			WithReset(),
		)
	}

	t.Run("deletes before writing", func(t *testing.T) {
		w := &resettingWriter{}
		p, err := newPipeline(w, &fakeTransformer{})
		require.NoError(t, err)

		_, err = p.Run(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"delete", "write"}, w.events)
	})

	t.Run("keeps the graph when extraction fails", func(t *testing.T) {
		w := &resettingWriter{}
		p, err := newPipeline(w, &fakeTransformer{err: rag.ErrExtractionSchemaViolation})
		require.NoError(t, err)

		_, err = p.Run(context.Background(), dir)
		assert.ErrorIs(t, err, rag.ErrExtractionSchemaViolation)
		assert.Empty(t, w.events)
	})

	t.Run("writer must support deletion", func(t *testing.T) {
		_, err := newPipeline(&fakeWriter{}, &fakeTransformer{})
		assert.Error(t, err)
	})
}

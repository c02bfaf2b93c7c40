package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/smallnest/hybridrag/graph"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// VectorIndexer maintains the Document vector index. *store.Neo4jVector
// implements it.
type VectorIndexer interface {
	Dimensions(ctx context.Context) (int, error)
	EnsureIndexes(ctx context.Context, dimensions int) error
	EmbedMissing(ctx context.Context) (int, error)
}

// GraphResetter empties the graph before a rebuild. Both graph stores
// implement it.
type GraphResetter interface {
	Delete(ctx context.Context) error
}

// Report summarises one ingestion run.
type Report struct {
	Files         int
	Pages         int
	Chunks        int
	Nodes         int
	Relationships int
	Embedded      int
	Duration      time.Duration
}

type ingestState struct {
	Root      string
	Files     []string
	Documents []schema.Document
	Chunks    []schema.Document
	Graph     []rag.GraphDocument
	Embedded  int
}

// Pipeline ingests a directory into the knowledge graph.
type Pipeline struct {
	writer      rag.GraphWriter
	transformer Transformer
	indexer     VectorIndexer
	documents   vectorstores.VectorStore
	splitter    textsplitter.TextSplitter
	loaders     map[string]Loader
	concurrency int
	reset       bool
	listeners   []graph.NodeListener
	logger      log.Logger
	runnable    *graph.StateRunnable[ingestState]
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReset empties the graph before the new documents are written.
// Extraction runs first, so a failed run leaves the old graph in place.
func WithReset() Option {
	return func(p *Pipeline) {
		p.reset = true
	}
}

// WithSplitter replaces the 512/24 token splitter.
func WithSplitter(s textsplitter.TextSplitter) Option {
	return func(p *Pipeline) {
		p.splitter = s
	}
}

// WithLoader registers a loader for a file extension such as ".html".
func WithLoader(ext string, l Loader) Option {
	return func(p *Pipeline) {
		p.loaders[strings.ToLower(ext)] = l
	}
}

// WithDocumentStore also adds every chunk to a vector store, for graph
// backends that keep no embeddings on their Document nodes.
func WithDocumentStore(vs vectorstores.VectorStore) Option {
	return func(p *Pipeline) {
		p.documents = vs
	}
}

// WithConcurrency sets how many chunks are transformed at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithNodeListener observes every pipeline stage.
func WithNodeListener(l graph.NodeListener) Option {
	return func(p *Pipeline) {
		p.listeners = append(p.listeners, l)
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a Pipeline. A nil indexer skips the index stage.
func NewPipeline(writer rag.GraphWriter, transformer Transformer, indexer VectorIndexer, opts ...Option) (*Pipeline, error) {
	if writer == nil || transformer == nil {
		return nil, errors.New("ingest: writer and transformer are required")
	}
	p := &Pipeline{
		writer:      writer,
		transformer: transformer,
		indexer:     indexer,
		loaders:     map[string]Loader{".pdf": LoadPDF},
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, ok := p.writer.(GraphResetter); p.reset && !ok {
		return nil, errors.New("ingest: reset requested but the graph writer cannot delete")
	}
	if p.splitter == nil {
		p.splitter = textsplitter.NewTokenSplitter(
			textsplitter.WithChunkSize(512),
			textsplitter.WithChunkOverlap(24),
		)
	}
	p.logger = log.OrDefault(p.logger)

	g := graph.NewStateGraph[ingestState]()
	g.AddNode("discover", "Find source files", p.discover)
	g.AddNode("load", "Load files into documents", p.load)
	g.AddNode("split", "Split documents into chunks", p.split)
	g.AddNode("transform", "Extract graph documents from chunks", p.transform)
	g.AddNode("write", "Write graph documents", p.write)
	g.AddNode("index", "Ensure indexes and embed chunks", p.index)
	g.SetEntryPoint("discover")
	g.AddEdge("discover", "load")
	g.AddEdge("load", "split")
	g.AddEdge("split", "transform")
	g.AddEdge("transform", "write")
	g.AddEdge("write", "index")
	g.AddEdge("index", graph.END)
	for _, l := range p.listeners {
		g.AddListener(l)
	}

	runnable, err := g.Compile()
	if err != nil {
		return nil, err
	}
	p.runnable = runnable
	return p, nil
}

// Run ingests every supported file under root.
func (p *Pipeline) Run(ctx context.Context, root string) (*Report, error) {
	start := time.Now()
	out, err := p.runnable.Invoke(ctx, ingestState{Root: root})
	if err != nil {
		return nil, err
	}

	r := &Report{
		Files:    len(out.Files),
		Pages:    len(out.Documents),
		Chunks:   len(out.Chunks),
		Embedded: out.Embedded,
		Duration: time.Since(start),
	}
	for _, gd := range out.Graph {
		r.Nodes += len(gd.Nodes)
		r.Relationships += len(gd.Relationships)
	}
	p.logger.Info("ingested %d files: %d chunks, %d nodes, %d relationships, %d embeddings in %s",
		r.Files, r.Chunks, r.Nodes, r.Relationships, r.Embedded, r.Duration.Round(time.Millisecond))
	return r, nil
}

func (p *Pipeline) discover(ctx context.Context, s ingestState) (ingestState, error) {
	exts := make([]string, 0, len(p.loaders))
	for ext := range p.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	files, err := Discover(s.Root, exts)
	if err != nil {
		return s, err
	}
	p.logger.Info("found %d documents under %s", len(files), s.Root)
	s.Files = files
	return s, nil
}

func (p *Pipeline) load(ctx context.Context, s ingestState) (ingestState, error) {
	for _, f := range s.Files {
		docs, err := p.loaderFor(f)(ctx, f)
		if err != nil {
			return s, err
		}
		s.Documents = append(s.Documents, docs...)
	}
	p.logger.Debug("loaded %d pages", len(s.Documents))
	return s, nil
}

func (p *Pipeline) loaderFor(path string) Loader {
	return p.loaders[strings.ToLower(filepath.Ext(path))]
}

func (p *Pipeline) split(ctx context.Context, s ingestState) (ingestState, error) {
	chunks, err := textsplitter.SplitDocuments(p.splitter, s.Documents)
	if err != nil {
		return s, fmt.Errorf("split documents: %w", err)
	}
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]any{}
		}
		chunks[i].Metadata["label"] = rag.DocumentLabel
	}
	p.logger.Info("split %d pages into %d chunks", len(s.Documents), len(chunks))
	s.Chunks = chunks
	return s, nil
}

func (p *Pipeline) transform(ctx context.Context, s ingestState) (ingestState, error) {
	out := make([]rag.GraphDocument, len(s.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, chunk := range s.Chunks {
		g.Go(func() error {
			gd, err := p.transformer.Transform(gctx, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d of %v: %w", i, chunk.Metadata["source"], err)
			}
			out[i] = gd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s, err
	}
	s.Graph = out
	return s, nil
}

func (p *Pipeline) write(ctx context.Context, s ingestState) (ingestState, error) {
	if p.reset {
		if err := p.writer.(GraphResetter).Delete(ctx); err != nil {
			return s, fmt.Errorf("reset graph: %w", err)
		}
	}
	if err := p.writer.AddGraphDocuments(ctx, s.Graph); err != nil {
		return s, fmt.Errorf("write graph: %w", err)
	}
	if err := p.writer.EnsureEntityIndex(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (p *Pipeline) index(ctx context.Context, s ingestState) (ingestState, error) {
	if p.indexer == nil && p.documents == nil {
		p.logger.Warn("no vector index configured, skipping embeddings")
		return s, nil
	}
	if p.indexer != nil {
		dims, err := p.indexer.Dimensions(ctx)
		if err != nil {
			return s, err
		}
		if err := p.indexer.EnsureIndexes(ctx, dims); err != nil {
			return s, err
		}
		n, err := p.indexer.EmbedMissing(ctx)
		if err != nil {
			return s, err
		}
		s.Embedded += n
	}
	if p.documents != nil && len(s.Chunks) > 0 {
		ids, err := p.documents.AddDocuments(ctx, s.Chunks)
		if err != nil {
			return s, fmt.Errorf("add chunks to vector store: %w", err)
		}
		s.Embedded += len(ids)
	}
	return s, nil
}

package upload

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// Manager embeds uploads and resolves them for querying.
type Manager struct {
	repo     Repository
	index    DocumentIndex
	splitter textsplitter.TextSplitter
	logger   log.Logger
	wg       sync.WaitGroup
}

// NewManager creates a Manager. A nil splitter selects a 512/24 token splitter.
func NewManager(repo Repository, index DocumentIndex, splitter textsplitter.TextSplitter, logger log.Logger) *Manager {
	if splitter == nil {
		splitter = textsplitter.NewTokenSplitter(
			textsplitter.WithChunkSize(512),
			textsplitter.WithChunkOverlap(24),
		)
	}
	return &Manager{
		repo:     repo,
		index:    index,
		splitter: splitter,
		logger:   log.OrDefault(logger),
	}
}

// Embed loads the upload's PDF, splits it and embeds the chunks, then marks
// the record embedded. Any failure marks it failed.
func (m *Manager) Embed(ctx context.Context, rec *Record) error {
	docs, err := m.load(ctx, rec)
	if err == nil {
		err = m.index.AddDocuments(ctx, rec.ID, docs)
	}
	if err != nil {
		if uerr := m.repo.UpdateStatus(ctx, rec.ID, StatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark upload %s failed: %v", rec.ID, uerr)
		}
		return fmt.Errorf("embed upload %s: %w", rec.ID, err)
	}

	if err := m.repo.UpdateStatus(ctx, rec.ID, StatusEmbedded, ""); err != nil {
		return err
	}
	m.logger.Info("upload %s embedded (%d chunks)", rec.ID, len(docs))
	return nil
}

// EmbedAsync runs Embed in the background. Wait blocks until all background
// embeddings have finished.
func (m *Manager) EmbedAsync(ctx context.Context, rec *Record) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.Embed(ctx, rec); err != nil {
			m.logger.Error("%v", err)
		}
	}()
}

// Wait blocks until background embeddings are done.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) load(ctx context.Context, rec *Record) ([]schema.Document, error) {
	f, err := os.Open(rec.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	docs, err := documentloaders.NewPDF(f, info.Size()).LoadAndSplit(ctx, m.splitter)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("pdf %s has no text", rec.Filename)
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata["upload_id"] = rec.ID
		docs[i].Metadata["source"] = rec.Filename
	}
	return docs, nil
}

// Resolve returns the retriever of an embedded upload. It fails with
// rag.ErrInvalidInput for a malformed or unknown id and with
// rag.ErrDocumentNotReady while the upload has no embeddings.
func (m *Manager) Resolve(ctx context.Context, id string) (schema.Retriever, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid upload id %q", rag.ErrInvalidInput, id)
	}
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w", rag.ErrInvalidInput, err)
		}
		return nil, err
	}
	switch rec.Status {
	case StatusEmbedded:
	case StatusFailed:
		return nil, fmt.Errorf("%w: upload %s failed to embed, please reupload", rag.ErrDocumentNotReady, id)
	default:
		return nil, fmt.Errorf("%w: upload %s is still being processed", rag.ErrDocumentNotReady, id)
	}
	return m.index.Retriever(ctx, id)
}

// Package service implements the query and upload operations behind the
// HTTP API. It owns no clients: everything arrives through Dependencies.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/metrics"
	"github.com/smallnest/hybridrag/prebuilt"
	"github.com/smallnest/hybridrag/rag"
	"github.com/smallnest/hybridrag/tool"
	"github.com/smallnest/hybridrag/upload"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// PDFContentType is the only accepted upload type.
const PDFContentType = "application/pdf"

// DefaultMaxUploadBytes caps an upload when Dependencies leaves it unset.
const DefaultMaxUploadBytes = 10 << 20

// Query outcomes as counted by the metrics collector.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid_input"
	OutcomeNotReady    = "not_ready"
	OutcomeUnavailable = "retrieval_unavailable"
	OutcomeToolError   = "tool_error"
	OutcomeError       = "error"
)

// Documents resolves uploads to retrievers and embeds new ones.
// *upload.Manager implements it.
type Documents interface {
	Resolve(ctx context.Context, id string) (schema.Retriever, error)
	EmbedAsync(ctx context.Context, rec *upload.Record)
}

// FileStore keeps uploaded files. *upload.FileStorage implements it.
type FileStore interface {
	Save(id string, r io.Reader) (string, int64, error)
	Remove(id string) error
}

// Dependencies are built once at startup and shared by every request.
type Dependencies struct {
	LLM            llms.Model
	Knowledge      tool.ContextRetriever
	Documents      Documents
	Records        upload.Repository
	Files          FileStore
	Metrics        *metrics.Collector
	Logger         log.Logger
	MaxIterations  int
	MaxUploadBytes int64
	// HandleToolErrors passes a failing tool's error to the model as the
	// tool's output, so it can answer from the other tool. Otherwise the
	// first tool error fails the query.
	HandleToolErrors bool
}

// QueryRequest is one question about an uploaded document.
type QueryRequest struct {
	UUID         string          `json:"uuid"`
	Question     string          `json:"question"`
	Instructions []string        `json:"instructions,omitempty"`
	ChatHistory  []prebuilt.Turn `json:"chat_history,omitempty"`
}

// UploadRequest is one file posted to the upload endpoint.
type UploadRequest struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Service answers queries and accepts uploads.
type Service struct {
	deps   Dependencies
	logger log.Logger
}

// New creates a Service.
func New(deps Dependencies) (*Service, error) {
	switch {
	case deps.LLM == nil:
		return nil, errors.New("service: nil model")
	case deps.Knowledge == nil:
		return nil, errors.New("service: nil knowledge retriever")
	case deps.Documents == nil:
		return nil, errors.New("service: nil document resolver")
	}
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = prebuilt.DefaultMaxIterations
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Service{deps: deps, logger: log.OrDefault(deps.Logger)}, nil
}

// Query answers req.Question with the knowledge base and the uploaded
// document req.UUID. Invalid input and documents that are not embedded yet
// are rejected before any model call.
func (s *Service) Query(ctx context.Context, req QueryRequest) (answer string, err error) {
	defer func() {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordQuery(Outcome(err))
		}
	}()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", fmt.Errorf("%w: question is required", rag.ErrInvalidInput)
	}
	s.logger.Info("query received for upload %s: %q", req.UUID, question)

	retriever, err := s.deps.Documents.Resolve(ctx, req.UUID)
	if err != nil {
		return "", err
	}

	tools, err := tool.NewSet(
		tool.NewKnowledgeBase(s.deps.Knowledge),
		tool.NewUploadedDocument(s.deps.LLM, retriever),
	)
	if err != nil {
		return "", err
	}

	opts := []prebuilt.AgentOption{
		prebuilt.WithMaxIterations(s.deps.MaxIterations),
		prebuilt.WithHandleToolErrors(s.deps.HandleToolErrors),
		prebuilt.WithLogger(s.logger),
	}
	if s.deps.Metrics != nil {
		opts = append(opts,
			prebuilt.WithToolObserver(s.deps.Metrics.RecordToolCall),
			prebuilt.WithNodeListener(s.deps.Metrics.RecordNode),
		)
	}
	agent, err := prebuilt.NewToolsAgent(s.deps.LLM, tools, opts...)
	if err != nil {
		return "", err
	}

	start := time.Now()
	answer, err = agent.Run(ctx, prebuilt.Input{
		Question:     question,
		Instructions: req.Instructions,
		History:      req.ChatHistory,
	})
	if err != nil {
		s.logger.Error("query for upload %s failed: %v", req.UUID, err)
		return "", err
	}
	s.logger.Info("agent answered upload %s in %s: %q", req.UUID, time.Since(start).Round(time.Millisecond), answer)
	return answer, nil
}

// Upload stores a PDF, records it and starts embedding it in the
// background. It returns the new upload id.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (id string, err error) {
	defer func() {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordUpload(err)
		}
	}()
	if s.deps.Records == nil || s.deps.Files == nil {
		return "", errors.New("uploads are not configured")
	}

	mediaType, _, perr := mime.ParseMediaType(req.ContentType)
	if perr != nil || mediaType != PDFContentType {
		return "", fmt.Errorf("%w: only %s files are accepted, got %q", rag.ErrInvalidInput, PDFContentType, req.ContentType)
	}
	if req.Size > s.deps.MaxUploadBytes {
		return "", fmt.Errorf("%w: file exceeds %d bytes", rag.ErrInvalidInput, s.deps.MaxUploadBytes)
	}

	id = uuid.NewString()
	path, n, err := s.deps.Files.Save(id, io.LimitReader(req.Body, s.deps.MaxUploadBytes+1))
	if err != nil {
		return "", err
	}
	if n > s.deps.MaxUploadBytes {
		s.discard(id)
		return "", fmt.Errorf("%w: file exceeds %d bytes", rag.ErrInvalidInput, s.deps.MaxUploadBytes)
	}

	now := time.Now().UTC()
	rec := &upload.Record{
		ID:        id,
		Filename:  req.Filename,
		Path:      path,
		Status:    upload.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Records.Create(ctx, rec); err != nil {
		s.discard(id)
		return "", err
	}
	s.logger.Info("upload %s stored (%s, %d bytes)", id, req.Filename, n)

	// embedding outlives the request
	s.deps.Documents.EmbedAsync(context.WithoutCancel(ctx), rec)
	return id, nil
}

func (s *Service) discard(id string) {
	if err := s.deps.Files.Remove(id); err != nil {
		s.logger.Warn("discard upload %s: %v", id, err)
	}
}

// Outcome classifies a query error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, rag.ErrInvalidInput):
		return OutcomeInvalid
	case errors.Is(err, rag.ErrDocumentNotReady):
		return OutcomeNotReady
	case errors.Is(err, rag.ErrRetrievalUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, rag.ErrToolExecution):
		return OutcomeToolError
	default:
		return OutcomeError
	}
}

package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/smallnest/hybridrag/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type stubRetriever struct {
	out string
	err error
	got string
}

func (s *stubRetriever) Retrieve(ctx context.Context, question string) (string, error) {
	s.got = question
	return s.out, s.err
}

type stubDocs struct {
	docs []schema.Document
}

func (s stubDocs) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	return s.docs, nil
}

// echoLLM answers with the prompt it was given.
type echoLLM struct{}

func (echoLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var b strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				b.WriteString(tc.Text)
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: b.String()}}}, nil
}

func (e echoLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, e, prompt, options...)
}

func TestKnowledgeBase(t *testing.T) {
	r := &stubRetriever{out: "Structured data:\n\nUnstructured data:\n- Document p1"}
	kb := NewKnowledgeBase(r)

	assert.Equal(t, "knowledge_base", kb.Name())
	assert.Equal(t, KnowledgeBase, kb.Kind())

	out, err := kb.Call(context.Background(), `{"question":"  who is Jane?  "}`)
	require.NoError(t, err)
	assert.Equal(t, r.out, out)
	assert.Equal(t, "who is Jane?", r.got)
}

func TestInvokeFailureNamesTool(t *testing.T) {
	cause := rag.Unavailable("graph", errors.New("down"))
	kb := NewKnowledgeBase(&stubRetriever{err: cause})

	_, err := kb.Invoke(context.Background(), "q")
	var te *rag.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "knowledge_base", te.Tool)
	assert.ErrorIs(t, err, rag.ErrToolExecution)
	assert.ErrorIs(t, err, rag.ErrRetrievalUnavailable)
}

func TestInvokeEmptyQuestion(t *testing.T) {
	r := &stubRetriever{}
	_, err := NewKnowledgeBase(r).Invoke(context.Background(), "   ")
	assert.ErrorIs(t, err, rag.ErrInvalidInput)
	assert.Empty(t, r.got)
}

func TestUploadedDocument(t *testing.T) {
	doc := NewUploadedDocument(echoLLM{}, stubDocs{docs: []schema.Document{{PageContent: "The lease ends in 2027."}}})
	assert.Equal(t, "uploaded_document", doc.Name())

	out, err := doc.Invoke(context.Background(), "When does the lease end?")
	require.NoError(t, err)
	assert.Contains(t, out, "The lease ends in 2027.")
	assert.Contains(t, out, "When does the lease end?")
}

func TestParseArguments(t *testing.T) {
	q, err := ParseArguments(`{"question":"a"}`)
	require.NoError(t, err)
	assert.Equal(t, "a", q)

	q, err = ParseArguments("plain question")
	require.NoError(t, err)
	assert.Equal(t, "plain question", q)

	_, err = ParseArguments(`{"question":`)
	assert.ErrorIs(t, err, rag.ErrInvalidInput)
}

func TestNew(t *testing.T) {
	_, err := New("web_search", "d", func(ctx context.Context, q string) (string, error) { return "", nil })
	assert.Error(t, err)

	_, err = New(KnowledgeBase, "d", nil)
	assert.Error(t, err)

	tl, err := New(UploadedDocument, "custom", func(ctx context.Context, q string) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "custom", tl.Description())
}

func TestSet(t *testing.T) {
	kb := NewKnowledgeBase(&stubRetriever{})
	doc := NewUploadedDocument(echoLLM{}, stubDocs{})

	s, err := NewSet(kb, doc)
	require.NoError(t, err)

	got, ok := s.Lookup("uploaded_document")
	assert.True(t, ok)
	assert.Same(t, doc, got)
	_, ok = s.Lookup("calculator")
	assert.False(t, ok)

	defs := s.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "knowledge_base", defs[0].Function.Name)
	assert.Equal(t, "uploaded_document", defs[1].Function.Name)
	assert.Equal(t, kb.InputSchema(), defs[0].Function.Parameters)

	_, err = NewSet(kb, kb)
	assert.Error(t, err)
}

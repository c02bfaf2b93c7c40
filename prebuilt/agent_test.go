package prebuilt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/hybridrag/rag"
	"github.com/smallnest/hybridrag/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fixedRetriever struct {
	out string
	err error
}

func (f fixedRetriever) Retrieve(ctx context.Context, question string) (string, error) {
	return f.out + ":" + question, f.err
}

func newTools(t *testing.T, kb, doc fixedRetriever) tool.Set {
	t.Helper()
	uploaded, err := tool.New(tool.UploadedDocument, "doc", doc.Retrieve)
	require.NoError(t, err)
	set, err := tool.NewSet(tool.NewKnowledgeBase(kb), uploaded)
	require.NoError(t, err)
	return set
}

func TestToolsAgent_DirectAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []*llms.ContentResponse{answer("Hello there")}}
	agent, err := NewToolsAgent(llm, newTools(t, fixedRetriever{}, fixedRetriever{}))
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), Input{Question: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)

	require.Len(t, llm.tools, 1)
	require.Len(t, llm.tools[0], 2)
	assert.Equal(t, "knowledge_base", llm.tools[0][0].Function.Name)
	assert.Equal(t, "uploaded_document", llm.tools[0][1].Function.Name)
}

func TestToolsAgent_ToolRoundTrip(t *testing.T) {
	llm := &scriptedLLM{responses: []*llms.ContentResponse{
		callTools(
			toolCall("c1", "knowledge_base", `{"question":"Acme policies"}`),
			toolCall("c2", "uploaded_document", `{"question":"lease end"}`),
		),
		answer("Acme complies with GDPR; the lease ends in 2027."),
	}}
	var mu sync.Mutex
	var observed []string
	agent, err := NewToolsAgent(llm,
		newTools(t, fixedRetriever{out: "kb"}, fixedRetriever{out: "doc"}),
		WithToolObserver(func(name string, err error, elapsed time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, name)
		}),
	)
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), Input{
		Question: "Compare", History: []Turn{{Human: "hi", Assistant: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme complies with GDPR; the lease ends in 2027.", out)
	assert.ElementsMatch(t, []string{"knowledge_base", "uploaded_document"}, observed)

	// system, human, ai, human(question), ai(tool calls), tool, tool
	second := llm.requests[1]
	require.Len(t, second, 7)
	r1 := second[5].Parts[0].(llms.ToolCallResponse)
	r2 := second[6].Parts[0].(llms.ToolCallResponse)
	assert.Equal(t, "c1", r1.ToolCallID)
	assert.Equal(t, "kb:Acme policies", r1.Content)
	assert.Equal(t, "c2", r2.ToolCallID)
	assert.Equal(t, "doc:lease end", r2.Content)
}

func TestToolsAgent_IterationLimit(t *testing.T) {
	loop := callTools(toolCall("c", "knowledge_base", `{"question":"again"}`))
	llm := &scriptedLLM{responses: []*llms.ContentResponse{loop, loop, loop, loop}}
	agent, err := NewToolsAgent(llm, newTools(t, fixedRetriever{out: "kb"}, fixedRetriever{}), WithMaxIterations(3))
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), Input{Question: "loop"})
	require.NoError(t, err)
	assert.Equal(t, StoppedOutput, out)
	assert.Len(t, llm.requests, 3)
}

func TestToolsAgent_ToolFailurePropagates(t *testing.T) {
	llm := &scriptedLLM{responses: []*llms.ContentResponse{
		callTools(toolCall("c1", "knowledge_base", `{"question":"Acme"}`)),
		answer("unused"),
	}}
	kb := fixedRetriever{err: rag.Unavailable("graph", errors.New("refused"))}
	agent, err := NewToolsAgent(llm, newTools(t, kb, fixedRetriever{}))
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), Input{Question: "q"})
	var te *rag.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "knowledge_base", te.Tool)
	assert.ErrorIs(t, err, rag.ErrRetrievalUnavailable)
	assert.Len(t, llm.requests, 1)
}

func TestToolsAgent_HandleToolErrors(t *testing.T) {
	llm := &scriptedLLM{responses: []*llms.ContentResponse{
		callTools(toolCall("c1", "web_search", `{"question":"x"}`)),
		answer("I could not search the web."),
	}}
	agent, err := NewToolsAgent(llm, newTools(t, fixedRetriever{}, fixedRetriever{}), WithHandleToolErrors(true))
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), Input{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "I could not search the web.", out)

	obs := llm.requests[1][len(llm.requests[1])-1].Parts[0].(llms.ToolCallResponse)
	assert.Contains(t, obs.Content, "unknown tool")
}

func TestToolsAgent_ModelError(t *testing.T) {
	boom := errors.New("upstream 500")
	agent, err := NewToolsAgent(&scriptedLLM{err: boom}, newTools(t, fixedRetriever{}, fixedRetriever{}))
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), Input{Question: "q"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, rag.ErrToolExecution)
}

func TestNewToolsAgent_NilModel(t *testing.T) {
	_, err := NewToolsAgent(nil, tool.Set{})
	assert.Error(t, err)
}

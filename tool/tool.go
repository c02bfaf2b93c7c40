// Package tool defines the closed set of retrieval tools exposed to the
// agent: knowledge_base and uploaded_document.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"
)

// Name identifies one of the known tools.
type Name string

const (
	// KnowledgeBase answers from the shared graph + vector corpus.
	KnowledgeBase Name = "knowledge_base"
	// UploadedDocument answers from the document attached to the request.
	UploadedDocument Name = "uploaded_document"
)

const (
	knowledgeBaseDescription    = "useful for comparing against documents and for questions about the organizations, people and policies in the knowledge base"
	uploadedDocumentDescription = "useful when you want to answer questions about the current uploaded document"
)

// inputSchema is shared by every tool: a single question string.
var inputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"question": map[string]any{
			"type":        "string",
			"description": "A standalone question for the tool",
		},
	},
	"required":             []string{"question"},
	"additionalProperties": false,
}

// Invoker answers a question for a tool.
type Invoker func(ctx context.Context, question string) (string, error)

// ContextRetriever produces a context block for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, question string) (string, error)
}

// Tool is a named retrieval function with the schema the model calls it with.
type Tool struct {
	name        Name
	description string
	invoke      Invoker
}

// New creates a tool. Only the known names are accepted.
func New(name Name, description string, invoke Invoker) (*Tool, error) {
	switch name {
	case KnowledgeBase, UploadedDocument:
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if invoke == nil {
		return nil, fmt.Errorf("tool %s: nil invoker", name)
	}
	return &Tool{name: name, description: description, invoke: invoke}, nil
}

// NewKnowledgeBase creates the knowledge_base tool on top of a hybrid retriever.
func NewKnowledgeBase(r ContextRetriever) *Tool {
	return &Tool{name: KnowledgeBase, description: knowledgeBaseDescription, invoke: r.Retrieve}
}

// NewUploadedDocument creates the uploaded_document tool: a retrieval QA
// chain over the retriever scoped to one upload.
func NewUploadedDocument(llm llms.Model, retriever schema.Retriever) *Tool {
	qa := chains.NewRetrievalQAFromLLM(llm, retriever)
	return &Tool{
		name:        UploadedDocument,
		description: uploadedDocumentDescription,
		invoke: func(ctx context.Context, question string) (string, error) {
			return chains.Run(ctx, qa, question)
		},
	}
}

// Name implements tools.Tool.
func (t *Tool) Name() string { return string(t.name) }

// Kind returns the tool's enumerated name.
func (t *Tool) Kind() Name { return t.name }

// Description implements tools.Tool.
func (t *Tool) Description() string { return t.description }

// InputSchema returns the JSON schema of the tool arguments.
func (t *Tool) InputSchema() map[string]any { return inputSchema }

// Definition returns the function declaration handed to the model.
func (t *Tool) Definition() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        string(t.name),
			Description: t.description,
			Parameters:  inputSchema,
		},
	}
}

// Invoke answers question. Failures come back as *rag.ToolError naming the tool.
func (t *Tool) Invoke(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", &rag.ToolError{Tool: string(t.name), Err: fmt.Errorf("%w: empty question", rag.ErrInvalidInput)}
	}
	out, err := t.invoke(ctx, question)
	if err != nil {
		return "", &rag.ToolError{Tool: string(t.name), Err: err}
	}
	return out, nil
}

// Call implements tools.Tool. The input is either the JSON arguments object
// or a bare question.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	question, err := ParseArguments(input)
	if err != nil {
		return "", &rag.ToolError{Tool: string(t.name), Err: err}
	}
	return t.Invoke(ctx, question)
}

// ParseArguments extracts the question from tool-call arguments.
func ParseArguments(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return "", fmt.Errorf("%w: malformed tool arguments: %v", rag.ErrInvalidInput, err)
	}
	return args.Question, nil
}

// Set is the tools available to one agent run, keyed by name.
type Set map[Name]*Tool

// NewSet builds a Set, rejecting duplicate names.
func NewSet(ts ...*Tool) (Set, error) {
	s := make(Set, len(ts))
	for _, t := range ts {
		if _, dup := s[t.name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", t.name)
		}
		s[t.name] = t
	}
	return s, nil
}

// Lookup finds a tool by the name the model used.
func (s Set) Lookup(name string) (*Tool, bool) {
	t, ok := s[Name(name)]
	return t, ok
}

// Definitions returns the function declarations in name order.
func (s Set) Definitions() []llms.Tool {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, string(n))
	}
	sort.Strings(names)
	defs := make([]llms.Tool, len(names))
	for i, n := range names {
		defs[i] = s[Name(n)].Definition()
	}
	return defs
}

var _ tools.Tool = (*Tool)(nil)

// Package extract pulls entity names out of questions with a language model.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/llms"
)

// SchemaName is the name of the function the model is forced to call.
const SchemaName = "Entities"

const (
	defaultSystemPrompt = "You are extracting organization and person entities from the text."
	defaultUserPrompt   = "Use the given format to extract information from the following input: %s"
)

// entitySchema is the JSON schema of the Entities function arguments.
var entitySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"names": map[string]any{
			"type":        "array",
			"description": "All the person, organization, or business entities that appear in the text",
			"items":       map[string]any{"type": "string"},
		},
	},
	"required": []string{"names"},
}

type entities struct {
	Names *[]string `json:"names"`
}

// LLMExtractor extracts person and organization names through a forced
// tool call, so the answer always has the shape {"names": [...]}.
type LLMExtractor struct {
	llm          llms.Model
	systemPrompt string
	logger       log.Logger
}

// Option configures an LLMExtractor.
type Option func(*LLMExtractor)

// WithSystemPrompt overrides the extraction instructions.
func WithSystemPrompt(prompt string) Option {
	return func(e *LLMExtractor) {
		e.systemPrompt = prompt
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *LLMExtractor) {
		e.logger = l
	}
}

// New creates an LLMExtractor backed by the given model.
func New(llm llms.Model, opts ...Option) *LLMExtractor {
	e := &LLMExtractor{
		llm:          llm,
		systemPrompt: defaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.OrDefault(e.logger)
	return e
}

// Extract returns the entity names found in text, in the order the model
// listed them. A model answer that does not match the schema yields
// rag.ErrExtractionSchemaViolation; no partial result is salvaged.
func (e *LLMExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, e.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(defaultUserPrompt, text)),
	}

	resp, err := e.llm.GenerateContent(ctx, messages,
		llms.WithTools([]llms.Tool{{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        SchemaName,
				Description: "Identifying information about entities.",
				Parameters:  entitySchema,
			},
		}}),
		llms.WithToolChoice(llms.ToolChoice{
			Type:     "function",
			Function: &llms.FunctionReference{Name: SchemaName},
		}),
		llms.WithTemperature(0),
	)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}

	names, err := parseResponse(resp)
	if err != nil {
		e.logger.Warn("entity extraction rejected: %v", err)
		return nil, err
	}
	e.logger.Debug("extracted %d entities: %s", len(names), strings.Join(names, ", "))
	return names, nil
}

func parseResponse(resp *llms.ContentResponse) ([]string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", rag.ErrExtractionSchemaViolation)
	}

	for _, choice := range resp.Choices {
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil || tc.FunctionCall.Name != SchemaName {
				continue
			}
			return decodeNames(tc.FunctionCall.Arguments)
		}
	}

	// Some providers ignore tool_choice and answer with plain JSON.
	if content := strings.TrimSpace(resp.Choices[0].Content); strings.HasPrefix(content, "{") {
		return decodeNames(content)
	}
	return nil, fmt.Errorf("%w: model did not call %s", rag.ErrExtractionSchemaViolation, SchemaName)
}

func decodeNames(raw string) ([]string, error) {
	var out entities
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", rag.ErrExtractionSchemaViolation, err)
	}
	if out.Names == nil {
		return nil, fmt.Errorf("%w: missing names", rag.ErrExtractionSchemaViolation)
	}
	names := make([]string, 0, len(*out.Names))
	for _, n := range *out.Names {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// GraphFunction is the function the model is forced to call with the graph
// it found in a chunk.
const GraphFunction = "DynamicGraph"

// PolicyPrompt steers extraction towards the commitments that AI usage and
// code of conduct policies make.
const PolicyPrompt = `Your purpose is to construct a knowledge base centred around the AI usage and limitation policies of other companies and organizations. Use the documents provided to form relations such as 'Complies with', 'Utilizes', 'Guarantees/Ensures', 'Privatizes', 'Protects', 'Enforces', 'Restricts', and other relations between the guarantees the documents mention. You will focus specifically on the 'Code of Conduct' aspect of these policies. Make sure to properly identify relations; if you are given a phrase such as 'CIBC intellectual property is protected by law', you should have relations such as (CIBC intellectual property) --- PROTECTED_BY ---> (law). Try to limit the number of 'Mentions' relations; consider if a more descriptive relation could be used to enhance later retrieval augmented generation.`

const transformUserPrompt = "Tip: Make sure to answer in the correct format and do not include any explanations. Use the given format to extract information from the following input: %s"

var graphSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"nodes": map[string]any{
			"type":        "array",
			"description": "List of nodes",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "description": "Name or human-readable unique identifier"},
					"type": map[string]any{"type": "string", "description": "The type or label of the node"},
				},
				"required": []string{"id", "type"},
			},
		},
		"relationships": map[string]any{
			"type":        "array",
			"description": "List of relationships",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source_node_id":   map[string]any{"type": "string"},
					"source_node_type": map[string]any{"type": "string"},
					"target_node_id":   map[string]any{"type": "string"},
					"target_node_type": map[string]any{"type": "string"},
					"type":             map[string]any{"type": "string", "description": "The type of the relationship"},
				},
				"required": []string{"source_node_id", "source_node_type", "target_node_id", "target_node_type", "type"},
			},
		},
	},
	"required": []string{"nodes", "relationships"},
}

type rawGraph struct {
	Nodes []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"nodes"`
	Relationships []struct {
		SourceID   string `json:"source_node_id"`
		SourceType string `json:"source_node_type"`
		TargetID   string `json:"target_node_id"`
		TargetType string `json:"target_node_type"`
		Type       string `json:"type"`
	} `json:"relationships"`
}

// Transformer turns a chunk into a graph document.
type Transformer interface {
	Transform(ctx context.Context, doc schema.Document) (rag.GraphDocument, error)
}

// LLMGraphTransformer extracts nodes and relationships with a forced tool
// call.
type LLMGraphTransformer struct {
	llm    llms.Model
	prompt string
}

// NewLLMGraphTransformer creates a transformer. An empty prompt selects
// PolicyPrompt.
func NewLLMGraphTransformer(llm llms.Model, prompt string) *LLMGraphTransformer {
	if prompt == "" {
		prompt = PolicyPrompt
	}
	return &LLMGraphTransformer{llm: llm, prompt: prompt}
}

// Transform implements Transformer.
func (t *LLMGraphTransformer) Transform(ctx context.Context, doc schema.Document) (rag.GraphDocument, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, t.prompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(transformUserPrompt, doc.PageContent)),
	}
	resp, err := t.llm.GenerateContent(ctx, messages,
		llms.WithTools([]llms.Tool{{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        GraphFunction,
				Description: "Represents a graph document consisting of nodes and relationships.",
				Parameters:  graphSchema,
			},
		}}),
		llms.WithToolChoice(llms.ToolChoice{
			Type:     "function",
			Function: &llms.FunctionReference{Name: GraphFunction},
		}),
		llms.WithTemperature(0),
	)
	if err != nil {
		return rag.GraphDocument{}, fmt.Errorf("transform chunk: %w", err)
	}

	raw, err := graphArguments(resp)
	if err != nil {
		return rag.GraphDocument{}, err
	}
	var g rawGraph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return rag.GraphDocument{}, fmt.Errorf("%w: %v", rag.ErrExtractionSchemaViolation, err)
	}
	return graphDocument(g, doc), nil
}

func graphArguments(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", rag.ErrExtractionSchemaViolation)
	}
	for _, choice := range resp.Choices {
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall != nil && tc.FunctionCall.Name == GraphFunction {
				return tc.FunctionCall.Arguments, nil
			}
		}
	}
	if content := strings.TrimSpace(resp.Choices[0].Content); strings.HasPrefix(content, "{") {
		return content, nil
	}
	return "", fmt.Errorf("%w: model did not call %s", rag.ErrExtractionSchemaViolation, GraphFunction)
}

// graphDocument normalises ids to title case, labels to capitalised words
// and relationship types to UPPER_SNAKE, dropping incomplete entries and
// duplicate nodes.
func graphDocument(g rawGraph, source schema.Document) rag.GraphDocument {
	out := rag.GraphDocument{Source: source}
	seen := map[string]bool{}
	addNode := func(n rag.Node) {
		key := n.Type + "\x00" + n.ID
		if !seen[key] {
			seen[key] = true
			out.Nodes = append(out.Nodes, n)
		}
	}

	for _, n := range g.Nodes {
		if node, ok := normalizeNode(n.ID, n.Type); ok {
			addNode(node)
		}
	}
	for _, r := range g.Relationships {
		src, ok1 := normalizeNode(r.SourceID, r.SourceType)
		dst, ok2 := normalizeNode(r.TargetID, r.TargetType)
		relType := relationshipType(r.Type)
		if !ok1 || !ok2 || relType == "" {
			continue
		}
		addNode(src)
		addNode(dst)
		out.Relationships = append(out.Relationships, rag.Relationship{Source: src, Target: dst, Type: relType})
	}
	return out
}

func normalizeNode(id, typ string) (rag.Node, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return rag.Node{}, false
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		typ = "Node"
	}
	// a Caser carries state, so each call gets its own
	title := cases.Title(language.English)
	return rag.Node{ID: title.String(id), Type: capitalize(typ)}, true
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func relationshipType(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), "_"))
}

package rag

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// MentionsRelation links source Document nodes to the entities they mention.
// It is never traversed by retrieval.
const MentionsRelation = "MENTIONS"

// EntityLabel is the base label carried by every extracted entity node.
const EntityLabel = "__Entity__"

// DocumentLabel is the label of chunk nodes indexed for vector search.
const DocumentLabel = "Document"

// EntityIndex is the name of the fulltext index over entity ids.
const EntityIndex = "entity"

// Dialect identifies the query language flavour spoken by a GraphStore.
type Dialect string

const (
	DialectNeo4j    Dialect = "neo4j"
	DialectFalkorDB Dialect = "falkordb"
)

// ParseDialect maps a backend name to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectNeo4j, "":
		return DialectNeo4j, nil
	case DialectFalkorDB:
		return DialectFalkorDB, nil
	default:
		return "", fmt.Errorf("unknown graph backend %q", s)
	}
}

// GraphStore runs read-only Cypher statements against a knowledge graph.
// Each row is keyed by the statement's RETURN aliases.
type GraphStore interface {
	Query(ctx context.Context, stmt string, params map[string]any) ([]map[string]any, error)
	Dialect() Dialect
}

// GraphWriter persists extracted graph documents and maintains the indexes
// the retrievers depend on.
type GraphWriter interface {
	AddGraphDocuments(ctx context.Context, docs []GraphDocument) error
	EnsureEntityIndex(ctx context.Context) error
}

// VectorIndex performs similarity search over Document chunks.
// Any langchaingo vectorstores.VectorStore satisfies it.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error)
}

// EntityExtractor pulls person and organization names out of free text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Triple is a directed relation between two graph nodes.
type Triple struct {
	From string
	Type string
	To   string
}

// String renders the triple as "<from> - <TYPE> -> <to>".
func (t Triple) String() string {
	return t.From + " - " + t.Type + " -> " + t.To
}

// Node is an extracted graph node.
type Node struct {
	ID         string
	Type       string
	Properties map[string]any
}

// Relationship is an extracted directed edge.
type Relationship struct {
	Source     Node
	Target     Node
	Type       string
	Properties map[string]any
}

// GraphDocument is the graph extracted from a single source chunk.
type GraphDocument struct {
	Nodes         []Node
	Relationships []Relationship
	Source        schema.Document
}

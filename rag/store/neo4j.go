package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
)

// runFunc executes one statement and returns its records as maps.
type runFunc func(ctx context.Context, stmt string, params map[string]any, write bool) ([]map[string]any, error)

// Neo4jGraph is a GraphStore and GraphWriter backed by the Neo4j Go driver.
type Neo4jGraph struct {
	driver   neo4j.DriverWithContext
	database string
	logger   log.Logger
	run      runFunc
}

// Neo4jOption configures a Neo4jGraph.
type Neo4jOption func(*Neo4jGraph)

// WithDatabase selects the Neo4j database. Empty means the server default.
func WithDatabase(name string) Neo4jOption {
	return func(g *Neo4jGraph) {
		g.database = name
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Neo4jOption {
	return func(g *Neo4jGraph) {
		g.logger = l
	}
}

// NewNeo4jGraph connects to Neo4j and verifies connectivity.
func NewNeo4jGraph(ctx context.Context, uri, username, password string, opts ...Neo4jOption) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", uri, err)
	}

	g := newNeo4jGraph(nil, opts...)
	g.driver = driver
	g.run = g.runSession
	return g, nil
}

func newNeo4jGraph(run runFunc, opts ...Neo4jOption) *Neo4jGraph {
	g := &Neo4jGraph{run: run}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = log.OrDefault(g.logger)
	return g
}

func (g *Neo4jGraph) runSession(ctx context.Context, stmt string, params map[string]any, write bool) ([]map[string]any, error) {
	mode := neo4j.AccessModeRead
	if write {
		mode = neo4j.AccessModeWrite
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: g.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, stmt, params)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	for result.Next(ctx) {
		rows = append(rows, result.Record().AsMap())
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Query runs a read statement.
func (g *Neo4jGraph) Query(ctx context.Context, stmt string, params map[string]any) ([]map[string]any, error) {
	return g.run(ctx, stmt, params, false)
}

// Execute runs a write statement and discards its records.
func (g *Neo4jGraph) Execute(ctx context.Context, stmt string, params map[string]any) error {
	_, err := g.run(ctx, stmt, params, true)
	return err
}

// Dialect implements rag.GraphStore.
func (g *Neo4jGraph) Dialect() rag.Dialect {
	return rag.DialectNeo4j
}

// EnsureEntityIndex creates the fulltext index over entity ids.
func (g *Neo4jGraph) EnsureEntityIndex(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (e:%s) ON EACH [e.id]", rag.EntityIndex, rag.EntityLabel)
	if err := g.Execute(ctx, stmt, nil); err != nil {
		return fmt.Errorf("create entity index: %w", err)
	}
	return nil
}

// AddGraphDocuments merges the nodes and relationships of each document.
// Every node also gets the base entity label, and the source chunk is stored
// as a Document node linked to its entities with MENTIONS.
func (g *Neo4jGraph) AddGraphDocuments(ctx context.Context, docs []rag.GraphDocument) error {
	for _, doc := range docs {
		sourceID := DocumentID(doc.Source.PageContent)
		err := g.Execute(ctx, fmt.Sprintf("MERGE (d:%s {id: $id}) SET d.text = $text, d += $metadata", rag.DocumentLabel), map[string]any{
			"id":       sourceID,
			"text":     doc.Source.PageContent,
			"metadata": primitiveProperties(doc.Source.Metadata),
		})
		if err != nil {
			return fmt.Errorf("merge source document: %w", err)
		}

		for label, nodes := range groupNodes(doc.Nodes) {
			stmt := fmt.Sprintf(`UNWIND $nodes AS n
MERGE (e:%s {id: n.id})
SET e:%s, e += n.properties
WITH e
MATCH (d:%s {id: $source})
MERGE (d)-[:%s]->(e)`, rag.EntityLabel, label, rag.DocumentLabel, rag.MentionsRelation)
			if err := g.Execute(ctx, stmt, map[string]any{"nodes": nodes, "source": sourceID}); err != nil {
				return fmt.Errorf("merge %s nodes: %w", label, err)
			}
		}

		for relType, rels := range groupRelationships(doc.Relationships) {
			stmt := fmt.Sprintf(`UNWIND $rels AS r
MERGE (s:%s {id: r.source})
MERGE (t:%s {id: r.target})
MERGE (s)-[rel:%s]->(t)
SET rel += r.properties`, rag.EntityLabel, rag.EntityLabel, relType)
			if err := g.Execute(ctx, stmt, map[string]any{"rels": rels}); err != nil {
				return fmt.Errorf("merge %s relationships: %w", relType, err)
			}
		}
		g.logger.Debug("stored graph document %s: %d nodes, %d relationships", sourceID, len(doc.Nodes), len(doc.Relationships))
	}
	return nil
}

// Close closes the driver.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	if g.driver != nil {
		return g.driver.Close(ctx)
	}
	return nil
}

// Delete removes every node and relationship of the database.
func (g *Neo4jGraph) Delete(ctx context.Context) error {
	if err := g.Execute(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		return fmt.Errorf("delete graph: %w", err)
	}
	g.logger.Info("deleted all nodes")
	return nil
}

// DocumentID derives a stable id for a source chunk from its text.
func DocumentID(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

var labelRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeLabel makes a label or relationship type safe to inline in Cypher.
func sanitizeLabel(l string) string {
	clean := labelRegex.ReplaceAllString(l, "_")
	if clean == "" {
		return "Entity"
	}
	if clean[0] >= '0' && clean[0] <= '9' {
		clean = "_" + clean
	}
	return clean
}

func groupNodes(nodes []rag.Node) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		label := sanitizeLabel(n.Type)
		out[label] = append(out[label], map[string]any{
			"id":         n.ID,
			"properties": primitiveProperties(n.Properties),
		})
	}
	return out
}

func groupRelationships(rels []rag.Relationship) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, r := range rels {
		if r.Source.ID == "" || r.Target.ID == "" {
			continue
		}
		relType := sanitizeLabel(r.Type)
		out[relType] = append(out[relType], map[string]any{
			"source":     r.Source.ID,
			"target":     r.Target.ID,
			"properties": primitiveProperties(r.Properties),
		})
	}
	return out
}

// primitiveProperties keeps the values a graph property can hold and
// stringifies the rest.
func primitiveProperties(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case nil:
		case string, bool, int, int32, int64, float32, float64:
			out[k] = v
		case []string:
			out[k] = v
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

var (
	_ rag.GraphStore  = (*Neo4jGraph)(nil)
	_ rag.GraphWriter = (*Neo4jGraph)(nil)
)

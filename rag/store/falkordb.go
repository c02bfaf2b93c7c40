package store

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
)

// FalkorDBGraph is a GraphStore and GraphWriter backed by FalkorDB, spoken to
// through go-redis with GRAPH.QUERY.
type FalkorDBGraph struct {
	client    redis.UniversalClient
	graphName string
	logger    log.Logger
}

// NewFalkorDBGraph creates a FalkorDB graph from a connection string of the
// form falkordb://host:port/graph_name.
func NewFalkorDBGraph(connectionString string, logger log.Logger) (*FalkorDBGraph, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	addr := u.Host
	if addr == "" {
		return nil, fmt.Errorf("invalid connection string: missing host")
	}
	graphName := strings.TrimPrefix(u.Path, "/")
	if graphName == "" {
		graphName = "hybridrag"
	}

	opts := &redis.Options{Addr: addr}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	return NewFalkorDBGraphWithClient(redis.NewClient(opts), graphName, logger), nil
}

// NewFalkorDBGraphWithClient wraps an existing redis client.
func NewFalkorDBGraphWithClient(client redis.UniversalClient, graphName string, logger log.Logger) *FalkorDBGraph {
	return &FalkorDBGraph{
		client:    client,
		graphName: graphName,
		logger:    log.OrDefault(logger),
	}
}

// Dialect implements rag.GraphStore.
func (f *FalkorDBGraph) Dialect() rag.Dialect {
	return rag.DialectFalkorDB
}

// Query runs a statement with parameters and returns one map per row keyed
// by column name.
func (f *FalkorDBGraph) Query(ctx context.Context, stmt string, params map[string]any) ([]map[string]any, error) {
	res, err := f.client.Do(ctx, "GRAPH.QUERY", f.graphName, withParams(stmt, params)).Result()
	if err != nil {
		return nil, err
	}
	return parseQueryResult(res)
}

// EnsureEntityIndex creates the RediSearch fulltext index over entity ids.
func (f *FalkorDBGraph) EnsureEntityIndex(ctx context.Context) error {
	stmt := fmt.Sprintf("CALL db.idx.fulltext.createNodeIndex('%s', 'id')", rag.EntityLabel)
	if _, err := f.Query(ctx, stmt, nil); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already indexed") {
		return fmt.Errorf("create entity index: %w", err)
	}
	return nil
}

// AddGraphDocuments merges the nodes and relationships of each document and
// links them to their source Document node.
func (f *FalkorDBGraph) AddGraphDocuments(ctx context.Context, docs []rag.GraphDocument) error {
	for _, doc := range docs {
		sourceID := DocumentID(doc.Source.PageContent)
		_, err := f.Query(ctx, fmt.Sprintf("MERGE (d:%s {id: $id}) SET d.text = $text, d += $metadata", rag.DocumentLabel), map[string]any{
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
			if _, err := f.Query(ctx, stmt, map[string]any{"nodes": nodes, "source": sourceID}); err != nil {
				return fmt.Errorf("merge %s nodes: %w", label, err)
			}
		}

		for relType, rels := range groupRelationships(doc.Relationships) {
			stmt := fmt.Sprintf(`UNWIND $rels AS r
MERGE (s:%s {id: r.source})
MERGE (t:%s {id: r.target})
MERGE (s)-[rel:%s]->(t)
SET rel += r.properties`, rag.EntityLabel, rag.EntityLabel, relType)
			if _, err := f.Query(ctx, stmt, map[string]any{"rels": rels}); err != nil {
				return fmt.Errorf("merge %s relationships: %w", relType, err)
			}
		}
		f.logger.Debug("stored graph document %s in %s", sourceID, f.graphName)
	}
	return nil
}

// Delete drops the whole graph. A graph that was never created is left alone.
func (f *FalkorDBGraph) Delete(ctx context.Context) error {
	n, err := f.client.Exists(ctx, f.graphName).Result()
	if err != nil {
		return fmt.Errorf("check graph %s: %w", f.graphName, err)
	}
	if n == 0 {
		return nil
	}
	if err := f.client.Do(ctx, "GRAPH.DELETE", f.graphName).Err(); err != nil {
		return fmt.Errorf("delete graph %s: %w", f.graphName, err)
	}
	f.logger.Info("deleted graph %s", f.graphName)
	return nil
}

// Close closes the client.
func (f *FalkorDBGraph) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// withParams prefixes stmt with a CYPHER header carrying params as literals.
func withParams(stmt string, params map[string]any) string {
	if len(params) == 0 {
		return stmt
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER")
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(cypherLiteral(params[k]))
	}
	b.WriteString(" ")
	b.WriteString(stmt)
	return b.String()
}

func cypherLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return quoteString(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = quoteString(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = cypherLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []map[string]any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = cypherLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = sanitizeLabel(k) + ": " + cypherLiteral(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return quoteString(fmt.Sprint(x))
	}
}

func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// parseQueryResult decodes a GRAPH.QUERY reply of the form
// [header, rows, statistics]. Writes without RETURN reply with statistics only.
func parseQueryResult(res any) ([]map[string]any, error) {
	r, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", res)
	}
	if len(r) < 3 {
		return nil, nil
	}

	header, ok := r[0].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected header type: %T", r[0])
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = columnName(h)
	}

	rawRows, ok := r[1].([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected rows type: %T", r[1])
	}
	rows := make([]map[string]any, 0, len(rawRows))
	for _, raw := range rawRows {
		values, ok := raw.([]any)
		if !ok {
			continue
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if i < len(values) {
				row[c] = values[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnName accepts both plain and [type, name] header entries.
func columnName(h any) string {
	switch x := h.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case []any:
		if len(x) == 2 {
			return columnName(x[1])
		}
	}
	return fmt.Sprint(h)
}

var (
	_ rag.GraphStore  = (*FalkorDBGraph)(nil)
	_ rag.GraphWriter = (*FalkorDBGraph)(nil)
)

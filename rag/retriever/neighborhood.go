package retriever

import (
	"context"
	"fmt"

	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
)

const (
	// DefaultCandidateLimit is the number of fulltext matches expanded per entity.
	DefaultCandidateLimit = 2
	// DefaultRelationLimit caps the relation rows returned per entity.
	DefaultRelationLimit = 50
)

const neo4jNeighborhoodQuery = `CALL db.index.fulltext.queryNodes($index, $query, {limit: $candidates})
YIELD node
CALL {
  WITH node
  MATCH (node)-[r:!MENTIONS]->(neighbor)
  RETURN node.id AS source, type(r) AS relation, neighbor.id AS target
  UNION ALL
  WITH node
  MATCH (node)<-[r:!MENTIONS]-(neighbor)
  RETURN neighbor.id AS source, type(r) AS relation, node.id AS target
}
RETURN source, relation, target
LIMIT $relations`

const falkorNeighborhoodQuery = `CALL db.idx.fulltext.queryNodes($label, $query)
YIELD node
WITH node LIMIT $candidates
MATCH (node)-[r]-(neighbor)
WHERE type(r) <> 'MENTIONS'
WITH node, r, neighbor, startNode(r) = node AS outgoing
RETURN CASE WHEN outgoing THEN node.id ELSE neighbor.id END AS source,
       type(r) AS relation,
       CASE WHEN outgoing THEN neighbor.id ELSE node.id END AS target
LIMIT $relations`

// NeighborhoodResolver expands an entity name into the relations around the
// graph nodes that best match it.
type NeighborhoodResolver struct {
	store          rag.GraphStore
	candidateLimit int
	relationLimit  int
	logger         log.Logger
}

// ResolverOption configures a NeighborhoodResolver.
type ResolverOption func(*NeighborhoodResolver)

// WithCandidateLimit sets how many fulltext matches are expanded.
func WithCandidateLimit(n int) ResolverOption {
	return func(r *NeighborhoodResolver) {
		if n > 0 {
			r.candidateLimit = n
		}
	}
}

// WithRelationLimit sets the maximum number of relations returned per entity.
func WithRelationLimit(n int) ResolverOption {
	return func(r *NeighborhoodResolver) {
		if n > 0 {
			r.relationLimit = n
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l log.Logger) ResolverOption {
	return func(r *NeighborhoodResolver) {
		r.logger = l
	}
}

// NewNeighborhoodResolver creates a resolver over the given graph store.
func NewNeighborhoodResolver(store rag.GraphStore, opts ...ResolverOption) *NeighborhoodResolver {
	r := &NeighborhoodResolver{
		store:          store,
		candidateLimit: DefaultCandidateLimit,
		relationLimit:  DefaultRelationLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.OrDefault(r.logger)
	return r
}

// Resolve returns the rendered triples around entity, at most relationLimit
// of them. MENTIONS relations are never returned. An entity with no
// searchable terms yields no rows without touching the store.
func (r *NeighborhoodResolver) Resolve(ctx context.Context, entity string) ([]string, error) {
	dialect := r.store.Dialect()
	query, err := rag.BuildFulltextQuery(dialect, entity)
	if err != nil {
		r.logger.Debug("entity %q has no searchable terms", entity)
		return nil, nil
	}

	stmt, params := r.statement(dialect, query)
	rows, err := r.store.Query(ctx, stmt, params)
	if err != nil {
		return nil, rag.Unavailable(fmt.Sprintf("resolve %q", entity), err)
	}

	out := make([]string, 0, min(len(rows), r.relationLimit))
	for _, row := range rows {
		if len(out) >= r.relationLimit {
			break
		}
		t, ok := tripleFromRow(row)
		if !ok || t.Type == rag.MentionsRelation {
			continue
		}
		out = append(out, t.String())
	}
	r.logger.Debug("entity %q resolved to %d relations", entity, len(out))
	return out, nil
}

func (r *NeighborhoodResolver) statement(d rag.Dialect, query string) (string, map[string]any) {
	if d == rag.DialectFalkorDB {
		return falkorNeighborhoodQuery, map[string]any{
			"label":      rag.EntityLabel,
			"query":      query,
			"candidates": r.candidateLimit,
			"relations":  r.relationLimit,
		}
	}
	return neo4jNeighborhoodQuery, map[string]any{
		"index":      rag.EntityIndex,
		"query":      query,
		"candidates": r.candidateLimit,
		"relations":  r.relationLimit,
	}
}

func tripleFromRow(row map[string]any) (rag.Triple, bool) {
	source, ok1 := asString(row["source"])
	relation, ok2 := asString(row["relation"])
	target, ok3 := asString(row["target"])
	if !ok1 || !ok2 || !ok3 {
		return rag.Triple{}, false
	}
	return rag.Triple{From: source, Type: relation, To: target}, true
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	default:
		return fmt.Sprint(x), true
	}
}

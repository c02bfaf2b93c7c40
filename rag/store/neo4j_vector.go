package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

const (
	defaultVectorIndex  = "vector"
	defaultKeywordIndex = "keyword"
	defaultEmbedBatch   = 64
)

// hybridSearchQuery merges the vector and keyword indexes, normalising each
// side by its best score.
const hybridSearchQuery = `CALL {
  CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score
  WITH collect({node: node, score: score}) AS nodes, max(score) AS max
  UNWIND nodes AS n
  RETURN n.node AS node, (n.score / max) AS score
  UNION
  CALL db.index.fulltext.queryNodes($keyword_index, $query, {limit: $k}) YIELD node, score
  WITH collect({node: node, score: score}) AS nodes, max(score) AS max
  UNWIND nodes AS n
  RETURN n.node AS node, (n.score / max) AS score
}
WITH node, max(score) AS score ORDER BY score DESC LIMIT $k
RETURN node.text AS text, score, node {.*, text: Null, embedding: Null, id: Null} AS metadata`

const vectorSearchQuery = `CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score
RETURN node.text AS text, score, node {.*, text: Null, embedding: Null, id: Null} AS metadata`

// Neo4jVector is a hybrid vector + keyword index over Document nodes.
// It satisfies vectorstores.VectorStore.
type Neo4jVector struct {
	graph        *Neo4jGraph
	embedder     embeddings.Embedder
	indexName    string
	keywordIndex string
	logger       log.Logger
}

// NewNeo4jVector creates a Neo4jVector on top of an existing connection.
func NewNeo4jVector(graph *Neo4jGraph, embedder embeddings.Embedder) *Neo4jVector {
	return &Neo4jVector{
		graph:        graph,
		embedder:     embedder,
		indexName:    defaultVectorIndex,
		keywordIndex: defaultKeywordIndex,
		logger:       graph.logger,
	}
}

// SimilaritySearch returns the numDocuments best Document chunks for query.
// Text without searchable keywords falls back to pure vector search.
func (v *Neo4jVector) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	embedder := v.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}

	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	params := map[string]any{
		"index":     v.indexName,
		"k":         numDocuments,
		"embedding": toFloat64s(vec),
	}
	stmt := vectorSearchQuery
	if keywords := rag.RemoveLuceneChars(query); keywords != "" {
		stmt = hybridSearchQuery
		params["keyword_index"] = v.keywordIndex
		params["query"] = keywords
	}

	rows, err := v.graph.Query(ctx, stmt, params)
	if err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		text, _ := row["text"].(string)
		score, _ := row["score"].(float64)
		if opts.ScoreThreshold > 0 && float32(score) < opts.ScoreThreshold {
			continue
		}
		metadata := map[string]any{}
		if m, ok := row["metadata"].(map[string]any); ok {
			for k, val := range m {
				if val != nil {
					metadata[k] = val
				}
			}
		}
		docs = append(docs, schema.Document{PageContent: text, Metadata: metadata, Score: float32(score)})
	}
	return docs, nil
}

// AddDocuments embeds and stores docs as Document nodes.
func (v *Neo4jVector) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := v.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, errors.New("embedder returned a different number of vectors than documents")
	}

	ids := make([]string, len(docs))
	rows := make([]map[string]any, len(docs))
	for i, d := range docs {
		ids[i] = DocumentID(d.PageContent)
		rows[i] = map[string]any{
			"id":        ids[i],
			"text":      d.PageContent,
			"metadata":  primitiveProperties(d.Metadata),
			"embedding": toFloat64s(vectors[i]),
		}
	}

	stmt := fmt.Sprintf(`UNWIND $rows AS row
MERGE (d:%s {id: row.id})
SET d.text = row.text, d += row.metadata
WITH d, row
CALL db.create.setNodeVectorProperty(d, 'embedding', row.embedding)`, rag.DocumentLabel)
	if err := v.graph.Execute(ctx, stmt, map[string]any{"rows": rows}); err != nil {
		return nil, fmt.Errorf("store documents: %w", err)
	}
	return ids, nil
}

// EnsureIndexes creates the vector index with the given dimensions and the
// keyword index over Document text.
func (v *Neo4jVector) EnsureIndexes(ctx context.Context, dimensions int) error {
	vectorStmt := fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (d:%s) ON (d.embedding) "+
		"OPTIONS {indexConfig: {`vector.dimensions`: $dimensions, `vector.similarity_function`: 'cosine'}}",
		v.indexName, rag.DocumentLabel)
	if err := v.graph.Execute(ctx, vectorStmt, map[string]any{"dimensions": dimensions}); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	keywordStmt := fmt.Sprintf("CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (d:%s) ON EACH [d.text]", v.keywordIndex, rag.DocumentLabel)
	if err := v.graph.Execute(ctx, keywordStmt, nil); err != nil {
		return fmt.Errorf("create keyword index: %w", err)
	}
	return nil
}

// Dimensions reports the size of the embedder's vectors.
func (v *Neo4jVector) Dimensions(ctx context.Context) (int, error) {
	vec, err := v.embedder.EmbedQuery(ctx, "dimensions")
	if err != nil {
		return 0, fmt.Errorf("measure embedding dimensions: %w", err)
	}
	if len(vec) == 0 {
		return 0, errors.New("embedder returned an empty vector")
	}
	return len(vec), nil
}

// EmbedMissing embeds Document nodes that have text but no embedding yet and
// returns how many were updated.
func (v *Neo4jVector) EmbedMissing(ctx context.Context) (int, error) {
	selectStmt := fmt.Sprintf(`MATCH (d:%s) WHERE d.embedding IS NULL AND d.text IS NOT NULL
RETURN elementId(d) AS id, d.text AS text LIMIT $batch`, rag.DocumentLabel)
	const updateStmt = `UNWIND $rows AS row
MATCH (d) WHERE elementId(d) = row.id
CALL db.create.setNodeVectorProperty(d, 'embedding', row.embedding)`

	total := 0
	for {
		rows, err := v.graph.Query(ctx, selectStmt, map[string]any{"batch": defaultEmbedBatch})
		if err != nil {
			return total, fmt.Errorf("select documents without embeddings: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		texts := make([]string, len(rows))
		for i, r := range rows {
			texts[i], _ = r["text"].(string)
		}
		vectors, err := v.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embed documents: %w", err)
		}
		if len(vectors) != len(rows) {
			return total, errors.New("embedder returned a different number of vectors than documents")
		}

		updates := make([]map[string]any, len(rows))
		for i, r := range rows {
			updates[i] = map[string]any{"id": r["id"], "embedding": toFloat64s(vectors[i])}
		}
		if err := v.graph.Execute(ctx, updateStmt, map[string]any{"rows": updates}); err != nil {
			return total, fmt.Errorf("store embeddings: %w", err)
		}
		total += len(rows)
		v.logger.Debug("embedded %d documents", total)
	}
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

var (
	_ vectorstores.VectorStore = (*Neo4jVector)(nil)
	_ rag.VectorIndex          = (*Neo4jVector)(nil)
)

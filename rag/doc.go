// Package rag holds the building blocks shared by the hybrid retrieval
// pipeline: the graph and vector store contracts, the fuzzy fulltext query
// builder, context composition and the error taxonomy.
//
// Structured context comes from a knowledge graph. Entity names extracted
// from the question are matched against the `entity` fulltext index and
// expanded into their one-hop neighbourhood, rendered as triples:
//
//	Acme Corp - COMPLIES_WITH -> GDPR
//
// Unstructured context comes from a hybrid (vector + keyword) index over
// `Document` chunks. Both halves are fused by ComposeContext:
//
//	Structured data:
//	Acme Corp - COMPLIES_WITH -> GDPR
//	Unstructured data:
//	- Document Acme Corp publishes a yearly privacy report...
//
// Sub-packages provide the concrete pieces:
//
//   - rag/extract: entity extraction through a forced LLM tool call
//   - rag/retriever: neighbourhood, structured, vector and hybrid retrievers
//   - rag/store: Neo4j and FalkorDB graph stores, Neo4j hybrid vector index
package rag

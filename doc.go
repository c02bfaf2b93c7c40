// Package hybridrag answers questions over a document corpus by fusing a
// knowledge graph with vector similarity search.
//
// Offline, cmd/hybridrag-ingest turns a directory of PDFs into entity and
// relationship nodes (linked by MENTIONS to the chunks they came from) and
// a vector index over those chunks. Online, cmd/hybridrag-api answers
// questions with a tool-calling agent that can consult two tools:
//
//   - knowledge_base: entities named in the question are looked up in the
//     graph fulltext index, their neighbourhoods rendered as triples, and
//     the triples combined with the closest chunks from the vector index.
//   - uploaded_document: a retrieval QA chain over the PDF the caller
//     uploaded for this conversation.
//
// # Packages
//
//   - rag: shared types, the fuzzy fulltext query builder, context
//     composition and the error values.
//   - rag/extract: entity extraction with a forced tool call.
//   - rag/retriever: neighbourhood resolution and structured, vector and
//     hybrid retrievers.
//   - rag/store: Neo4j and FalkorDB graph stores and the Neo4j hybrid index.
//   - graph: the typed state graph that runs the agent loop and the
//     ingestion pipeline.
//   - tool, prebuilt: the closed tool set and the tools agent.
//   - upload: upload records, file storage and per-upload embeddings.
//   - ingest: the ingestion pipeline.
//   - service, server, client: the query service, its HTTP API and a
//     client for it.
//   - config, log, metrics, app: configuration, logging, Prometheus metrics
//     and client wiring.
package hybridrag

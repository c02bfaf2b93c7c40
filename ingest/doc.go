// Package ingest builds the knowledge graph and the Document vector index
// from a directory of source files.
//
// The pipeline is a graph.StateGraph with one node per stage:
//
//	discover -> load -> split -> transform -> write -> index
//
// Discovery walks the directory recursively for PDFs (and any extra
// extensions registered with WithLoader). Chunks are converted to graph
// documents by an LLM graph transformer, written with the base entity label
// and MENTIONS links to their source chunk, and finally the entity fulltext
// index and the Document vector and keyword indexes are ensured and missing
// embeddings are filled in.
package ingest

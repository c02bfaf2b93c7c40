// Package upload manages documents uploaded for per-request questions: the
// upload records (Postgres or SQLite), the stored files, and the per-upload
// pgvector collections their chunks are embedded into.
//
// An upload moves through three states:
//
//	uploaded -> embedded
//	uploaded -> failed
//
// Only embedded uploads can be queried.
package upload

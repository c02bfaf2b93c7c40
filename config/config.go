// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
)

// Config holds the settings of the API server and the ingestion command.
type Config struct {
	// Server
	ServerHost     string
	ServerPort     string
	RootPath       string
	QueryTimeout   time.Duration
	MaxUploadBytes int64
	UploadDir      string

	// Models
	ModelName      string
	EmbeddingModel string
	OpenAIAPIKey   string
	OpenAIBaseURL  string

	// Graph
	GraphBackend   rag.Dialect
	Neo4jURI       string
	Neo4jUsername  string
	Neo4jPassword  string
	Neo4jDatabase  string
	FalkorDBURL    string
	CandidateLimit int
	RelationLimit  int
	VectorTopK     int

	// Uploads
	UploadBackend string
	PostgresURL   string
	SQLitePath    string
	RedisURL      string

	// Agent
	MaxIterations int
	// HandleToolErrors hands a failing tool's error back to the model
	// instead of failing the query.
	HandleToolErrors bool

	// Ingestion
	PDFPath      string
	ChunkSize    int
	ChunkOverlap int

	LogLevel log.LogLevel
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		RootPath:       "/" + strings.Trim(getEnv("ROOT_PATH", "/api/v1"), "/"),
		UploadDir:      getEnv("UPLOAD_DIR", "/uploads"),
		ModelName:      getEnv("MODEL_NAME", "gpt-4o"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		Neo4jURI:       getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUsername:  getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword:  getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:  getEnv("NEO4J_DATABASE", ""),
		FalkorDBURL:    getEnv("FALKORDB_URL", "falkordb://localhost:6379/hybridrag"),
		UploadBackend:  getEnv("UPLOAD_BACKEND", "postgres"),
		PostgresURL:    getEnv("POSTGRES_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "uploads.db"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PDFPath:        getEnv("PDF_PATH", ""),
		CandidateLimit: intVar("FULLTEXT_CANDIDATE_LIMIT", 2),
		RelationLimit:  intVar("RELATION_ROW_LIMIT", 50),
		VectorTopK:     intVar("VECTOR_TOP_K", 4),
		MaxIterations:  intVar("AGENT_MAX_ITERATIONS", 8),
		ChunkSize:      intVar("CHUNK_SIZE", 512),
		ChunkOverlap:   intVar("CHUNK_OVERLAP", 24),
	}
	if cfg.RootPath == "/" {
		cfg.RootPath = ""
	}

	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	timeout, err := time.ParseDuration(getEnv("QUERY_TIMEOUT", "2m"))
	if err != nil {
		errs = append(errs, fmt.Errorf("QUERY_TIMEOUT: %w", err))
	}
	cfg.QueryTimeout = timeout

	cfg.GraphBackend, err = rag.ParseDialect(getEnv("GRAPH_BACKEND", "neo4j"))
	if err != nil {
		errs = append(errs, fmt.Errorf("GRAPH_BACKEND: %w", err))
	}

	cfg.HandleToolErrors, err = getEnvBool("AGENT_HANDLE_TOOL_ERRORS", true)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.LogLevel, err = log.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports missing settings the API server cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	switch c.GraphBackend {
	case rag.DialectNeo4j:
		if c.Neo4jPassword == "" {
			missing = append(missing, "NEO4J_PASSWORD")
		}
	case rag.DialectFalkorDB:
		if c.FalkorDBURL == "" {
			missing = append(missing, "FALKORDB_URL")
		}
	}
	// the upload index lives in pgvector whatever holds the records
	if c.PostgresURL == "" {
		missing = append(missing, "POSTGRES_URL")
	}
	switch c.UploadBackend {
	case "postgres":
	case "sqlite":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case "redis":
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return fmt.Errorf("UPLOAD_BACKEND must be postgres, sqlite or redis, got %q", c.UploadBackend)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateIngest reports missing settings the ingestion command needs.
// Postgres is only needed when the graph backend keeps no embeddings.
func (c *Config) ValidateIngest() error {
	var missing []string
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.PDFPath == "" {
		missing = append(missing, "PDF_PATH")
	}
	switch c.GraphBackend {
	case rag.DialectNeo4j:
		if c.Neo4jPassword == "" {
			missing = append(missing, "NEO4J_PASSWORD")
		}
	case rag.DialectFalkorDB:
		if c.PostgresURL == "" {
			missing = append(missing, "POSTGRES_URL")
		}
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Address is the listen address of the API server.
func (c *Config) Address() string {
	return c.ServerHost + ":" + c.ServerPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue, fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a boolean, got %q", key, value)
	}
	return b, nil
}

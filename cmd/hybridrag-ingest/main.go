// Command hybridrag-ingest builds the knowledge graph and the vector index
// from a directory of PDFs.
//
// Usage:
//
//	hybridrag-ingest -pdf-path ./policies
//
// The exit status is the only result.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallnest/hybridrag/app"
	"github.com/smallnest/hybridrag/config"
	"github.com/smallnest/hybridrag/ingest"
	"github.com/smallnest/hybridrag/log"
)

var (
	pdfPath     = flag.String("pdf-path", "", "Directory searched recursively for PDFs (default: $PDF_PATH)")
	includeHTML = flag.Bool("include-html", false, "Also ingest .html and .htm files")
	concurrency = flag.Int("concurrency", 4, "Chunks transformed at once")
	prompt      = flag.String("prompt", "", "System prompt for graph extraction (default: the policy prompt)")
	reset       = flag.Bool("reset", false, "Delete the existing graph before writing the new one")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config: %v", err)
		os.Exit(1)
	}
	if *pdfPath != "" {
		cfg.PDFPath = *pdfPath
	}
	if err := cfg.ValidateIngest(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
	log.SetLogLevel(cfg.LogLevel)
	logger := log.GetDefaultLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ingestion failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("close clients: %v", err)
		}
	}()

	opts := []ingest.Option{
		ingest.WithSplitter(a.Splitter()),
		ingest.WithConcurrency(*concurrency),
		ingest.WithLogger(logger),
	}
	if *includeHTML {
		opts = append(opts, ingest.WithLoader(".html", ingest.LoadHTML), ingest.WithLoader(".htm", ingest.LoadHTML))
	}
	if a.Documents != nil {
		opts = append(opts, ingest.WithDocumentStore(a.Documents))
	}
	if *reset {
		opts = append(opts, ingest.WithReset())
	}

	pipeline, err := ingest.NewPipeline(a.Writer, ingest.NewLLMGraphTransformer(a.LLM, *prompt), a.Indexer, opts...)
	if err != nil {
		return err
	}
	_, err = pipeline.Run(ctx, cfg.PDFPath)
	return err
}

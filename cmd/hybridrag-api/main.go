// Command hybridrag-api serves the hybrid graph + vector question answering
// API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smallnest/hybridrag/app"
	"github.com/smallnest/hybridrag/config"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/metrics"
	"github.com/smallnest/hybridrag/server"
	"github.com/smallnest/hybridrag/service"
	"github.com/smallnest/hybridrag/upload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
	log.SetLogLevel(cfg.LogLevel)
	logger := log.GetDefaultLogger()

	if err := run(cfg, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger log.Logger) error {
	ctx := context.Background()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("close clients: %v", err)
		}
	}()

	repo, err := a.UploadRepository(ctx)
	if err != nil {
		return err
	}
	manager, err := a.UploadManager(repo)
	if err != nil {
		return err
	}
	files, err := upload.NewFileStorage(cfg.UploadDir)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("hybridrag")
	svc, err := service.New(service.Dependencies{
		LLM:              a.LLM,
		Knowledge:        a.KnowledgeBase(),
		Documents:        manager,
		Records:          repo,
		Files:            files,
		Metrics:          collector,
		Logger:           logger,
		MaxIterations:    cfg.MaxIterations,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		HandleToolErrors: cfg.HandleToolErrors,
	})
	if err != nil {
		return err
	}

	srv := server.New(svc, server.Options{
		RootPath:       cfg.RootPath,
		QueryTimeout:   cfg.QueryTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        collector,
		Logger:         logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(cfg.Address())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received %v, shutting down", sig)
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown: %v", err)
	}
	manager.Wait()
	logger.Info("shutdown complete")
	return nil
}

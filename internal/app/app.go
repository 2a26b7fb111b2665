package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"sheetgen/internal/cache"
	"sheetgen/internal/cache/disk"
	"sheetgen/internal/cellstore"
	"sheetgen/internal/config"
	"sheetgen/internal/imagestore"
	"sheetgen/internal/pipeline"
	"sheetgen/internal/server"
	"sheetgen/internal/server/handler"
	"sheetgen/internal/websearch"
)

type App struct {
	server *server.Server
	cache  *cache.Cache
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Dependencies
	repo := cellstore.NewFromEnv(filepath.Join("data", "cells.json"))

	diskStore, err := disk.NewStore(disk.Config{
		Path:       filepath.Join(cfg.Cache.Dir, "generations.jsonl"),
		MaxEntries: cfg.Cache.DiskEntries,
		DefaultTTL: cfg.Cache.DiskTTL,
		FlushEvery: cfg.Cache.FlushEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("init disk cache: %w", err)
	}
	genCache := cache.New(cache.Options{
		MemoryEntries:         cfg.Cache.MemoryEntries,
		MemoryTTL:             cfg.Cache.MemoryTTL,
		DiskTTL:               cfg.Cache.DiskTTL,
		SweepInterval:         cfg.Cache.SweepInterval,
		ScopeByProcessVersion: cfg.Cache.ScopeByProcessVersion,
	}, diskStore)

	var searcher websearch.Searcher
	if cfg.Search.Endpoint != "" {
		s, err := websearch.NewHTTPSearcher(cfg.Search.Endpoint, cfg.Search.APIKey)
		if err != nil {
			return nil, fmt.Errorf("init web search: %w", err)
		}
		searcher = s
	}

	var images imagestore.Store
	if cfg.Image.Enabled {
		s3, err := imagestore.NewS3Store(imagestore.S3Config{
			Endpoint:  cfg.Image.Endpoint,
			Region:    cfg.Image.Region,
			AccessKey: cfg.Image.AccessKey,
			SecretKey: cfg.Image.SecretKey,
			Bucket:    cfg.Image.Bucket,
			UseSSL:    cfg.Image.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init image store: %w", err)
		}
		images = s3
	}

	runner := pipeline.NewRunner(repo, genCache, searcher, images, pipeline.Config{
		Concurrency:   cfg.Pipeline.Concurrency,
		ExampleWindow: cfg.Pipeline.ExampleWindow,
		CacheTTL:      cfg.Cache.DiskTTL,
		CallTimeout:   cfg.Provider.CallTimeout,
		APIKey:        cfg.Provider.APIKey,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   float32(cfg.Provider.Temperature),
		RetryAttempts: cfg.Provider.RetryAttempts,
		ProviderRPS:   cfg.Provider.RPS,
		ProviderBurst: cfg.Provider.Burst,
	})

	generateHandler := handler.NewGenerateHandler(runner, genCache)
	healthHandler := handler.NewHealthHandler(cfg.Provider.APIKey)

	// Routing & Server
	mux := server.NewMux(generateHandler, healthHandler)
	srv := server.New(cfg.Port, mux)

	return &App{
		server: srv,
		cache:  genCache,
	}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.cache.Close(); cerr != nil {
		log.Printf("cache close: %v", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}

// faceoff - side-by-side model comparison in the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dotnetfactory/model-faceoff/internal/config"
	"github.com/dotnetfactory/model-faceoff/internal/orchestrator"
	"github.com/dotnetfactory/model-faceoff/internal/provider"
	"github.com/dotnetfactory/model-faceoff/internal/storage"
	"github.com/dotnetfactory/model-faceoff/internal/stream"
	"github.com/dotnetfactory/model-faceoff/internal/ui"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Printf("faceoff %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("config dir: %w", err)
	}
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}

	cfgProvider, err := config.NewProvider(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer cfgProvider.Close()
	cfg := cfgProvider.Current()

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("database path: %w", err)
		}
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	client := provider.NewClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		client.WithBaseURL(cfg.BaseURL)
	}
	cache := provider.NewModelCache(client, time.Duration(cfg.ModelsCacheTTLSecs)*time.Second)

	registry := stream.NewRegistry(client, cache)
	orch := orchestrator.New(registry, store, client, cache, cfg.TitleModel)

	// Seed panel models from config.
	for i, modelID := range cfg.DefaultModels {
		if i >= orchestrator.PanelCount {
			break
		}
		orch.SetPanelModel(i, modelID)
	}

	// Config edits take effect without a restart: swap the credential and
	// drop the mode-keyed model cache.
	cfgProvider.OnReload(func(next *config.Config) {
		client.SetCredential(next.APIKey)
		cache.Invalidate()
	})
	if err := cfgProvider.Watch(); err != nil {
		log.Printf("config watch disabled: %v", err)
	}

	p := tea.NewProgram(
		ui.New(orch, store, cache),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	ui.Forward(p, registry.Events())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// LIVE CONFIG PROVIDER
// =============================================================================

// reloadDebounce coalesces editor save bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// Provider holds the current configuration and keeps it in sync with the
// file on disk. The credential can change mid-session (a key added while
// streaming), so all reads go through accessor methods.
type Provider struct {
	mu   sync.RWMutex
	cfg  *Config
	path string

	watcher  *fsnotify.Watcher
	onReload func(*Config)
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewProvider creates a provider for the config file at path, loading it
// immediately.
func NewProvider(path string) (*Provider, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:    cfg,
		path:   path,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Current returns the current configuration snapshot.
func (p *Provider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Credential returns the current API key; empty means free mode.
func (p *Provider) Credential() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.APIKey
}

// OnReload registers a callback invoked with the new config after each
// successful reload. Set before Watch.
func (p *Provider) OnReload(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReload = fn
}

// Watch starts watching the config file for changes. Saves are atomic
// renames, so the watch is on the containing directory with the events
// filtered by name.
func (p *Provider) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}
	p.watcher = watcher

	go p.processEvents()
	return nil
}

// processEvents debounces change events and reloads the file.
func (p *Provider) processEvents() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-p.ctx.Done():
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			p.reload()

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		}
	}
}

// reload re-reads the file and swaps the snapshot. A file that fails to
// parse leaves the previous config in place.
func (p *Provider) reload() {
	cfg, err := LoadFile(p.path)
	if err != nil {
		log.Printf("config reload failed, keeping previous: %v", err)
		return
	}

	p.mu.Lock()
	p.cfg = cfg
	fn := p.onReload
	p.mu.Unlock()

	if fn != nil {
		fn(cfg)
	}
}

// Close stops the watcher and releases resources.
func (p *Provider) Close() error {
	p.cancel()
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

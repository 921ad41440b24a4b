// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearKeyEnv keeps ambient API keys from leaking into config tests.
func clearKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FACEOFF_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
}

func TestLoadFile_MissingFileReturnsDefaults(t *testing.T) {
	clearKeyEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.HasCredential() {
		t.Error("defaults must have no credential")
	}
	if cfg.ModelsCacheTTL() != 10*time.Minute {
		t.Errorf("ModelsCacheTTL() = %v, want 10m", cfg.ModelsCacheTTL())
	}
}

func TestLoadFile_ParsesTOML(t *testing.T) {
	clearKeyEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
api_key = "sk-or-abc"
default_models = ["acme/fast", "acme/lite:free"]
title_model = "acme/tiny"
models_cache_ttl_secs = 30
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !cfg.HasCredential() || cfg.APIKey != "sk-or-abc" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if len(cfg.DefaultModels) != 2 {
		t.Errorf("DefaultModels = %v", cfg.DefaultModels)
	}
	if cfg.TitleModel != "acme/tiny" {
		t.Errorf("TitleModel = %q", cfg.TitleModel)
	}
	if cfg.ModelsCacheTTL() != 30*time.Second {
		t.Errorf("ModelsCacheTTL() = %v, want 30s", cfg.ModelsCacheTTL())
	}
}

func TestLoadFile_EnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`api_key = "from-file"`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FACEOFF_API_KEY", "from-env")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.APIKey)
	}
}

func TestLoadFile_TrimsExtraPanels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `default_models = ["a", "b", "c", "d", "e"]`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(cfg.DefaultModels) != MaxPanels {
		t.Errorf("len(DefaultModels) = %d, want %d", len(cfg.DefaultModels), MaxPanels)
	}
}

func TestSaveFileRoundTripAndPermissions(t *testing.T) {
	clearKeyEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.APIKey = "sk-or-secret"
	cfg.DefaultModels = []string{"acme/fast"}
	if err := SaveFile(cfg, path); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 0600", perm)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if loaded.APIKey != "sk-or-secret" {
		t.Errorf("APIKey = %q", loaded.APIKey)
	}
}

func TestProvider_ReloadOnChange(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveFile(&Config{APIKey: "old"}, path); err != nil {
		t.Fatal(err)
	}

	provider, err := NewProvider(path)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer provider.Close()

	reloaded := make(chan *Config, 1)
	provider.OnReload(func(cfg *Config) { reloaded <- cfg })
	if err := provider.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if provider.Credential() != "old" {
		t.Fatalf("Credential() = %q, want old", provider.Credential())
	}

	if err := SaveFile(&Config{APIKey: "new"}, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.APIKey != "new" {
			t.Errorf("reloaded APIKey = %q, want new", cfg.APIKey)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if provider.Credential() != "new" {
		t.Errorf("Credential() = %q, want new", provider.Credential())
	}
}

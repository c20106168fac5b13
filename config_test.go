package mnemo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDataDirExplicitWins(t *testing.T) {
	c := &Config{DataDir: "/custom/path", StorageDir: "home"}
	if got := c.resolveDataDir(); got != "/custom/path" {
		t.Errorf("resolveDataDir() = %q, want explicit DataDir", got)
	}
}

func TestResolveDataDirLocal(t *testing.T) {
	c := &Config{StorageDir: "local"}
	if got := c.resolveDataDir(); got != ".mnemo" {
		t.Errorf("resolveDataDir() = %q, want .mnemo", got)
	}
}

func TestResolveDataDirHomeDefault(t *testing.T) {
	c := &Config{StorageDir: "home"}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available in this environment")
	}
	want := filepath.Join(home, ".mnemo")
	if got := c.resolveDataDir(); got != want {
		t.Errorf("resolveDataDir() = %q, want %q", got, want)
	}
}

func TestResolveDataDirEmptyStorageDirDefaultsToHome(t *testing.T) {
	c := &Config{}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available in this environment")
	}
	want := filepath.Join(home, ".mnemo")
	if got := c.resolveDataDir(); got != want {
		t.Errorf("resolveDataDir() = %q, want %q", got, want)
	}
}

func TestDefaultConfigIsWellFormed(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.EmbeddingDim <= 0 {
		t.Errorf("EmbeddingDim = %d, want > 0", cfg.EmbeddingDim)
	}
	if cfg.Chat.Provider == "" || cfg.Embedding.Provider == "" {
		t.Errorf("expected default chat/embedding providers to be set")
	}
	if !cfg.Pipeline.Enabled {
		t.Errorf("expected pipeline enabled by default")
	}
	if !cfg.Pipeline.ShadowMode {
		t.Errorf("expected shadow mode on by default, a safety default for a fresh install")
	}
}

package relays

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderLoad(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "relays.yaml")

	yamlContent := `---
relays:
  - url: wss://relay.domain.ext
  - url: wss://archive.domain.ext
    write: false
`

	err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644)
	if err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	loader := NewLoader(yamlPath)
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(config.Relays) != 2 {
		t.Fatalf("Load() returned %d relays, want 2", len(config.Relays))
	}
	if config.Relays[1].Write == nil || *config.Relays[1].Write {
		t.Error("write: false was not parsed")
	}
}

func TestLoaderLoadWithTemplateVariables(t *testing.T) {
	t.Setenv("MARKSYNC_TEST_RELAY_HOST", "relay.from-env.ext")
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "relays.yaml")

	yamlContent := `---
relays:
  - url: wss://{{MARKSYNC_TEST_RELAY_HOST}}
`

	err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644)
	if err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	loader := NewLoader(yamlPath)
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := config.Relays[0].URL; got != "wss://relay.from-env.ext" {
		t.Errorf("URL = %q, want wss://relay.from-env.ext", got)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := loader.Load(); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

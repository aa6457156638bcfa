package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "saturn.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "institution: acme_mutual\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Collaborators.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Collaborators.MaxAttempts)
	}
	if cfg.Workers.Count != 4 || cfg.Workers.QueueDepth != 64 {
		t.Errorf("workers = %+v", cfg.Workers)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q", cfg.Logging.Format)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
institution: acme_mutual
definitions:
  dir: /etc/saturn/definitions
  watch: false
storage:
  backend: memory
collaborators:
  agent_timeout: 2s
  max_attempts: 5
workers:
  count: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Definitions.Dir != "/etc/saturn/definitions" || cfg.Definitions.Watch {
		t.Errorf("definitions = %+v", cfg.Definitions)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Collaborators.AgentTimeout != 2*time.Second || cfg.Collaborators.MaxAttempts != 5 {
		t.Errorf("collaborators = %+v", cfg.Collaborators)
	}
	if cfg.Workers.Count != 8 {
		t.Errorf("worker count = %d", cfg.Workers.Count)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing institution",
			content: "storage:\n  backend: sqlite\n",
			want:    "institution",
		},
		{
			name:    "unknown backend",
			content: "institution: acme\nstorage:\n  backend: postgres\n",
			want:    "storage backend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Definitions.Dir != "definitions" {
		t.Errorf("defaults not returned: %+v", cfg.Definitions)
	}
}

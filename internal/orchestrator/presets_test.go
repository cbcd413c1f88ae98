package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
)

const presetsYAML = `presets:
  - name: weekly-fyp
    description: weekly trending sweep
    filters:
      hashtags: [fyp, trending]
      dateFrom: "2025-01-01"
      dateTo: "2025-01-07"
      maxPosts: 100
  - name: creator-watch
    filters:
      username: creator1
      dateFrom: "2025-01-01"
      dateTo: "2025-01-31"
      maxPosts: 50
`

func writePresets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write presets: %v", err)
	}
	return path
}

func TestLoadPresets(t *testing.T) {
	p, err := Load(writePresets(t, presetsYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.List()) != 2 {
		t.Fatalf("expected 2 presets, got %d", len(p.List()))
	}
	preset, ok := p.Get("weekly-fyp")
	if !ok {
		t.Fatalf("expected weekly-fyp preset")
	}
	if len(preset.Filters.Hashtags) != 2 || preset.Filters.MaxPosts != 100 {
		t.Fatalf("unexpected filters: %+v", preset.Filters)
	}
}

func TestLoadRejectsDuplicates(t *testing.T) {
	dup := presetsYAML + `  - name: weekly-fyp
    filters:
      keyword: again
      dateFrom: "2025-01-01"
      dateTo: "2025-01-02"
      maxPosts: 10
`
	if _, err := Load(writePresets(t, dup)); err == nil {
		t.Fatalf("expected duplicate preset error")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.List()) != 0 {
		t.Fatalf("expected empty preset set")
	}
	if _, ok := p.Get("anything"); ok {
		t.Fatalf("expected lookup miss")
	}
}

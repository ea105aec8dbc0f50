package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachline/breachline/internal/testutil"
)

const techniquePack = `
techniques:
  - id: T1057
    name: Process Discovery
    tactics: [discovery]
    platforms: [linux, darwin]
    is_safe: true
    executors:
      - type: sh
        platform: linux
        command: ps aux
        timeout: 60
        is_safe: true
  - id: T1082
    name: System Information Discovery
    platforms: [linux]
    executors:
      - name: uname
        type: sh
        platform: linux
        command: uname -a
        timeout: 30
        is_safe: true
`

const scenarioPack = `
scenarios:
  - id: discovery-basics
    name: Discovery Basics
    tags: [smoke]
    phases:
      - name: recon
        order: 1
        techniques:
          - technique_id: T1082
          - technique_id: T1057
`

func writePack(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLoadPacks(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "techniques.yaml", techniquePack)
	writePack(t, dir, "scenarios.yml", scenarioPack)
	writePack(t, dir, "README.md", "not a pack")

	store := testutil.NewMemStore()
	stats, err := Load(context.Background(), store, dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.Techniques)
	assert.Equal(t, 1, stats.Scenarios)

	technique, err := store.GetTechnique(context.Background(), "T1057")
	require.NoError(t, err)
	assert.Equal(t, "Process Discovery", technique.Name)
	assert.True(t, technique.IsSafe)
	require.Len(t, technique.Executors, 1)
	assert.Equal(t, "ps aux", technique.Executors[0].Command)

	scenario, err := store.GetScenario(context.Background(), "discovery-basics")
	require.NoError(t, err)
	require.Len(t, scenario.Phases, 1)
	assert.Len(t, scenario.Phases[0].Techniques, 2)
}

func TestLoadMissingDir(t *testing.T) {
	store := testutil.NewMemStore()
	stats, err := Load(context.Background(), store, "/nonexistent/catalog", testLogger())
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
}

func TestLoadEmptyDirConfigured(t *testing.T) {
	store := testutil.NewMemStore()
	stats, err := Load(context.Background(), store, "", testLogger())
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "bad.yaml", "techniques: [")

	_, err := Load(context.Background(), testutil.NewMemStore(), dir, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		pack string
		want string
	}{
		{
			name: "technique without id",
			pack: "techniques:\n  - name: No ID\n    executors:\n      - type: sh\n        command: id\n",
			want: "empty id",
		},
		{
			name: "technique without executors",
			pack: "techniques:\n  - id: T9999\n    name: Empty\n",
			want: "no executors",
		},
		{
			name: "executor without command",
			pack: "techniques:\n  - id: T9999\n    name: Broken\n    executors:\n      - type: sh\n",
			want: "no command",
		},
		{
			name: "scenario phase without techniques",
			pack: "scenarios:\n  - id: empty\n    name: Empty\n    phases:\n      - name: p1\n        order: 1\n",
			want: "no techniques",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writePack(t, dir, "pack.yaml", tt.pack)
			_, err := Load(context.Background(), testutil.NewMemStore(), dir, testLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

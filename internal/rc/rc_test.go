package rc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `dublin_core:
  identifier: ulb
  title: Unlocked Literal Bible
  type: bundle
  format: text/usfm
  language:
    identifier: fr
projects:
  - identifier: gen
    title: Genesis
    path: ./01-GEN.usfm
    sort: 1
  - identifier: exo
    title: Exodus
    path: ./02-EXO.usfm
    sort: 2
`

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestParse(t *testing.T) {
	t.Run("full descriptor", func(t *testing.T) {
		dir := writeRepo(t, map[string]string{
			"manifest.yaml": sampleManifest,
			"01-GEN.usfm":   "\\id GEN",
			"02-EXO.usfm":   "\\id EXO",
		})

		r, err := Parse(dir, "fr_ulb")
		require.NoError(t, err)

		assert.Equal(t, "fr_ulb", r.RepoName)
		assert.Equal(t, "ulb", r.ResourceID)
		assert.Equal(t, "bundle", r.ResourceType)
		assert.Equal(t, "Unlocked Literal Bible", r.Title)
		assert.Equal(t, "fr", r.LangCode)
		assert.Equal(t, "usfm", r.InputFormat)

		require.Len(t, r.Projects, 2)
		assert.Equal(t, "gen", r.Projects[0].Identifier)
		assert.Equal(t, "exo", r.Projects[1].Identifier)
	})

	t.Run("missing descriptor falls back to repo name and inference", func(t *testing.T) {
		dir := writeRepo(t, map[string]string{
			"content/01.md": "# Chapter 1",
			"content/02.md": "# Chapter 2",
		})

		r, err := Parse(dir, "en_OBS")
		require.NoError(t, err)

		assert.Equal(t, "en_obs", r.ResourceID)
		assert.Equal(t, "bundle", r.ResourceType)
		assert.Equal(t, "en", r.LangCode)
		assert.Equal(t, "md", r.InputFormat)
		assert.Empty(t, r.Projects)
	})

	t.Run("descriptor without format infers from tree", func(t *testing.T) {
		dir := writeRepo(t, map[string]string{
			"manifest.yaml": "dublin_core:\n  identifier: ulb\n",
			"01-GEN.usfm":   "\\id GEN",
		})

		r, err := Parse(dir, "en_ulb")
		require.NoError(t, err)
		assert.Equal(t, "usfm", r.InputFormat)
	})

	t.Run("malformed descriptor is an error", func(t *testing.T) {
		dir := writeRepo(t, map[string]string{
			"manifest.yaml": "dublin_core: [unclosed",
		})

		_, err := Parse(dir, "en_ulb")
		assert.Error(t, err)
	})
}

func TestManifestJSON(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"manifest.yaml": sampleManifest,
	})

	r, err := Parse(dir, "fr_ulb")
	require.NoError(t, err)

	raw, err := r.ManifestJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	dc, ok := doc["dublin_core"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ulb", dc["identifier"])
}

func TestFormatExt(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"text/usfm", "usfm"},
		{"text/markdown", "md"},
		{"markdown", "md"},
		{"usfm", "usfm"},
		{"", ""},
		{"  TEXT/USFM  ", "usfm"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatExt(tt.format), tt.format)
	}
}

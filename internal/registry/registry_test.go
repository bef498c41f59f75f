package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModules() []Module {
	return []Module{
		{
			Name:          "usfm2html",
			Type:          TypeConverter,
			InputFormats:  []string{"usfm"},
			OutputFormats: []string{"html"},
			ResourceTypes: []string{"ulb", "udb", "bible"},
		},
		{
			Name:          "md2html",
			Type:          TypeConverter,
			InputFormats:  []string{"md"},
			OutputFormats: []string{"html"},
			ResourceTypes: []string{"obs", WildcardResourceType},
		},
		{
			Name:          "usfm_linter",
			Type:          TypeLinter,
			InputFormats:  []string{"usfm"},
			ResourceTypes: []string{"ulb", "udb", "bible"},
		},
		{
			Name:          "markdown_linter",
			Type:          TypeLinter,
			InputFormats:  []string{"md"},
			ResourceTypes: []string{WildcardResourceType},
		},
	}
}

func TestFindConverter(t *testing.T) {
	r := New(testModules())

	t.Run("exact resource type match", func(t *testing.T) {
		m, ok := r.FindConverter("usfm", "html", "ulb")
		require.True(t, ok)
		assert.Equal(t, "usfm2html", m.Name)
	})

	t.Run("wildcard fallback for unclaimed resource type", func(t *testing.T) {
		m, ok := r.FindConverter("md", "html", "tn")
		require.True(t, ok)
		assert.Equal(t, "md2html", m.Name)
	})

	t.Run("no module for the format pair", func(t *testing.T) {
		_, ok := r.FindConverter("usfm", "pdf", "ulb")
		assert.False(t, ok)
	})

	t.Run("no wildcard for the format pair", func(t *testing.T) {
		_, ok := r.FindConverter("usfm", "html", "tn")
		assert.False(t, ok)
	})
}

func TestFindLinter(t *testing.T) {
	r := New(testModules())

	t.Run("exact resource type match", func(t *testing.T) {
		m, ok := r.FindLinter("usfm", "bible")
		require.True(t, ok)
		assert.Equal(t, "usfm_linter", m.Name)
	})

	t.Run("wildcard fallback", func(t *testing.T) {
		m, ok := r.FindLinter("md", "ta")
		require.True(t, ok)
		assert.Equal(t, "markdown_linter", m.Name)
	})

	t.Run("no linter is not an error", func(t *testing.T) {
		_, ok := r.FindLinter("usfm", "tn")
		assert.False(t, ok)
	})
}

func TestSupports(t *testing.T) {
	m := Module{ResourceTypes: []string{"obs", "other"}}
	assert.True(t, m.Supports("obs"))
	assert.True(t, m.Supports("other"))
	assert.False(t, m.Supports("ulb"))
}

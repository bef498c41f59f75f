package parts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("\\id test"), 0o644))
	}
}

func TestSplit(t *testing.T) {
	t.Run("non usfm input never splits", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "01-GEN.usfm", "02-EXO.usfm")

		books, err := Split(dir, "md")
		require.NoError(t, err)
		assert.Nil(t, books)
	})

	t.Run("single book is a single unit", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "01-GEN.usfm")

		books, err := Split(dir, "usfm")
		require.NoError(t, err)
		assert.Nil(t, books)
	})

	t.Run("no recognizable books is a single unit", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "notes.usfm", "readme.md")

		books, err := Split(dir, "usfm")
		require.NoError(t, err)
		assert.Nil(t, books)
	})

	t.Run("multiple books split in canonical order", func(t *testing.T) {
		dir := t.TempDir()
		// alphabetical file order differs from canonical scripture order
		writeFiles(t, dir, "43-JHN.usfm", "01-GEN.usfm", "67-REV.usfm", "19-PSA.usfm")

		books, err := Split(dir, "usfm")
		require.NoError(t, err)
		assert.Equal(t, []string{"gen", "psa", "jhn", "rev"}, books)
	})

	t.Run("unprefixed file names are recognized", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "TIT.usfm", "GEN.usfm")

		books, err := Split(dir, "usfm")
		require.NoError(t, err)
		assert.Equal(t, []string{"gen", "tit"}, books)
	})

	t.Run("duplicate book files collapse to one part", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "01-GEN.usfm", "GEN.usfm", "02-EXO.usfm")

		books, err := Split(dir, "usfm")
		require.NoError(t, err)
		assert.Equal(t, []string{"gen", "exo"}, books)
	})

	t.Run("missing directory returns an error", func(t *testing.T) {
		_, err := Split(filepath.Join(t.TempDir(), "nope"), "usfm")
		assert.Error(t, err)
	})
}

func TestIsBook(t *testing.T) {
	assert.True(t, IsBook("gen"))
	assert.True(t, IsBook("REV"))
	assert.True(t, IsBook("1co"))
	assert.False(t, IsBook("readme"))
	assert.False(t, IsBook(""))
}

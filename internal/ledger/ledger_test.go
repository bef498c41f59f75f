package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txsuite/pipeline-be/shared/blobstore"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "u/tester/en_obs/project.json", Key("tester", "en_obs"))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the document on first update", func(t *testing.T) {
		store := blobstore.NewMemory()

		err := Update(ctx, store, "tester", "en_obs", "https://git.example.org/tester/en_obs", CommitEntry{
			ID:      "abcdef1234",
			Status:  "success",
			Success: true,
		})
		require.NoError(t, err)

		var doc Document
		ok, err := store.GetJSON(ctx, Key("tester", "en_obs"), &doc)
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, "tester", doc.User)
		assert.Equal(t, "en_obs", doc.Repo)
		assert.Equal(t, "https://git.example.org/tester/en_obs", doc.RepoURL)
		require.Len(t, doc.Commits, 1)
		assert.Equal(t, "abcdef1234", doc.Commits[0].ID)
	})

	t.Run("appends entries for distinct commits", func(t *testing.T) {
		store := blobstore.NewMemory()

		require.NoError(t, Update(ctx, store, "tester", "en_obs", "url", CommitEntry{ID: "commit0001"}))
		require.NoError(t, Update(ctx, store, "tester", "en_obs", "url", CommitEntry{ID: "commit0002"}))

		var doc Document
		_, err := store.GetJSON(ctx, Key("tester", "en_obs"), &doc)
		require.NoError(t, err)
		require.Len(t, doc.Commits, 2)
	})

	t.Run("re-push replaces the prior entry for the same commit", func(t *testing.T) {
		store := blobstore.NewMemory()

		require.NoError(t, Update(ctx, store, "tester", "en_obs", "url", CommitEntry{
			ID:     "commit0001",
			Status: "warnings",
		}))
		require.NoError(t, Update(ctx, store, "tester", "en_obs", "url", CommitEntry{ID: "commit0002"}))
		require.NoError(t, Update(ctx, store, "tester", "en_obs", "url", CommitEntry{
			ID:      "commit0001",
			Status:  "success",
			Success: true,
		}))

		var doc Document
		_, err := store.GetJSON(ctx, Key("tester", "en_obs"), &doc)
		require.NoError(t, err)
		require.Len(t, doc.Commits, 2)

		// replaced entry moves to the end with its new status
		last := doc.Commits[len(doc.Commits)-1]
		assert.Equal(t, "commit0001", last.ID)
		assert.Equal(t, "success", last.Status)
		assert.True(t, last.Success)
	})
}

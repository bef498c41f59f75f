package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txsuite/pipeline-be/internal/storage"
)

func TestJobCursorRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 5, 12, 0, 0, 123456789, time.UTC)
	cursor := &storage.JobCursor{
		CreatedAt: created,
		JobID:     "abc123",
	}

	encoded, err := EncodeJobCursor(cursor)
	require.NoError(t, err)

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.Equal(t, "abc123", decoded.JobID)
	assert.True(t, decoded.CreatedAt.Equal(created))
}

func TestDecodeJobCursor(t *testing.T) {
	t.Run("empty cursor is nil", func(t *testing.T) {
		decoded, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, decoded)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodeJobCursor("%%%")
		assert.Error(t, err)
	})

	t.Run("wrong segment count", func(t *testing.T) {
		bad := base64.StdEncoding.EncodeToString([]byte("justonevalue"))
		_, err := DecodeJobCursor(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cursor format")
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		bad := base64.StdEncoding.EncodeToString([]byte("notanumber|abc123"))
		_, err := DecodeJobCursor(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid createdAt")
	})
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		wantErr    bool
		want       PartIdentifier
	}{
		{
			name:       "single part job id",
			identifier: "abc123",
			want: PartIdentifier{
				JobID:     "abc123",
				Multipart: false,
			},
		},
		{
			name:       "multipart identifier",
			identifier: "abc123/3/0/gen",
			want: PartIdentifier{
				JobID:     "abc123",
				PartCount: 3,
				PartIndex: 0,
				PartName:  "gen",
				Multipart: true,
			},
		},
		{
			name:       "last part",
			identifier: "abc123/3/2/rev",
			want: PartIdentifier{
				JobID:     "abc123",
				PartCount: 3,
				PartIndex: 2,
				PartName:  "rev",
				Multipart: true,
			},
		},
		{
			name:       "two segments treated as single",
			identifier: "abc123/extra",
			want: PartIdentifier{
				JobID:     "abc123",
				Multipart: false,
			},
		},
		{
			name:       "part count not a number",
			identifier: "abc123/x/0/gen",
			wantErr:    true,
		},
		{
			name:       "part index out of range",
			identifier: "abc123/3/3/rev",
			wantErr:    true,
		},
		{
			name:       "negative part index",
			identifier: "abc123/3/-1/gen",
			wantErr:    true,
		},
		{
			name:       "zero part count",
			identifier: "abc123/0/0/gen",
			wantErr:    true,
		},
		{
			name:       "empty identifier",
			identifier: "",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentifier(tt.identifier)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatPartIdentifier(t *testing.T) {
	id := FormatPartIdentifier("abc123", 3, 1, "exo")
	assert.Equal(t, "abc123/3/1/exo", id)

	parsed, err := ParseIdentifier(id)
	require.NoError(t, err)
	assert.Equal(t, "abc123", parsed.JobID)
	assert.Equal(t, 3, parsed.PartCount)
	assert.Equal(t, 1, parsed.PartIndex)
	assert.Equal(t, "exo", parsed.PartName)
	assert.True(t, parsed.Multipart)
}

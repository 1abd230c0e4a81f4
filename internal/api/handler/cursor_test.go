package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &execution.Cursor{
		CreatedAt: time.Date(2026, 10, 14, 8, 30, 0, 123, time.UTC),
		JobID:     "tenant|key",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestJobCursor_NormalizesToUTC(t *testing.T) {
	local := time.Date(2026, 10, 14, 10, 30, 0, 0, time.FixedZone("CEST", 2*60*60))

	out, err := DecodeJobCursor(EncodeJobCursor(&execution.Cursor{CreatedAt: local, JobID: "job-1"}))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, out.CreatedAt.Location())
	assert.True(t, local.Equal(out.CreatedAt))
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	encode := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name  string
		token string
	}{
		{name: "not base64", token: "!!!!"},
		{name: "not json", token: encode("1760430600|job-1")},
		{name: "missing job id", token: encode(`{"t":"2026-10-14T08:30:00Z"}`)},
		{name: "missing time", token: encode(`{"id":"job-1"}`)},
		{name: "bad time", token: encode(`{"t":"yesterday","id":"job-1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor, err := DecodeJobCursor(tt.token)
			assert.ErrorIs(t, err, ErrInvalidCursor)
			assert.Nil(t, cursor)
		})
	}
}

package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRejectUnrejectList(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	var out bytes.Buffer
	require.NoError(t, rejectArtists(ctx, dbPath, []string{"Nickelback", "  ", "Creed"}, testNow, &out))
	assert.Equal(t, "Rejected \"Nickelback\"\nRejected \"Creed\"\n", out.String())

	out.Reset()
	require.NoError(t, listRejected(ctx, dbPath, &out))
	assert.Contains(t, out.String(), "Nickelback")
	assert.Contains(t, out.String(), "2024-03-01")
	assert.Contains(t, out.String(), "2 rejected artists")

	out.Reset()
	require.NoError(t, unrejectArtists(ctx, dbPath, []string{"nickelback", "Nobody"}, &out))
	assert.Equal(t, "Unrejected \"nickelback\"\n\"Nobody\" was not rejected\n", out.String())

	out.Reset()
	require.NoError(t, listRejected(ctx, dbPath, &out))
	assert.NotContains(t, out.String(), "Nickelback")
	assert.Contains(t, out.String(), "1 rejected artists")
}

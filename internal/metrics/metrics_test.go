package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	ProviderRequests.WithLabelValues("tags", "ok").Inc()
	CacheLookups.WithLabelValues("tags", "hit").Inc()

	path := filepath.Join(t.TempDir(), "beatfinder.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `beatfinder_provider_requests_total{kind="tags",outcome="ok"}`)
	assert.Contains(t, string(data), "beatfinder_cache_lookups_total")
}

package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urlport/internal/config/schema"
	"urlport/internal/config/source"
	coreerrors "urlport/internal/core/errors"
)

func TestLoader_NoSources(t *testing.T) {
	_, err := NewLoader().Load()
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeInvalidParam))
}

func TestLoader_PriorityOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urlport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  max_redirects: 3\n  flush_threshold: 10\nbridge:\n  wait_timeout: 2s\n"), 0o600))

	t.Setenv("URLPORT_HTTP_MAX_REDIRECTS", "7")

	cfg, err := NewLoaderBuilder().
		WithConfigFile(path).
		WithOverrides(func(cfg *schema.Root) error {
			cfg.HTTP.FlushThreshold = 20
			return nil
		}).
		Build().
		Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.HTTP.MaxRedirects, "env beats yaml")
	assert.Equal(t, 20, cfg.HTTP.FlushThreshold, "cli beats yaml")
	assert.Equal(t, 2*time.Second, cfg.Bridge.WaitTimeout)
	assert.Equal(t, source.DefaultChunkSize, cfg.HTTP.ReadChunkSize)
}

func TestLoader_ValidationFailure(t *testing.T) {
	_, err := NewLoaderBuilder().
		WithConfigFile(filepath.Join(t.TempDir(), "none.yaml")).
		WithOverrides(func(cfg *schema.Root) error {
			cfg.HTTP.MaxRedirects = -1
			return nil
		}).
		Build().
		Load()
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
	assert.Contains(t, err.Error(), "http.max_redirects")
}

package capability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "echo.yaml")
	body := `
name: echo
binary_path: /usr/local/bin/echo-capability
permissions:
  - FileRead
  - NetworkRead
keywords:
  - echo
  - reflect
limits:
  max_memory_bytes: 33554432
  max_cpu_percent: 25
  max_wall_seconds: 30
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "echo", manifest.Name)
	assert.Equal(t, "/usr/local/bin/echo-capability", manifest.BinaryPath)
	assert.ElementsMatch(t, []string{"echo", "reflect"}, manifest.Keywords)
	assert.True(t, manifest.HasPermission("FileRead"))
	assert.False(t, manifest.HasPermission("FileWrite"))
	assert.Equal(t, int64(33554432), manifest.Limits.MaxMemoryBytes)
	assert.Equal(t, 30*time.Second, manifest.Limits.MaxWallClock)
}

func TestLoadManifest_MissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

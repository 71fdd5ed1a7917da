package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultSettingsDecodeEmbeddedConfig(t *testing.T) {
	t.Parallel()

	settings, err := DefaultSettings()
	require.NoError(t, err)

	assert.Equal(t, DefaultLockName, settings.Lock.Name)
	assert.Equal(t, DefaultLockTimeout, settings.Lock.Timeout)
	assert.Equal(t, time.Second, settings.Lock.PollInterval)
	assert.Equal(t, "CTData", settings.Storage.RawDataRoot)
	assert.Equal(t, []string{"@eaDir"}, settings.Storage.MetadataDirs)
	assert.Equal(t, "sat", settings.Archive.Device)
	assert.Equal(t, "warn", settings.Logging.ModuleLevels["datastore"])
	assert.True(t, settings.Output.SQLite.Enabled)
	assert.Equal(t, 300, settings.LockTimeoutSeconds())

	require.NoError(t, ValidateSettings(settings))
}

func TestSaveYAMLConfigReplacesFile(t *testing.T) {
	t.Parallel()

	settings, err := DefaultSettings()
	require.NoError(t, err)
	settings.Main.Name = "ct-node-2"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old: true\n"), 0o644))
	require.NoError(t, SaveYAMLConfig(path, settings))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "old")
	assert.NotContains(t, decoded, "version", "runtime fields are not persisted")

	main, ok := decoded["main"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ct-node-2", main["name"])

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "config-*.yaml"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary file must be cleaned up")
}

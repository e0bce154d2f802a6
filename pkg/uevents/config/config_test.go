package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault tests the default settings validate.
func TestDefault(t *testing.T) {
	s := Default()

	require.NoError(t, s.Validate())
	assert.Equal(t, DefaultMaxEvents, s.MaxEvents)
	assert.Equal(t, DefaultFaultWorkers, s.FaultWorkers)
	assert.Equal(t, DefaultFaultQueueDepth, s.FaultQueueDepth)
}

// TestValidate tests rejection of non-positive fields.
func TestValidate(t *testing.T) {
	s := Default()
	s.MaxEvents = 0
	assert.ErrorIs(t, s.Validate(), ErrInvalidMaxEvents)

	s = Default()
	s.FaultWorkers = -1
	assert.ErrorIs(t, s.Validate(), ErrInvalidWorkers)

	s = Default()
	s.FaultQueueDepth = 0
	assert.ErrorIs(t, s.Validate(), ErrInvalidQueueDepth)
}

// TestFromYAML tests YAML parsing with partial fields.
func TestFromYAML(t *testing.T) {
	s, err := FromYAML([]byte("max_events: 100\nstore_path: ./trace.db\n"))

	require.NoError(t, err)
	assert.Equal(t, 100, s.MaxEvents)
	assert.Equal(t, "./trace.db", s.StorePath)
	// Missing fields fall back to defaults.
	assert.Equal(t, DefaultFaultWorkers, s.FaultWorkers)
	assert.Equal(t, DefaultFaultQueueDepth, s.FaultQueueDepth)
}

// TestFromYAML_Invalid tests rejection of bad values.
func TestFromYAML_Invalid(t *testing.T) {
	_, err := FromYAML([]byte("max_events: -5\n"))
	assert.ErrorIs(t, err, ErrInvalidMaxEvents)

	_, err = FromYAML([]byte("max_events: ["))
	assert.Error(t, err)
}

// TestFromJSON tests JSON parsing.
func TestFromJSON(t *testing.T) {
	s, err := FromJSON([]byte(`{"max_events": 64, "fault_workers": 2}`))

	require.NoError(t, err)
	assert.Equal(t, 64, s.MaxEvents)
	assert.Equal(t, 2, s.FaultWorkers)
}

// TestFromFile tests extension dispatch.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("max_events: 7\n"), 0o644))

	s, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 7, s.MaxEvents)

	jsonPath := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"max_events": 9}`), 0o644))

	s, err = FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 9, s.MaxEvents)

	_, err = FromFile(filepath.Join(dir, "settings.toml"))
	assert.Error(t, err)
}

// TestFromFile_Missing tests a nonexistent path.
func TestFromFile_Missing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptest-go/proptest/engine"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proptest.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigAppliesValues(t *testing.T) {
	path := writeConfig(t, `{
		"schemaVersion": "v1.0.0",
		"maxExamples": 25,
		"maxShrinks": 100,
		"bufferSize": 1024,
		"derandomize": true,
		"phases": ["generate", "shrink"]
	}`)

	cfg, err := engine.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.MaxExamples)
	assert.Equal(t, 100, cfg.MaxShrinks)
	assert.Equal(t, 1024, cfg.BufferSize)
	assert.True(t, cfg.Derandomize)
	assert.True(t, cfg.Phases[engine.PhaseGenerate])
	assert.False(t, cfg.Phases[engine.PhaseReuse])
}

func TestLoadConfigAbsentMaxShrinksKeepsDefault(t *testing.T) {
	path := writeConfig(t, `{"schemaVersion": "v1.0.0"}`)
	cfg, err := engine.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig().MaxShrinks, cfg.MaxShrinks)
}

func TestLoadConfigZeroMaxShrinksDisablesShrinking(t *testing.T) {
	path := writeConfig(t, `{"schemaVersion": "v1.0.0", "maxShrinks": 0}`)
	cfg, err := engine.LoadConfig(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.MaxShrinks)
}

func TestLoadConfigNullDatabasePathDisablesPersistence(t *testing.T) {
	path := writeConfig(t, `{"schemaVersion": "v1.0.0", "databasePath": null}`)
	cfg, err := engine.LoadConfig(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.DatabasePath)
}

func TestLoadConfigAbsentDatabasePathKeepsDefault(t *testing.T) {
	path := writeConfig(t, `{"schemaVersion": "v1.0.0"}`)
	cfg, err := engine.LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.DatabasePath)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{"schemaVersion": "v1.0.0", "maxExample": 10}`)
	_, err := engine.LoadConfig(path)
	assert.Error(t, err, "additionalProperties: false must reject a misspelled key")
}

func TestLoadConfigRejectsUnsupportedSchemaVersion(t *testing.T) {
	path := writeConfig(t, `{"schemaVersion": "v2.0.0"}`)
	_, err := engine.LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidPhase(t *testing.T) {
	path := writeConfig(t, `{"schemaVersion": "v1.0.0", "phases": ["warp"]}`)
	_, err := engine.LoadConfig(path)
	assert.Error(t, err)
}

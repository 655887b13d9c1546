package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Concurrency.GlobalRunningTasks)
	assert.Equal(t, 8, cfg.Concurrency.WorkerCount)
	assert.Equal(t, "fail", cfg.Doc.DocumentFailurePolicy)
	assert.NoError(t, cfg.validate())
}

func TestLoadNoPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Concurrency, cfg.Concurrency)
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
concurrency:
  global_running_tasks: 10
  worker_count: 16
doc:
  document_failure_policy: complete_with_warning
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Concurrency.GlobalRunningTasks)
	assert.Equal(t, 16, cfg.Concurrency.WorkerCount)
	assert.Equal(t, "complete_with_warning", cfg.Doc.DocumentFailurePolicy)
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
concurrency:
  global_running_tasks: 10
  worker_count: 16
`), 0o644))

	t.Setenv("CONCURRENCY_GLOBAL_RUNNING_TASKS", "2")
	t.Setenv("LLM_API_KEY", "secret-key")
	t.Setenv("LLM_BASE_URL", "https://llm.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Concurrency.GlobalRunningTasks)
	assert.Equal(t, 16, cfg.Concurrency.WorkerCount)
	assert.Equal(t, "secret-key", cfg.Provider.APIKey)
	assert.Equal(t, "https://llm.example.com", cfg.Provider.BaseURL)
}

func TestLoadRejectsInvalidFailurePolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
doc:
  document_failure_policy: explode
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

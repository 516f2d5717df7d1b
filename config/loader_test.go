package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnlyWhenNoFileOrEnv(t *testing.T) {
	cfg, err := NewLoader().WithEnvPrefix("MEMKIT_TEST_EMPTY").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend.Kind)
	assert.Equal(t, 0.75, cfg.Link.Threshold)
}

func TestLoadFromYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memkit.yaml")
	content := []byte(`
backend:
  kind: relational
link:
  threshold: 0.9
retrieval:
  default_limit: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("MEMKIT_TEST_FILE").Load()
	require.NoError(t, err)

	assert.Equal(t, "relational", cfg.Backend.Kind)
	assert.Equal(t, 0.9, cfg.Link.Threshold)
	assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)
	// Untouched fields keep their defaults.
	assert.Equal(t, 5, cfg.Link.MaxLinks)
}

func TestLoadFromFileMissingIsNotAnError(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "does-not-exist.yaml")).
		WithEnvPrefix("MEMKIT_TEST_MISSING").
		Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend.Kind)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  kind: relational\n"), 0o600))

	t.Setenv("MEMKIT_TEST_ENV_BACKEND_KIND", "memory")
	t.Setenv("MEMKIT_TEST_ENV_LINK_THRESHOLD", "0.6")
	t.Setenv("MEMKIT_TEST_ENV_BATCH_TIMEOUT_MS", "100ms")

	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("MEMKIT_TEST_ENV").Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Backend.Kind) // env wins over file
	assert.Equal(t, 0.6, cfg.Link.Threshold)
	assert.Equal(t, 100_000_000, int(cfg.Batch.TimeoutMS))
}

func TestEnvOverridesNestedSliceField(t *testing.T) {
	t.Setenv("MEMKIT_TEST_SLICE_LOG_OUTPUT_PATHS", "stdout, /var/log/memkit.log")

	cfg, err := NewLoader().WithEnvPrefix("MEMKIT_TEST_SLICE").Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout", "/var/log/memkit.log"}, cfg.Log.OutputPaths)
}

func TestWithValidatorIsInvokedAndCanFail(t *testing.T) {
	_, err := NewLoader().
		WithEnvPrefix("MEMKIT_TEST_VALIDATOR").
		WithValidator(func(c *Config) error {
			return assertAlwaysFails()
		}).
		Load()
	assert.Error(t, err)
}

func assertAlwaysFails() error {
	return &validationStubError{}
}

type validationStubError struct{}

func (e *validationStubError) Error() string { return "stub validation failure" }

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Link.Threshold = 1.5
	cfg.Graph.MaxDepth = 0
	cfg.Graph.DefaultDepth = 2
	cfg.Backend.Kind = "bogus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.kind")
	assert.Contains(t, err.Error(), "link.threshold")
	assert.Contains(t, err.Error(), "graph.max_depth")
}

func TestMustLoadPanicsOnInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))

	assert.Panics(t, func() {
		MustLoad(path)
	})
}

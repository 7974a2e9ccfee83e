package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFiles(t *testing.T, dir string, pipelineYAML, providersYAML string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yaml"), []byte(pipelineYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
}

func TestInitializeAppliesBuiltinDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("GOOGLE_API_KEY", "test-key")
	dir := t.TempDir()
	writeConfigFiles(t, dir, "{}\n", "llm_providers: {}\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.StageGraph.Len())
	assert.True(t, cfg.StageGraph.IsCritical(2))
	assert.Equal(t, "v1", cfg.Defaults.PromptVersion)
	assert.Equal(t, 1, cfg.Defaults.MaxCorrectionPasses)
	assert.Equal(t, 8, cfg.Concurrency.MaxConcurrentLLMCalls)
	assert.NotEmpty(t, cfg.Cache.Dir)
}

func TestInitializeMergesUserLLMProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("GOOGLE_API_KEY", "test-key")
	t.Setenv("CUSTOM_KEY", "custom-secret")
	dir := t.TempDir()
	writeConfigFiles(t, dir, "{}\n", `llm_providers:
  anthropic-default:
    type: anthropic
    model: claude-opus
    role: primary
    api_key_env: CUSTOM_KEY
    max_output_tokens: 4096
    timeout_seconds: 60
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	provider, err := cfg.GetLLMProvider("anthropic-default")
	require.NoError(t, err)
	assert.Equal(t, "claude-opus", provider.Model)
	assert.Equal(t, "CUSTOM_KEY", provider.APIKeyEnv)
}

func TestInitializeFailsOnMissingConfigDir(t *testing.T) {
	_, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestInitializeFailsOnInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFiles(t, dir, "not: [valid\n", "llm_providers: {}\n")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitializeFailsValidationWhenAPIKeyMissing(t *testing.T) {
	dir := t.TempDir()
	writeConfigFiles(t, dir, "{}\n", "llm_providers: {}\n")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestConfigLoaderExpandsEnvInYAML(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("GOOGLE_API_KEY", "test-key")
	t.Setenv("PROMPT_VERSION", "v7")
	dir := t.TempDir()
	writeConfigFiles(t, dir, "defaults:\n  prompt_version: ${PROMPT_VERSION}\n", "llm_providers: {}\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "v7", cfg.Defaults.PromptVersion)
}

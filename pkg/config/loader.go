package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// PipelineYAMLConfig represents the pipeline.yaml file structure: stage
// overrides, system-wide defaults, concurrency, and cache settings.
type PipelineYAMLConfig struct {
	Stages      map[int]StageDef   `yaml:"stages"`
	Defaults    *Defaults          `yaml:"defaults"`
	Concurrency *ConcurrencyConfig `yaml:"concurrency"`
	Cache       *CacheConfig       `yaml:"cache"`
}

// LLMProvidersYAMLConfig represents the llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Merge built-in + user-defined configuration
//  4. Build in-memory registries
//  5. Apply default values
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized", "stages", stats.Stages, "llm_providers", stats.LLMProviders)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	pipelineCfg, err := loader.loadPipelineYAML()
	if err != nil {
		return nil, NewLoadError("pipeline.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	builtin := GetBuiltinConfig()

	stages := mergeStages(builtin.Stages, pipelineCfg.Stages)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	stageGraph := NewStageGraphRegistry(stages)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	defaults := pipelineCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.PromptVersion == "" {
		defaults.PromptVersion = builtin.DefaultPromptVersion
	}
	if defaults.MaxCorrectionPasses == 0 {
		defaults.MaxCorrectionPasses = 1
	}

	concurrency := DefaultConcurrencyConfig()
	if pipelineCfg.Concurrency != nil {
		if err := mergo.Merge(concurrency, pipelineCfg.Concurrency, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge concurrency config: %w", err)
		}
	}

	cache := DefaultCacheConfig()
	if pipelineCfg.Cache != nil {
		if err := mergo.Merge(cache, pipelineCfg.Cache, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cache config: %w", err)
		}
	}

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Concurrency:         concurrency,
		Cache:               cache,
		StageGraph:          stageGraph,
		LLMProviderRegistry: llmProviderRegistry,
		RedactionPatterns:   builtin.RedactionPatterns,
		Feasibility:         DefaultFeasibilityConfig(),
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadPipelineYAML() (*PipelineYAMLConfig, error) {
	var cfg PipelineYAMLConfig
	cfg.Stages = make(map[int]StageDef)

	if err := l.loadYAML("pipeline.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var cfg LLMProvidersYAMLConfig
	cfg.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.LLMProviders, nil
}

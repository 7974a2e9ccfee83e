package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *LoadError
		contains []string
	}{
		{
			name:     "file load error",
			err:      &LoadError{File: "pipeline.yaml", Err: errors.New("file not found")},
			contains: []string{"failed to load", "pipeline.yaml", "file not found"},
		},
		{
			name:     "parse error",
			err:      &LoadError{File: "llm-providers.yaml", Err: errors.New("yaml: unmarshal error")},
			contains: []string{"failed to load", "llm-providers.yaml", "unmarshal error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestLoadErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	loadErr := &LoadError{File: "test.yaml", Err: baseErr}

	assert.Equal(t, baseErr, loadErr.Unwrap())
	assert.True(t, errors.Is(loadErr, baseErr))
}

func TestNewLoadError(t *testing.T) {
	baseErr := errors.New("disk full")
	loadErr := NewLoadError("pipeline.yaml", baseErr)
	assert.Equal(t, "pipeline.yaml", loadErr.File)
	assert.Equal(t, baseErr, loadErr.Err)
}

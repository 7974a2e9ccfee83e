package config

import (
	"fmt"
	"sort"
	"sync"
)

// StageDef describes one stage in the fixed 12-stage compilation pipeline
// (spec.md §4.1). Stages run in Number order; Critical stages abort the
// run on failure, all others record a warning and carry the input forward
// unchanged (spec.md §7).
type StageDef struct {
	Number      int    `yaml:"number" validate:"required,min=1,max=12"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description,omitempty"`
	Critical    bool   `yaml:"critical"`
}

// StageGraphRegistry stores the stage definitions in memory with thread-safe
// access, grounded on the teacher's ChainRegistry shape.
type StageGraphRegistry struct {
	stages map[int]*StageDef
	order  []int
	mu     sync.RWMutex
}

// NewStageGraphRegistry creates a new stage graph registry.
func NewStageGraphRegistry(stages map[int]*StageDef) *StageGraphRegistry {
	copied := make(map[int]*StageDef, len(stages))
	order := make([]int, 0, len(stages))
	for k, v := range stages {
		copied[k] = v
		order = append(order, k)
	}
	sort.Ints(order)
	return &StageGraphRegistry{stages: copied, order: order}
}

// Get retrieves a stage definition by number (thread-safe).
func (r *StageGraphRegistry) Get(number int) (*StageDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stage, exists := r.stages[number]
	if !exists {
		return nil, fmt.Errorf("%w: stage %d", ErrStageNotFound, number)
	}
	return stage, nil
}

// GetAll returns all stage definitions (thread-safe, returns copy).
func (r *StageGraphRegistry) GetAll() map[int]*StageDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int]*StageDef, len(r.stages))
	for k, v := range r.stages {
		result[k] = v
	}
	return result
}

// Ordered returns stage definitions sorted by Number, the order the
// orchestrator runs them in.
func (r *StageGraphRegistry) Ordered() []*StageDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*StageDef, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.stages[n])
	}
	return out
}

// IsCritical reports whether the given stage number aborts the pipeline on
// failure.
func (r *StageGraphRegistry) IsCritical(number int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stage, exists := r.stages[number]
	return exists && stage.Critical
}

// Has checks if a stage exists in the registry (thread-safe).
func (r *StageGraphRegistry) Has(number int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.stages[number]
	return exists
}

// Len returns the number of stages in the registry (thread-safe).
func (r *StageGraphRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stages)
}

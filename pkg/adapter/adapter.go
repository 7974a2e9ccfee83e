// Package adapter defines the Query Adapter contract the feasibility
// engine consumes from external patient-data collaborators (spec.md
// §6), plus a SyntheticAdapter test double. The core never executes
// patient queries against live data sources; OmopAdapter and FhirAdapter
// variants are out-of-scope external collaborators (spec.md §1) that
// would implement the same interface against a real OMOP CDM or FHIR
// server.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ComparisonOp is the validated operator set a measurement query accepts
// (spec.md §6: "{≥, ≤, =, >, <, ≠}").
type ComparisonOp string

const (
	OpGTE ComparisonOp = ">="
	OpLTE ComparisonOp = "<="
	OpEQ  ComparisonOp = "="
	OpGT  ComparisonOp = ">"
	OpLT  ComparisonOp = "<"
	OpNEQ ComparisonOp = "!="
)

// IsValid reports whether op is one of the six validated operators.
func (op ComparisonOp) IsValid() bool {
	switch op {
	case OpGTE, OpLTE, OpEQ, OpGT, OpLT, OpNEQ:
		return true
	}
	return false
}

// ErrUnsupportedCapability is returned by ExecuteSQL on adapters that
// don't expose raw SQL execution (an optional capability per spec.md §9
// "polymorphic adapters").
var ErrUnsupportedCapability = errors.New("adapter: capability not supported")

// QueryResult is the uniform return shape for every adapter query
// (spec.md §6).
type QueryResult struct {
	PatientCount    int64          `json:"patient_count"`
	PatientIDs      []int64        `json:"patient_ids,omitempty"`
	QueryExecuted   string         `json:"query_executed"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// DemographicsFilter narrows a queryDemographics call (spec.md §6
// "queryDemographics (similar)").
type DemographicsFilter struct {
	MinAge *int
	MaxAge *int
	Sex    string
}

// QueryAdapter is the capability-set contract the feasibility engine
// consumes (spec.md §6, §9). Connect/Disconnect bracket a run;
// GetTotalPopulation seeds Stage 11's funnel; the per-domain query
// methods are not currently called by any stage (population estimation
// uses elimination-rate composition instead, spec.md §4.10) but are part
// of the contract every concrete adapter variant must satisfy.
type QueryAdapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GetTotalPopulation(ctx context.Context) (int64, error)
	QueryCondition(ctx context.Context, conceptIDs []int64, includeDescendants bool) (QueryResult, error)
	QueryMeasurement(ctx context.Context, conceptIDs []int64, op ComparisonOp, threshold float64, unitConceptID *int64) (QueryResult, error)
	QueryDrugExposure(ctx context.Context, conceptIDs []int64, includeDescendants bool, daysSupplyMin *int) (QueryResult, error)
	QueryProcedure(ctx context.Context, conceptIDs []int64, includeDescendants bool) (QueryResult, error)
	QueryObservation(ctx context.Context, conceptIDs []int64, includeDescendants bool) (QueryResult, error)
	QueryDemographics(ctx context.Context, filter DemographicsFilter) (QueryResult, error)
	ExecuteSQL(ctx context.Context, sql string) (QueryResult, error)
}

// SyntheticAdapter is an in-memory QueryAdapter backed by a deterministic
// hash of the queried concept IDs rather than a real database connection
// (spec.md §9 "Variants: OmopAdapter, FhirAdapter, SyntheticAdapter").
// Determinism (no time.Now/math.Rand) keeps reruns idempotent, per
// spec.md §8's idempotence invariant.
type SyntheticAdapter struct {
	totalPopulation int64
	connected       bool
}

// NewSyntheticAdapter builds a SyntheticAdapter seeded with a fixed total
// population.
func NewSyntheticAdapter(totalPopulation int64) *SyntheticAdapter {
	return &SyntheticAdapter{totalPopulation: totalPopulation}
}

func (a *SyntheticAdapter) Connect(ctx context.Context) error {
	a.connected = true
	return nil
}

func (a *SyntheticAdapter) Disconnect(ctx context.Context) error {
	a.connected = false
	return nil
}

func (a *SyntheticAdapter) GetTotalPopulation(ctx context.Context) (int64, error) {
	if !a.connected {
		return 0, fmt.Errorf("adapter: not connected")
	}
	return a.totalPopulation, nil
}

func (a *SyntheticAdapter) QueryCondition(ctx context.Context, conceptIDs []int64, includeDescendants bool) (QueryResult, error) {
	return a.syntheticResult("condition_occurrence", conceptIDs), nil
}

func (a *SyntheticAdapter) QueryMeasurement(ctx context.Context, conceptIDs []int64, op ComparisonOp, threshold float64, unitConceptID *int64) (QueryResult, error) {
	if !op.IsValid() {
		return QueryResult{Error: fmt.Sprintf("invalid operator %q", op)}, nil
	}
	return a.syntheticResult("measurement", conceptIDs), nil
}

func (a *SyntheticAdapter) QueryDrugExposure(ctx context.Context, conceptIDs []int64, includeDescendants bool, daysSupplyMin *int) (QueryResult, error) {
	return a.syntheticResult("drug_exposure", conceptIDs), nil
}

func (a *SyntheticAdapter) QueryProcedure(ctx context.Context, conceptIDs []int64, includeDescendants bool) (QueryResult, error) {
	return a.syntheticResult("procedure_occurrence", conceptIDs), nil
}

func (a *SyntheticAdapter) QueryObservation(ctx context.Context, conceptIDs []int64, includeDescendants bool) (QueryResult, error) {
	return a.syntheticResult("observation", conceptIDs), nil
}

func (a *SyntheticAdapter) QueryDemographics(ctx context.Context, filter DemographicsFilter) (QueryResult, error) {
	return a.syntheticResult("person", nil), nil
}

func (a *SyntheticAdapter) ExecuteSQL(ctx context.Context, sql string) (QueryResult, error) {
	if !a.connected {
		return QueryResult{}, fmt.Errorf("adapter: not connected")
	}
	return QueryResult{
		PatientCount:  a.totalPopulation / 2,
		QueryExecuted: sql,
		Metadata:      map[string]any{"synthetic": true},
	}, nil
}

// syntheticResult derives a deterministic patient count for table/concept
// set by hashing the sorted concept IDs into a retention fraction in
// [0.05, 0.95] of the total population.
func (a *SyntheticAdapter) syntheticResult(table string, conceptIDs []int64) QueryResult {
	fraction := retentionFraction(table, conceptIDs)
	return QueryResult{
		PatientCount:  int64(float64(a.totalPopulation) * fraction),
		QueryExecuted: fmt.Sprintf("SELECT DISTINCT person_id FROM %s WHERE concept_id IN %v", table, conceptIDs),
		Metadata:      map[string]any{"synthetic": true, "retention_fraction": fraction},
	}
}

func retentionFraction(table string, conceptIDs []int64) float64 {
	sorted := append([]int64(nil), conceptIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := sha256.New()
	h.Write([]byte(table))
	for _, id := range sorted {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(id))
		h.Write(buf[:])
	}
	sum := h.Sum(nil)
	n := binary.BigEndian.Uint32(sum[:4])
	return 0.05 + (float64(n)/float64(^uint32(0)))*0.90
}

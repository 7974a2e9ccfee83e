// Package orchestrator sequences the 12-stage criteria-interpretation
// pipeline in fixed dependency order (spec.md §4.1), persisting a
// per-stage JSON artifact for resumption and audit, aborting the run on
// a critical-stage failure (stages 2, 4, 7), and supporting cooperative
// cancellation of an in-flight run. Grounded on tarsy's
// pkg/queue/pool.go worker-pool lifecycle (register/cancel/unregister by
// id, graceful Stop) adapted from concurrent alert sessions to concurrent
// protocol interpretation runs.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trialqeb/interpretpipe/pkg/adapter"
	"github.com/trialqeb/interpretpipe/pkg/cache"
	"github.com/trialqeb/interpretpipe/pkg/concept"
	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
	"github.com/trialqeb/interpretpipe/pkg/reflection"
	"github.com/trialqeb/interpretpipe/pkg/stage02"
	"github.com/trialqeb/interpretpipe/pkg/stage04"
	"github.com/trialqeb/interpretpipe/pkg/stage06"
	"github.com/trialqeb/interpretpipe/pkg/stage07"
	"github.com/trialqeb/interpretpipe/pkg/stage11"
	"github.com/trialqeb/interpretpipe/pkg/stage12"
	"github.com/trialqeb/interpretpipe/pkg/usdm"
)

// interpretationStagesDir is the per-protocol subdirectory spec.md §6
// persists per-stage artifacts under.
const interpretationStagesDir = "interpretation_stages"

// RunResult aggregates every stage's output plus the on-disk artifact
// paths spec.md §6 enumerates.
type RunResult struct {
	RunID         string
	Success       bool
	Trees         []model.ExpressionTree
	Atomics       []model.Atomic
	Mapped        []model.MappedAtomic
	SQLAtomics    []model.SQLAtomic
	Compliance    stage07.ComplianceResult
	Funnel        model.FunnelResult
	QEBOutput     model.QEBOutput
	Warnings      []pipelineerrors.Warning
	Durations     map[string]time.Duration
	ArtifactPaths []string
}

// Orchestrator wires the llm gateway, caches, reflection engine, and
// vocabulary/query adapters into the fixed 12-stage sequence.
type Orchestrator struct {
	cfg     *config.Config
	logger  *slog.Logger
	gateway *llmgateway.Gateway
	reflect *reflection.Engine
	concept *concept.Expander
	vocab   stage04.VocabularySearcher

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  bool
}

// New builds an Orchestrator from cfg. It owns the LLM gateway, the three
// disk caches, the reflection engine, and a synthetic (in-process)
// vocabulary searcher — spec.md §1 treats real OMOP/FHIR backends as
// external collaborators the core never ships.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: create cache dir: %w", err)
	}

	decisions, err := cache.NewLLMDecisionCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build LLM decision cache: %w", err)
	}
	concepts, err := cache.NewConceptCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build concept cache: %w", err)
	}
	omopCache, err := cache.NewOmopQueryCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build OMOP query cache: %w", err)
	}

	gw, err := llmgateway.NewGateway(cfg, decisions)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build LLM gateway: %w", err)
	}

	vocab := adapter.NewCachedVocabulary(adapter.NewSyntheticVocabulary(), omopCache)

	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		gateway: gw,
		reflect: reflection.NewEngine(gw),
		concept: concept.NewExpander(gw, concepts, cfg.Defaults.PromptVersion, cfg.Concurrency.BatchSize),
		vocab:   vocab,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// registerRun tracks runID's cancel function so CancelRun can reach it,
// mirroring tarsy's pool.RegisterSession/CancelSession pair.
func (o *Orchestrator) registerRun(runID string) (context.Context, context.CancelFunc, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil, nil, fmt.Errorf("orchestrator: shutting down, rejecting new run %q", runID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancels[runID] = cancel
	o.wg.Add(1)
	return ctx, cancel, nil
}

func (o *Orchestrator) unregisterRun(runID string) {
	o.mu.Lock()
	delete(o.cancels, runID)
	o.mu.Unlock()
	o.wg.Done()
}

// CancelRun cancels an in-flight run by id. It is a no-op if runID isn't
// currently running.
func (o *Orchestrator) CancelRun(runID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every in-flight run and waits for them to return. Safe to
// call multiple times.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopped = true
		for _, cancel := range o.cancels {
			cancel()
		}
		o.mu.Unlock()
		o.wg.Wait()
	})
}

// Run executes the full 12-stage pipeline for one protocol's criteria
// set, persisting per-stage artifacts under baseDir/interpretation_stages
// and the final protocol-level artifacts directly under baseDir.
// initialPopulation seeds Stage 11's funnel; progress receives one event
// per completed phase (pass nil to ignore).
func (o *Orchestrator) Run(parentCtx context.Context, runID, protocolID, baseDir string, criteria []model.RawCriterion, initialPopulation int64, progress ProgressFunc) (*RunResult, error) {
	if progress == nil {
		progress = noopProgress
	}
	ctx, cancel, err := o.registerRun(runID)
	if err != nil {
		return nil, err
	}
	defer o.unregisterRun(runID)
	defer cancel()
	ctx = mergeCancellation(ctx, parentCtx)

	runDir := filepath.Join(baseDir, interpretationStagesDir)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: create run dir: %w", err)
	}

	result := &RunResult{RunID: runID, Durations: make(map[string]time.Duration)}
	total := o.cfg.StageGraph.Len()

	run := &runState{o: o, ctx: ctx, runID: runID, runDir: runDir, total: total, progress: progress, result: result}

	if err := run.expressionTreeAndDecomposition(criteria); err != nil {
		return result, err
	}
	if err := run.conceptExpansion(); err != nil {
		return result, err
	}
	if err := run.omopFhirMapping(); err != nil {
		return result, err
	}
	if err := run.sqlGeneration(); err != nil {
		return result, err
	}
	if err := run.usdmCompliance(criteria); err != nil {
		return result, err
	}
	if err := run.feasibility(criteria, initialPopulation); err != nil {
		return result, err
	}
	if err := run.qebBuild(criteria); err != nil {
		return result, err
	}

	if err := run.writeFinalArtifacts(baseDir, protocolID); err != nil {
		return result, err
	}

	result.Success = true
	return result, nil
}

// mergeCancellation returns a context canceled when either ctx or other
// is canceled. registerRun's ctx carries the run-id-keyed CancelRun hook;
// other is the caller's own context (e.g. a CLI's signal-handling
// context).
func mergeCancellation(ctx, other context.Context) context.Context {
	if other == nil {
		return ctx
	}
	merged, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-other.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}

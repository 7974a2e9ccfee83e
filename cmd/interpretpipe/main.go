// interpretpipe runs the 12-stage eligibility-criteria interpretation
// pipeline for one protocol: it loads configuration and the
// eligibility_criteria.json input contract, invokes the orchestrator,
// and optionally serves read-only run progress over HTTP and persists
// run/stage checkpoints to PostgreSQL.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/trialqeb/interpretpipe/internal/progressapi"
	"github.com/trialqeb/interpretpipe/internal/store"
	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/logging"
	"github.com/trialqeb/interpretpipe/pkg/orchestrator"
	"github.com/trialqeb/interpretpipe/pkg/validate"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	inputPath := flag.String("input", getEnv("ELIGIBILITY_CRITERIA_PATH", "./eligibility_criteria.json"), "Path to eligibility_criteria.json")
	outputDir := flag.String("output-dir", getEnv("OUTPUT_DIR", "./output"), "Directory to write interpretation artifacts to")
	protocolID := flag.String("protocol-id", getEnv("PROTOCOL_ID", ""), "Protocol identifier, used to name final artifacts")
	initialPopulation := flag.Int64("initial-population", 0, "Seed population for the feasibility funnel")
	progressPort := flag.String("progress-port", getEnv("PROGRESS_PORT", ""), "If set, serve read-only run progress on this port")
	databaseURL := flag.String("database-url", getEnv("DATABASE_URL", ""), "If set, persist run/stage checkpoints to this PostgreSQL DSN")
	flag.Parse()

	if *protocolID == "" {
		log.Fatal("Failed to start: -protocol-id is required")
	}

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	logger := logging.New(cfg)

	criteria, err := validate.LoadCriteria(*inputPath)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *inputPath, err)
	}
	logger.Info("loaded eligibility criteria", "count", len(criteria), "path", *inputPath)

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}
	defer orch.Stop()

	var st *store.Store
	if *databaseURL != "" {
		st, err = store.New(ctx, *databaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to checkpoint store: %v", err)
		}
		defer st.Close()
	}

	tracker := progressapi.NewTracker()
	if *progressPort != "" {
		router := progressapi.Router(tracker)
		go func() {
			if err := router.Run(":" + *progressPort); err != nil {
				logger.Error("progress API server stopped", "error", err)
			}
		}()
		logger.Info("progress API listening", "port", *progressPort)
	}

	runID := uuid.NewString()
	if st != nil {
		if err := st.StartRun(ctx, runID, *protocolID); err != nil {
			logger.Warn("failed to record run start", "error", err)
		}
	}

	progress := func(p orchestrator.Progress) {
		tracker.Record(p)
		logger.Info("stage progress", "run_id", p.RunID, "stage", p.StageName, "index", p.StageIndex, "total", p.TotalStages, "resumed", p.Resumed)
		if st != nil {
			if err := st.RecordProgress(ctx, p); err != nil {
				logger.Warn("failed to record stage checkpoint", "error", err, "stage", p.StageName)
			}
		}
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	result, runErr := orch.Run(ctx, runID, *protocolID, *outputDir, criteria, *initialPopulation, progress)

	if st != nil {
		if err := st.CompleteRun(ctx, runID, runErr == nil, runErr); err != nil {
			logger.Warn("failed to record run completion", "error", err)
		}
	}

	if runErr != nil {
		log.Fatalf("Run %s failed: %v", runID, runErr)
	}

	logger.Info("run complete",
		"run_id", runID,
		"success", result.Success,
		"warnings", len(result.Warnings),
		"artifacts", result.ArtifactPaths,
	)
}

package orchestrator

// Progress is a structured checkpoint the orchestrator emits after every
// phase, so a caller (internal/progressapi, or a CLI progress bar) can
// observe pipeline advancement without polling the filesystem.
type Progress struct {
	RunID        string `json:"run_id"`
	Phase        string `json:"phase"`
	StageIndex   int    `json:"stage_index"`
	TotalStages  int    `json:"total_stages"`
	StageName    string `json:"stage_name"`
	Resumed      bool   `json:"resumed"`
	WarningCount int    `json:"warning_count"`
}

// ProgressFunc receives one Progress event per completed phase. It must
// not block for long; the orchestrator calls it synchronously between
// stages.
type ProgressFunc func(Progress)

func noopProgress(Progress) {}

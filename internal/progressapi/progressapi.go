// Package progressapi exposes a read-only HTTP surface over the
// orchestrator's in-flight run progress, for a CLI progress bar or an
// operator dashboard to poll — distinct from (and with no awareness of)
// any external review-UI synchronization service. Grounded on tarsy's
// cmd/tarsy/main.go gin.Default()+router.GET("/health", ...) setup.
package progressapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trialqeb/interpretpipe/pkg/orchestrator"
)

// Tracker holds the most recent Progress event per run id. Safe for
// concurrent use; orchestrator.Run calls Record synchronously between
// phases.
type Tracker struct {
	mu      sync.RWMutex
	latest  map[string]orchestrator.Progress
	startAt map[string]time.Time
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		latest:  make(map[string]orchestrator.Progress),
		startAt: make(map[string]time.Time),
	}
}

// Record stores p as runID's latest progress. Matches
// orchestrator.ProgressFunc's signature so it can be passed directly (or
// composed with another ProgressFunc, e.g. a store-recording one).
func (t *Tracker) Record(p orchestrator.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.startAt[p.RunID]; !ok {
		t.startAt[p.RunID] = time.Now()
	}
	t.latest[p.RunID] = p
}

// Snapshot returns runID's latest progress, if any.
func (t *Tracker) Snapshot(runID string) (orchestrator.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.latest[runID]
	return p, ok
}

// All returns every tracked run's latest progress.
func (t *Tracker) All() []orchestrator.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]orchestrator.Progress, 0, len(t.latest))
	for _, p := range t.latest {
		out = append(out, p)
	}
	return out
}

// Router builds the read-only gin router: GET /health, GET /runs, GET
// /runs/:id.
func Router(tracker *Tracker) *gin.Engine {
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "tracked_runs": len(tracker.All())})
	})

	router.GET("/runs", func(c *gin.Context) {
		c.JSON(http.StatusOK, tracker.All())
	})

	router.GET("/runs/:id", func(c *gin.Context) {
		p, ok := tracker.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not tracked"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	return router
}

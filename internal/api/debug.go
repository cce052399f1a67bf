package api

import (
	"net/http"
	"os"
	"time"

	"freightalloc/internal/buildinfo"
	"freightalloc/internal/opt"
)

// DebugJSON serves build info, effective config and solver metrics of the most
// recent runs.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	runs := map[string]any{}
	for _, id := range opt.RecentRuns() {
		runs[id] = opt.GetMetrics(id)
	}
	targets := 0
	if s.Pub != nil {
		targets = len(s.Pub.Targets)
	}
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                  os.Getenv("PORT"),
			"AUTH_MODE":             os.Getenv("AUTH_MODE"),
			"RATE_RPS":              os.Getenv("RATE_RPS"),
			"RATE_BURST":            os.Getenv("RATE_BURST"),
			"CAPACITY_CONFIG":       os.Getenv("CAPACITY_CONFIG"),
			"ALLOCATION_STRATEGY":   string(s.DefaultStrategy),
			"SOLVER_TIME_BUDGET_MS": s.DefaultTimeBudget.Milliseconds(),
			"WEBHOOK_TARGETS":       targets,
			"HAS_DATABASE_URL":      os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":         os.Getenv("REDIS_URL") != "",
		},
		"solverRuns": runs,
	}
	if s.Worker != nil {
		info["webhooks"] = s.Worker.Stats()
	}
	writeJSON(w, http.StatusOK, info)
}

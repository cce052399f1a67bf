package opt

import (
	"sync"

	"freightalloc/internal/model"
)

type key struct {
	RunID     string
	Direction model.Direction
}

// maxRecordedRuns bounds the in-process history kept for /debug.
const maxRecordedRuns = 64

var (
	mu    sync.Mutex
	store = map[key]Metrics{}
	order []string
)

// RecordMetrics keeps the solver metrics of one direction of a run. Only the
// most recent maxRecordedRuns runs are retained.
func RecordMetrics(runID string, dir model.Direction, m Metrics) {
	mu.Lock()
	defer mu.Unlock()
	seen := false
	for _, id := range order {
		if id == runID {
			seen = true
			break
		}
	}
	if !seen {
		order = append(order, runID)
		if len(order) > maxRecordedRuns {
			evict := order[0]
			order = order[1:]
			for k := range store {
				if k.RunID == evict {
					delete(store, k)
				}
			}
		}
	}
	store[key{RunID: runID, Direction: dir}] = m
}

func GetMetrics(runID string) map[model.Direction]Metrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[model.Direction]Metrics{}
	for k, v := range store {
		if k.RunID == runID {
			out[k.Direction] = v
		}
	}
	return out
}

// RecentRuns lists recorded run ids, oldest first.
func RecentRuns() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), order...)
}

package extension

import (
	"github.com/stockyard/extension/internal/jobgen"
	"github.com/stockyard/extension/internal/spawn"
)

// publishReport and publishSpawnStats run inside scheduler tasks. They only
// queue; the InfluxDB writes happen on the drain goroutine.
func (e *Extension) publishReport(r jobgen.Report) {
	e.log.Debug("Generation finished", "yard", r.Yard, "jobs", len(r.Jobs), "candidates", r.Candidates)
	if e.stats != nil && !e.stats.TrySend(r) {
		e.log.Warn("Statistics queue full, dropping report", "yard", r.Yard)
	}
}

func (e *Extension) publishSpawnStats(s spawn.Stats) {
	if e.stats != nil && !e.stats.TrySend(s) {
		e.log.Warn("Statistics queue full, dropping spawn stats")
	}
}

func (e *Extension) drainStats() {
	defer close(e.statsDone)
	for v := range e.stats.Receive() {
		switch s := v.(type) {
		case jobgen.Report:
			e.influx.WriteReport(s)
		case spawn.Stats:
			e.influx.WriteSpawnStats(s)
		}
	}
}

package securing

import "fmt"

// CapacityGovernor caps the number of records sealed per run, allowing large
// backlogs to drain in bounded, resumable steps. When a window holds more
// records than the cap, the oldest cap records (by sequence) are included,
// the window end is pulled back to the last included record's timestamp, and
// the resulting event carries maxEntriesReached so the orchestrator re-runs
// the pass.
type CapacityGovernor struct {
	maxEntries int
}

// NewCapacityGovernor creates a governor with the given per-run cap.
func NewCapacityGovernor(maxEntries int) (*CapacityGovernor, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("max entries per run must be positive: %d", maxEntries)
	}
	return &CapacityGovernor{maxEntries: maxEntries}, nil
}

// MaxEntries returns the per-run cap.
func (g *CapacityGovernor) MaxEntries() int { return g.maxEntries }

// QueryLimit returns the bound to pass to the window query: one beyond the
// cap, so an overflowing backlog is detected without reading it all.
func (g *CapacityGovernor) QueryLimit() int { return g.maxEntries + 1 }

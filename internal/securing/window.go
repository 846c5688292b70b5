package securing

import (
	"context"
	"fmt"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// Window is the half-open [Start, End) range of records eligible for one
// securing run.
type Window struct {
	Start time.Time
	End   time.Time

	// AfterSequence is the previous run's sealed-record watermark. The
	// window query resumes strictly after it, so records a truncated run
	// already sealed are never re-secured even though the overlapping
	// time bounds would re-select them.
	AfterSequence int64

	// FirstRun is true when no previous successful run exists for the
	// tenant and type; the window then starts at the initial epoch.
	FirstRun bool
}

// WindowSelector computes the next securing window for a tenant. It is a
// pure query over the journal; the window is only committed once packaging
// succeeds, so a failed run naturally recomputes the same window later.
type WindowSelector struct {
	journal      Journal
	overlapDelay time.Duration
	now          func() time.Time
}

// NewWindowSelector creates a selector with the configured overlap delay.
func NewWindowSelector(j Journal, overlapDelay time.Duration) (*WindowSelector, error) {
	if overlapDelay < 0 {
		return nil, fmt.Errorf("overlap delay cannot be negative: %s", overlapDelay)
	}
	return &WindowSelector{journal: j, overlapDelay: overlapDelay, now: time.Now}, nil
}

// Select returns the window for the next run of the given tenant and type.
// End is the current time at second precision. Start is the end date of the
// last successful run minus the overlap delay, or the initial epoch for a
// fresh chain. The epoch itself is never overlap-adjusted: there is nothing
// before it that a late commit could belong to.
func (s *WindowSelector) Select(ctx context.Context, tenant int, typ models.TraceabilityType) (Window, error) {
	end := s.now().UTC().Truncate(time.Second)

	last, err := s.journal.FindLastSuccessful(ctx, tenant, typ)
	if err != nil {
		return Window{}, fmt.Errorf("failed to find last successful operation: %w", err)
	}
	if last == nil {
		return Window{Start: models.InitialStartDate, End: end, FirstRun: true}, nil
	}

	detail, err := last.TraceabilityDetail()
	if err != nil {
		return Window{}, fmt.Errorf("failed to decode last traceability event: %w", err)
	}
	if detail == nil {
		return Window{}, fmt.Errorf("last successful operation %s has no traceability detail", last.ID)
	}
	_, lastEnd, err := detail.Window()
	if err != nil {
		return Window{}, err
	}

	start := lastEnd.Add(-s.overlapDelay)
	if start.After(end) {
		start = end
	}
	return Window{Start: start, End: end, AfterSequence: detail.LastSequence}, nil
}

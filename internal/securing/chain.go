package securing

import (
	"context"
	"fmt"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// ChainLinks holds the previous-run and anchor references a new traceability
// event embeds to join the existing daily, monthly and yearly chains. Empty
// fields mean the new event heads a fresh chain segment.
type ChainLinks struct {
	PreviousStartDate      string
	PreviousTimestampToken []byte

	PreviousMonthStartDate      string
	PreviousMonthTimestampToken []byte

	PreviousYearStartDate      string
	PreviousYearTimestampToken []byte
}

// ChainLinker locates the operations a new securing run must chain to. The
// chain head is always re-derived from the journal, never cached in process,
// so restarts and concurrent orchestrator instances stay correct.
type ChainLinker struct {
	journal Journal
}

// NewChainLinker creates a linker over the journal.
func NewChainLinker(j Journal) *ChainLinker {
	return &ChainLinker{journal: j}
}

// Links resolves the daily, monthly and yearly references for a run whose
// window ends at endDate. Absent previous runs or anchors are not errors.
func (l *ChainLinker) Links(ctx context.Context, tenant int, typ models.TraceabilityType, endDate time.Time) (ChainLinks, error) {
	var links ChainLinks

	prev, err := l.journal.FindLastSuccessful(ctx, tenant, typ)
	if err != nil {
		return ChainLinks{}, fmt.Errorf("failed to find previous operation: %w", err)
	}
	if prev != nil {
		start, token, err := extract(prev)
		if err != nil {
			return ChainLinks{}, err
		}
		links.PreviousStartDate = start
		links.PreviousTimestampToken = token
	}

	monthStart, monthToken, err := l.anchor(ctx, tenant, typ, endDate.AddDate(0, -1, 0))
	if err != nil {
		return ChainLinks{}, err
	}
	links.PreviousMonthStartDate = monthStart
	links.PreviousMonthTimestampToken = monthToken

	yearStart, yearToken, err := l.anchor(ctx, tenant, typ, endDate.AddDate(-1, 0, 0))
	if err != nil {
		return ChainLinks{}, err
	}
	links.PreviousYearStartDate = yearStart
	links.PreviousYearTimestampToken = yearToken

	return links, nil
}

func (l *ChainLinker) anchor(ctx context.Context, tenant int, typ models.TraceabilityType, target time.Time) (string, []byte, error) {
	op, err := l.journal.FindFirstStartingAtOrAfter(ctx, tenant, typ, target)
	if err != nil {
		return "", nil, fmt.Errorf("failed to find anchor operation: %w", err)
	}
	if op == nil {
		return "", nil, nil
	}
	return extract(op)
}

// extract pulls the (startDate, timestampToken) pair out of an operation's
// traceability detail.
func extract(op *models.Operation) (string, []byte, error) {
	detail, err := op.TraceabilityDetail()
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode traceability event of %s: %w", op.ID, err)
	}
	if detail == nil {
		return "", nil, fmt.Errorf("operation %s has no traceability detail", op.ID)
	}
	return detail.StartDate, detail.TimestampToken, nil
}

package securing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

func TestChainLinkerFreshChain(t *testing.T) {
	linker := NewChainLinker(journal.NewMemoryStore())

	links, err := linker.Links(context.Background(), 0, models.TraceabilityOperations,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Empty(t, links.PreviousStartDate)
	assert.Nil(t, links.PreviousTimestampToken)
	assert.Empty(t, links.PreviousMonthStartDate)
	assert.Empty(t, links.PreviousYearStartDate)
}

func TestChainLinkerResolvesAllLinks(t *testing.T) {
	store := journal.NewMemoryStore()
	typ := models.TraceabilityOperations
	end := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	// Oldest run: just after the one-year target, so it anchors the year.
	yearStart := end.AddDate(-1, 0, 0).Add(2 * time.Hour)
	seedSuccessfulRun(t, store, 0, typ, yearStart, yearStart.Add(time.Hour), []byte("year-token"))

	// Run just after the one-month target anchors the month.
	monthStart := end.AddDate(0, -1, 0).Add(30 * time.Minute)
	seedSuccessfulRun(t, store, 0, typ, monthStart, monthStart.Add(time.Hour), []byte("month-token"))

	// Latest run is the daily predecessor.
	prevStart := end.Add(-2 * time.Hour)
	seedSuccessfulRun(t, store, 0, typ, prevStart, end.Add(-time.Hour), []byte("prev-token"))

	links, err := NewChainLinker(store).Links(context.Background(), 0, typ, end)
	require.NoError(t, err)

	assert.Equal(t, models.FormatDate(prevStart), links.PreviousStartDate)
	assert.Equal(t, []byte("prev-token"), links.PreviousTimestampToken)
	assert.Equal(t, models.FormatDate(monthStart), links.PreviousMonthStartDate)
	assert.Equal(t, []byte("month-token"), links.PreviousMonthTimestampToken)
	assert.Equal(t, models.FormatDate(yearStart), links.PreviousYearStartDate)
	assert.Equal(t, []byte("year-token"), links.PreviousYearTimestampToken)
}

func TestChainLinkerExactAnchorMatch(t *testing.T) {
	store := journal.NewMemoryStore()
	typ := models.TraceabilityUnit
	end := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	// Run starting exactly at end minus one month qualifies as the anchor.
	target := end.AddDate(0, -1, 0)
	seedSuccessfulRun(t, store, 0, typ, target, target.Add(time.Hour), []byte("exact"))

	links, err := NewChainLinker(store).Links(context.Background(), 0, typ, end)
	require.NoError(t, err)
	assert.Equal(t, models.FormatDate(target), links.PreviousMonthStartDate)
	assert.Equal(t, []byte("exact"), links.PreviousMonthTimestampToken)
}

func TestChainLinkerAmbiguousAnchorOmitted(t *testing.T) {
	store := journal.NewMemoryStore()
	typ := models.TraceabilityOperations
	end := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	// Two candidate runs share the same start date: no anchor is chosen
	// rather than guessing between them.
	shared := end.AddDate(0, -1, 0).Add(time.Hour)
	seedSuccessfulRun(t, store, 0, typ, shared, shared.Add(10*time.Minute), []byte("first"))
	seedSuccessfulRun(t, store, 0, typ, shared, shared.Add(20*time.Minute), []byte("second"))

	links, err := NewChainLinker(store).Links(context.Background(), 0, typ, end)
	require.NoError(t, err)
	assert.Empty(t, links.PreviousMonthStartDate)
	assert.Nil(t, links.PreviousMonthTimestampToken)
}

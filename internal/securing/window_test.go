package securing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// seedSuccessfulRun records a completed securing operation in the store so
// selectors and linkers have a chain head to work from.
func seedSuccessfulRun(t *testing.T, store *journal.MemoryStore, tenant int, typ models.TraceabilityType, start, end time.Time, token []byte) *models.Operation {
	t.Helper()

	ev := models.TraceabilityEvent{
		LogType:         typ,
		StartDate:       models.FormatDate(start),
		EndDate:         models.FormatDate(end),
		TimestampToken:  token,
		DigestAlgorithm: "SHA-256",
	}
	detail, err := json.Marshal(ev)
	require.NoError(t, err)

	op := &models.Operation{
		ID:     fmt.Sprintf("op-%d-%s", tenant, models.FormatDate(end)),
		Tenant: tenant,
		Type:   typ,
		Events: []models.OperationEvent{
			{Type: typ, Outcome: models.OutcomeStarted, Date: start},
		},
	}
	require.NoError(t, store.AppendOperationStarted(context.Background(), op))
	require.NoError(t, store.AppendOperationEvent(context.Background(), op.ID, models.OperationEvent{
		Type:      typ,
		Outcome:   models.OutcomeOK,
		Date:      end,
		DetailRaw: detail,
	}))
	return op
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWindowSelectorFirstRun(t *testing.T) {
	store := journal.NewMemoryStore()
	sel, err := NewWindowSelector(store, 5*time.Minute)
	require.NoError(t, err)

	now := time.Date(2017, 10, 31, 15, 11, 21, 123456789, time.UTC)
	sel.now = fixedClock(now)

	w, err := sel.Select(context.Background(), 0, models.TraceabilityOperations)
	require.NoError(t, err)

	assert.True(t, w.FirstRun)
	assert.Equal(t, models.InitialStartDate, w.Start, "epoch start is never overlap-adjusted")
	assert.Equal(t, time.Date(2017, 10, 31, 15, 11, 21, 0, time.UTC), w.End, "end is truncated to the second")
}

func TestWindowSelectorOverlap(t *testing.T) {
	store := journal.NewMemoryStore()
	seedSuccessfulRun(t, store, 0, models.TraceabilityOperations,
		time.Date(2017, 10, 31, 15, 1, 0, 0, time.UTC),
		time.Date(2017, 10, 31, 15, 11, 15, 0, time.UTC),
		[]byte("token-1"))

	sel, err := NewWindowSelector(store, 300*time.Second)
	require.NoError(t, err)
	sel.now = fixedClock(time.Date(2017, 10, 31, 15, 11, 21, 999000000, time.UTC))

	w, err := sel.Select(context.Background(), 0, models.TraceabilityOperations)
	require.NoError(t, err)

	assert.False(t, w.FirstRun)
	assert.Equal(t, time.Date(2017, 10, 31, 15, 6, 15, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2017, 10, 31, 15, 11, 21, 0, time.UTC), w.End)
}

func TestWindowSelectorCarriesSealedWatermark(t *testing.T) {
	store := journal.NewMemoryStore()
	start := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := models.TraceabilityEvent{
		LogType:         models.TraceabilityOperations,
		StartDate:       models.FormatDate(start),
		EndDate:         models.FormatDate(end),
		TimestampToken:  []byte("token"),
		DigestAlgorithm: "SHA-256",
		LastSequence:    42,
	}
	detail, err := json.Marshal(ev)
	require.NoError(t, err)

	op := &models.Operation{
		ID: "op-watermark", Tenant: 0, Type: models.TraceabilityOperations,
		Events: []models.OperationEvent{
			{Type: models.TraceabilityOperations, Outcome: models.OutcomeStarted, Date: start},
		},
	}
	require.NoError(t, store.AppendOperationStarted(context.Background(), op))
	require.NoError(t, store.AppendOperationEvent(context.Background(), op.ID, models.OperationEvent{
		Type: models.TraceabilityOperations, Outcome: models.OutcomeOK, Date: end, DetailRaw: detail,
	}))

	sel, err := NewWindowSelector(store, 5*time.Minute)
	require.NoError(t, err)
	sel.now = fixedClock(end.Add(time.Minute))

	w, err := sel.Select(context.Background(), 0, models.TraceabilityOperations)
	require.NoError(t, err)
	// The overlap re-opens time the previous run already covered; the
	// watermark keeps its sealed records out of the next query.
	assert.Equal(t, int64(42), w.AfterSequence)
}

func TestWindowSelectorClampsToEnd(t *testing.T) {
	store := journal.NewMemoryStore()
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSuccessfulRun(t, store, 0, models.TraceabilityUnit,
		end.Add(-time.Hour), end, []byte("token"))

	sel, err := NewWindowSelector(store, 0)
	require.NoError(t, err)
	// Clock moved backwards relative to the recorded end.
	sel.now = fixedClock(end.Add(-30 * time.Second))

	w, err := sel.Select(context.Background(), 0, models.TraceabilityUnit)
	require.NoError(t, err)
	assert.Equal(t, w.End, w.Start, "start never exceeds end")
}

func TestWindowSelectorIgnoresOtherTenantsAndTypes(t *testing.T) {
	store := journal.NewMemoryStore()
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSuccessfulRun(t, store, 7, models.TraceabilityOperations, end.Add(-time.Hour), end, []byte("a"))
	seedSuccessfulRun(t, store, 0, models.TraceabilityUnit, end.Add(-time.Hour), end, []byte("b"))

	sel, err := NewWindowSelector(store, 0)
	require.NoError(t, err)
	sel.now = fixedClock(end.Add(time.Minute))

	w, err := sel.Select(context.Background(), 0, models.TraceabilityOperations)
	require.NoError(t, err)
	assert.True(t, w.FirstRun, "runs of other tenants or types do not seed the window")
}

func TestNewWindowSelectorRejectsNegativeOverlap(t *testing.T) {
	_, err := NewWindowSelector(journal.NewMemoryStore(), -time.Second)
	assert.Error(t, err)
}

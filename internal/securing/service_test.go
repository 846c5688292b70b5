package securing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/merkle"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
	"github.com/arkheion-systems/arkheion-securing/internal/offers"
	"github.com/arkheion-systems/arkheion-securing/internal/timestamp"
)

type mockNotifier struct {
	startedFunc  func(op *models.Operation)
	terminalFunc func(op *models.Operation, outcome models.Outcome, ev *models.TraceabilityEvent)
}

func (m *mockNotifier) OperationStarted(_ context.Context, op *models.Operation) {
	if m.startedFunc != nil {
		m.startedFunc(op)
	}
}

func (m *mockNotifier) OperationTerminal(_ context.Context, op *models.Operation, outcome models.Outcome, ev *models.TraceabilityEvent) {
	if m.terminalFunc != nil {
		m.terminalFunc(op, outcome, ev)
	}
}

type mockIndexer struct {
	indexFunc func(tenant int, operationID string, ev *models.TraceabilityEvent) error
}

func (m *mockIndexer) IndexTraceability(_ context.Context, tenant int, operationID string, ev *models.TraceabilityEvent) error {
	if m.indexFunc != nil {
		return m.indexFunc(tenant, operationID, ev)
	}
	return nil
}

func newTestService(t *testing.T, jstore *journal.MemoryStore, maxEntries int, opts ...ServiceOption) *Service {
	t.Helper()

	offerStore, err := offers.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { offerStore.Close() })

	window, err := NewWindowSelector(jstore, 0)
	require.NoError(t, err)
	governor, err := NewCapacityGovernor(maxEntries)
	require.NoError(t, err)
	packager := NewPackager(offerStore, timestamp.NewLocalSigner("test-secret"), merkle.SHA256)

	return NewService(jstore, window, NewChainLinker(jstore), governor, packager,
		slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestServiceRunRecordsSuccessfulOperation(t *testing.T) {
	jstore := journal.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	seedRecords(t, jstore, 0, models.TraceabilityOperations,
		[][]byte{[]byte("a"), []byte("b")},
		[]time.Time{base, base.Add(time.Minute)})

	svc := newTestService(t, jstore, 100)

	opID, err := svc.Run(context.Background(), 0, models.TraceabilityOperations)
	require.NoError(t, err)

	op, err := jstore.FindOperation(context.Background(), 0, opID)
	require.NoError(t, err)
	require.True(t, op.Terminal())
	assert.Equal(t, models.OutcomeOK, op.LastEvent().Outcome)

	detail, err := op.TraceabilityDetail()
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, int64(2), detail.NumberOfEntries)
	assert.False(t, detail.MaxEntriesReached)
	assert.Equal(t, models.FormatDate(models.InitialStartDate), detail.StartDate)
	assert.NotEmpty(t, detail.TimestampToken)
	assert.NotEmpty(t, detail.FileName)
}

func TestServiceChainContinuity(t *testing.T) {
	jstore := journal.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	seedRecords(t, jstore, 0, models.TraceabilityOperations,
		[][]byte{[]byte("first")}, []time.Time{base})

	svc := newTestService(t, jstore, 100)
	ctx := context.Background()

	firstID, err := svc.Run(ctx, 0, models.TraceabilityOperations)
	require.NoError(t, err)
	firstOp, err := jstore.FindOperation(ctx, 0, firstID)
	require.NoError(t, err)
	firstDetail, err := firstOp.TraceabilityDetail()
	require.NoError(t, err)

	// The next window opens where the previous one closed and a fresh run
	// chains back to it.
	secondID, err := svc.Run(ctx, 0, models.TraceabilityOperations)
	require.NoError(t, err)
	secondOp, err := jstore.FindOperation(ctx, 0, secondID)
	require.NoError(t, err)
	secondDetail, err := secondOp.TraceabilityDetail()
	require.NoError(t, err)

	assert.Equal(t, firstDetail.EndDate, secondDetail.StartDate)
	assert.Equal(t, firstDetail.StartDate, secondDetail.PreviousStartDate)
	assert.Equal(t, firstDetail.TimestampToken, secondDetail.PreviousTimestampToken)
}

func TestServiceCapacityRunsPartitionBacklog(t *testing.T) {
	jstore := journal.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	seedRecords(t, jstore, 0, models.TraceabilityOperations,
		[][]byte{[]byte("rec-100"), []byte("rec-101"), []byte("rec-102")},
		[]time.Time{base, base.Add(10 * time.Second), base.Add(20 * time.Second)})

	svc := newTestService(t, jstore, 2)
	ctx := context.Background()

	firstID, err := svc.Run(ctx, 0, models.TraceabilityOperations)
	require.NoError(t, err)
	firstOp, err := jstore.FindOperation(ctx, 0, firstID)
	require.NoError(t, err)
	firstDetail, err := firstOp.TraceabilityDetail()
	require.NoError(t, err)
	assert.True(t, firstDetail.MaxEntriesReached)
	assert.Equal(t, int64(2), firstDetail.NumberOfEntries)

	// The second window reopens at the pulled-back end date, which selects
	// the boundary record again by time. Only the unsecured remainder may
	// be sealed.
	secondID, err := svc.Run(ctx, 0, models.TraceabilityOperations)
	require.NoError(t, err)
	secondOp, err := jstore.FindOperation(ctx, 0, secondID)
	require.NoError(t, err)
	secondDetail, err := secondOp.TraceabilityDetail()
	require.NoError(t, err)
	assert.False(t, secondDetail.MaxEntriesReached)
	assert.Equal(t, int64(1), secondDetail.NumberOfEntries)
	assert.Greater(t, secondDetail.LastSequence, firstDetail.LastSequence)
}

func TestServiceCapacityOneDrainsBacklog(t *testing.T) {
	jstore := journal.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	seedRecords(t, jstore, 0, models.TraceabilityOperations,
		[][]byte{[]byte("rec-a"), []byte("rec-b")},
		[]time.Time{base, base.Add(time.Second)})

	svc := newTestService(t, jstore, 1)
	ctx := context.Background()

	// Each run seals exactly one record and the backlog shrinks every time,
	// so the drain terminates.
	var total int64
	for run := 0; run < 2; run++ {
		opID, err := svc.Run(ctx, 0, models.TraceabilityOperations)
		require.NoError(t, err)
		op, err := jstore.FindOperation(ctx, 0, opID)
		require.NoError(t, err)
		detail, err := op.TraceabilityDetail()
		require.NoError(t, err)
		assert.Equal(t, int64(1), detail.NumberOfEntries)
		total += detail.NumberOfEntries
		if run == 1 {
			assert.False(t, detail.MaxEntriesReached, "drained backlog ends without truncation")
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestServiceSealFailureRecordsFatal(t *testing.T) {
	jstore := journal.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	seedRecords(t, jstore, 0, models.TraceabilityUnit,
		[][]byte{[]byte("rec")}, []time.Time{base})

	offerStore, err := offers.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	defer offerStore.Close()

	window, err := NewWindowSelector(jstore, 0)
	require.NoError(t, err)
	governor, err := NewCapacityGovernor(10)
	require.NoError(t, err)
	packager := NewPackager(offerStore, failingProvider{err: fmt.Errorf("tsa unreachable")}, merkle.SHA256)
	svc := NewService(jstore, window, NewChainLinker(jstore), governor, packager,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	opID, err := svc.Run(context.Background(), 0, models.TraceabilityUnit)
	require.NoError(t, err, "run failures land in the journal, not in the return value")

	op, err := jstore.FindOperation(context.Background(), 0, opID)
	require.NoError(t, err)
	require.True(t, op.Terminal())
	assert.Equal(t, models.OutcomeFatal, op.LastEvent().Outcome)
	assert.Contains(t, string(op.LastEvent().DetailRaw), "tsa unreachable")

	// A failed run never becomes a chain head.
	last, err := jstore.FindLastSuccessful(context.Background(), 0, models.TraceabilityUnit)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestServiceNotifiesAndIndexes(t *testing.T) {
	jstore := journal.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	seedRecords(t, jstore, 5, models.TraceabilityOperations,
		[][]byte{[]byte("rec")}, []time.Time{base})

	var startedIDs, terminalIDs, indexedIDs []string
	var terminalOutcome models.Outcome
	notifier := &mockNotifier{
		startedFunc: func(op *models.Operation) { startedIDs = append(startedIDs, op.ID) },
		terminalFunc: func(op *models.Operation, outcome models.Outcome, ev *models.TraceabilityEvent) {
			terminalIDs = append(terminalIDs, op.ID)
			terminalOutcome = outcome
			assert.NotNil(t, ev)
		},
	}
	indexer := &mockIndexer{
		indexFunc: func(tenant int, operationID string, ev *models.TraceabilityEvent) error {
			assert.Equal(t, 5, tenant)
			indexedIDs = append(indexedIDs, operationID)
			return nil
		},
	}

	svc := newTestService(t, jstore, 100, WithNotifier(notifier), WithIndexer(indexer))

	opID, err := svc.Run(context.Background(), 5, models.TraceabilityOperations)
	require.NoError(t, err)

	assert.Equal(t, []string{opID}, startedIDs)
	assert.Equal(t, []string{opID}, terminalIDs)
	assert.Equal(t, models.OutcomeOK, terminalOutcome)
	assert.Equal(t, []string{opID}, indexedIDs)
}

func TestServiceIndexerFailureDoesNotFailRun(t *testing.T) {
	jstore := journal.NewMemoryStore()
	base := time.Now().UTC().Add(-time.Hour)
	seedRecords(t, jstore, 0, models.TraceabilityOperations,
		[][]byte{[]byte("rec")}, []time.Time{base})

	indexer := &mockIndexer{
		indexFunc: func(int, string, *models.TraceabilityEvent) error {
			return fmt.Errorf("index unavailable")
		},
	}
	svc := newTestService(t, jstore, 100, WithIndexer(indexer))

	opID, err := svc.Run(context.Background(), 0, models.TraceabilityOperations)
	require.NoError(t, err)

	op, err := jstore.FindOperation(context.Background(), 0, opID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOK, op.LastEvent().Outcome)
}

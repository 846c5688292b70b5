package securing

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
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

func newTestPackager(t *testing.T) (*Packager, *offers.FilesystemStore, *timestamp.LocalSigner) {
	t.Helper()
	store, err := offers.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	signer := timestamp.NewLocalSigner("test-secret")
	return NewPackager(store, signer, merkle.SHA256), store, signer
}

func seedRecords(t *testing.T, store *journal.MemoryStore, tenant int, typ models.TraceabilityType, payloads [][]byte, times []time.Time) {
	t.Helper()
	require.Len(t, times, len(payloads))
	for i, payload := range payloads {
		require.NoError(t, store.AppendRecord(context.Background(), &models.JournalRecord{
			Tenant:      tenant,
			Type:        typ,
			Payload:     payload,
			PersistedAt: times[i],
		}))
	}
}

func rootOf(t *testing.T, payloads ...[]byte) []byte {
	t.Helper()
	tree, err := merkle.NewTreeBuilder(merkle.SHA256)
	require.NoError(t, err)
	for _, p := range payloads {
		require.NoError(t, tree.AddLeaf(p))
	}
	root, err := tree.Root()
	require.NoError(t, err)
	return root
}

func TestPackagerSealAndVerify(t *testing.T) {
	packager, offerStore, signer := newTestPackager(t)
	jstore := journal.NewMemoryStore()

	base := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	payloads := [][]byte{
		[]byte(`{"event":"ingest","step":1}`),
		[]byte(`{"event":"ingest","step":2}`),
		[]byte(`{"event":"update","step":3}`),
	}
	seedRecords(t, jstore, 3, models.TraceabilityOperations, payloads, []time.Time{
		base.Add(time.Minute), base.Add(2 * time.Minute), base.Add(3 * time.Minute),
	})

	window := Window{Start: base, End: base.Add(time.Hour)}
	cursor, err := jstore.QueryWindow(context.Background(), 3, models.TraceabilityOperations,
		window.Start, window.End, 0, 101)
	require.NoError(t, err)
	defer cursor.Close()

	result, err := packager.Seal(context.Background(), SealRequest{
		Tenant:      3,
		Type:        models.TraceabilityOperations,
		OperationID: "0190a1b2-test",
		Window:      window,
		Links:       ChainLinks{PreviousStartDate: models.FormatDate(base.Add(-time.Hour)), PreviousTimestampToken: []byte("prev")},
		MaxEntries:  100,
	}, cursor)
	require.NoError(t, err)

	ev := result.Event
	assert.Equal(t, int64(3), ev.NumberOfEntries)
	assert.False(t, ev.MaxEntriesReached)
	assert.Equal(t, models.FormatDate(window.Start), ev.StartDate)
	assert.Equal(t, models.FormatDate(window.End), ev.EndDate)
	assert.Equal(t, merkle.SHA256, ev.DigestAlgorithm)
	assert.True(t, strings.HasPrefix(ev.FileName, "3_operations/"), "container name carries the tenant category: %s", ev.FileName)
	assert.True(t, strings.HasSuffix(ev.FileName, "_0190a1b2-test.zip"))

	root := rootOf(t, payloads...)
	assert.Equal(t, base64.StdEncoding.EncodeToString(root), ev.Hash)
	assert.True(t, signer.Verify(ev.TimestampToken, root), "token binds the merkle root")

	verifier := NewVerifier(offerStore, merkle.SHA256)
	res, err := verifier.Verify(context.Background(), result.ContainerName)
	require.NoError(t, err)
	assert.True(t, res.RootMatches)
	assert.Equal(t, int64(3), res.Entries)
	assert.Equal(t, ev.Hash, res.ComputedRoot)
	assert.Equal(t, ev.TimestampToken, res.Token)
}

func TestPackagerCapacityTruncation(t *testing.T) {
	packager, _, _ := newTestPackager(t)
	jstore := journal.NewMemoryStore()

	base := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	payloads := [][]byte{[]byte("rec-100"), []byte("rec-101"), []byte("rec-102")}
	times := []time.Time{
		base.Add(10 * time.Second),
		base.Add(20*time.Second + 700*time.Millisecond),
		base.Add(40 * time.Second),
	}
	seedRecords(t, jstore, 0, models.TraceabilityUnit, payloads, times)

	window := Window{Start: base, End: base.Add(time.Minute)}
	cursor, err := jstore.QueryWindow(context.Background(), 0, models.TraceabilityUnit,
		window.Start, window.End, window.AfterSequence, 3)
	require.NoError(t, err)
	defer cursor.Close()

	result, err := packager.Seal(context.Background(), SealRequest{
		Tenant: 0, Type: models.TraceabilityUnit, OperationID: "cap-run-1",
		Window: window, MaxEntries: 2,
	}, cursor)
	require.NoError(t, err)

	ev := result.Event
	assert.True(t, ev.MaxEntriesReached)
	assert.Equal(t, int64(2), ev.NumberOfEntries)
	// The window end is pulled back to the last included record's second.
	assert.Equal(t, models.FormatDate(times[1]), ev.EndDate)
	assert.Equal(t, int64(2), ev.LastSequence)
	assert.Equal(t, base64.StdEncoding.EncodeToString(rootOf(t, payloads[0], payloads[1])), ev.Hash)

	// The follow-up window reopens at the pulled-back end date, which
	// re-selects the boundary record by time. The sealed-sequence watermark
	// keeps it out, so only the remainder is secured.
	next := Window{Start: times[1].Truncate(time.Second), End: window.End, AfterSequence: ev.LastSequence}
	cursor2, err := jstore.QueryWindow(context.Background(), 0, models.TraceabilityUnit,
		next.Start, next.End, next.AfterSequence, 3)
	require.NoError(t, err)
	defer cursor2.Close()

	result2, err := packager.Seal(context.Background(), SealRequest{
		Tenant: 0, Type: models.TraceabilityUnit, OperationID: "cap-run-2",
		Window: next, MaxEntries: 2,
	}, cursor2)
	require.NoError(t, err)
	assert.False(t, result2.Event.MaxEntriesReached)
	assert.Equal(t, int64(1), result2.Event.NumberOfEntries)
	assert.Equal(t, int64(3), result2.Event.LastSequence)
	assert.Equal(t, base64.StdEncoding.EncodeToString(rootOf(t, payloads[2])), result2.Event.Hash)
}

func TestPackagerEmptyWindow(t *testing.T) {
	packager, offerStore, signer := newTestPackager(t)
	jstore := journal.NewMemoryStore()

	window := Window{
		Start: time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC),
	}
	cursor, err := jstore.QueryWindow(context.Background(), 0, models.TraceabilityOperations,
		window.Start, window.End, 0, 11)
	require.NoError(t, err)
	defer cursor.Close()

	result, err := packager.Seal(context.Background(), SealRequest{
		Tenant: 0, Type: models.TraceabilityOperations, OperationID: "empty-run",
		Window: window, MaxEntries: 10,
	}, cursor)
	require.NoError(t, err)

	ev := result.Event
	assert.Equal(t, int64(0), ev.NumberOfEntries)
	assert.False(t, ev.MaxEntriesReached)

	// The root of an empty window is the digest of no input, so the run
	// is still timestamped and joins the chain.
	emptyDigest := sha256.Sum256(nil)
	assert.Equal(t, base64.StdEncoding.EncodeToString(emptyDigest[:]), ev.Hash)
	assert.True(t, signer.Verify(ev.TimestampToken, emptyDigest[:]))

	res, err := NewVerifier(offerStore, merkle.SHA256).Verify(context.Background(), result.ContainerName)
	require.NoError(t, err)
	assert.True(t, res.RootMatches)
	assert.Equal(t, int64(0), res.Entries)
}

type failingProvider struct {
	err error
}

func (p failingProvider) Timestamp(context.Context, []byte) ([]byte, error) {
	return nil, p.err
}

func TestPackagerTimestampFailureAborts(t *testing.T) {
	offerStore, err := offers.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	defer offerStore.Close()

	packager := NewPackager(offerStore, failingProvider{err: fmt.Errorf("tsa unreachable")}, merkle.SHA256)
	jstore := journal.NewMemoryStore()

	base := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	seedRecords(t, jstore, 0, models.TraceabilityOperations,
		[][]byte{[]byte("rec")}, []time.Time{base.Add(time.Second)})

	cursor, err := jstore.QueryWindow(context.Background(), 0, models.TraceabilityOperations,
		base, base.Add(time.Minute), 0, 11)
	require.NoError(t, err)
	defer cursor.Close()

	_, err = packager.Seal(context.Background(), SealRequest{
		Tenant: 0, Type: models.TraceabilityOperations, OperationID: "fail-run",
		Window: Window{Start: base, End: base.Add(time.Minute)}, MaxEntries: 10,
	}, cursor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tsa unreachable")

	// Nothing partial reached the offer.
	entries, err := offerStore.List(context.Background(), "operations", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

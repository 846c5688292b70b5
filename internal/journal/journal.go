// Package journal defines the minimum contract the securing engine consumes
// from the journal store: securing operation lifecycle, chain-head lookups
// and bounded window queries over raw records. Two implementations are
// provided: PostgreSQL for production and an in-memory store for tests.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// ErrOperationNotFound is returned when an operation id is unknown.
var ErrOperationNotFound = errors.New("journal: operation not found")

// RecordCursor iterates a lazy, finite window query result. Callers must
// Close the cursor and check Err after the final Next.
type RecordCursor interface {
	// Next returns the next record, or false when the cursor is exhausted.
	Next() (*models.JournalRecord, bool)
	// Err reports any error that terminated iteration early.
	Err() error
	// Close releases the cursor's resources.
	Close()
}

// Store is the journal contract consumed by the securing engine.
type Store interface {
	// AppendRecord persists one raw journal record. Used by the platform's
	// writers and by the seeder; the securing engine itself only reads.
	AppendRecord(ctx context.Context, rec *models.JournalRecord) error

	// AppendOperationStarted creates a securing operation in STARTED state.
	AppendOperationStarted(ctx context.Context, op *models.Operation) error

	// AppendOperationEvent appends one sub-event to an existing operation.
	AppendOperationEvent(ctx context.Context, operationID string, ev models.OperationEvent) error

	// FindOperation loads an operation with all its events.
	FindOperation(ctx context.Context, tenant int, operationID string) (*models.Operation, error)

	// FindLastSuccessful returns the most recent operation of the given
	// type whose terminal outcome is OK, or nil when none exists.
	FindLastSuccessful(ctx context.Context, tenant int, typ models.TraceabilityType) (*models.Operation, error)

	// FindFirstStartingAtOrAfter returns the first OK operation whose
	// secured window starts at or after date. When no candidate exists, or
	// several candidates share the matching window start, it returns nil:
	// an ambiguous anchor is treated as absent rather than guessed.
	FindFirstStartingAtOrAfter(ctx context.Context, tenant int, typ models.TraceabilityType, date time.Time) (*models.Operation, error)

	// QueryWindow returns records with persisted-at in [start, end) and
	// sequence strictly greater than afterSequence, ordered by sequence,
	// bounded by limit. The sequence bound lets a run resume past records
	// an earlier truncated run already sealed.
	QueryWindow(ctx context.Context, tenant int, typ models.TraceabilityType, start, end time.Time, afterSequence int64, limit int) (RecordCursor, error)
}

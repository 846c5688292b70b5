// Package securing implements the traceability securing engine: it seals a
// time window of journal records into a tamper-evident, timestamped,
// chain-linked container, and drives the per-tenant runs through a resilient
// multi-tenant orchestration loop.
package securing

import (
	"context"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// Journal is the journal store contract the engine consumes. Both the
// postgres and the in-memory journal stores satisfy it.
type Journal interface {
	AppendOperationStarted(ctx context.Context, op *models.Operation) error
	AppendOperationEvent(ctx context.Context, operationID string, ev models.OperationEvent) error
	FindOperation(ctx context.Context, tenant int, operationID string) (*models.Operation, error)
	FindLastSuccessful(ctx context.Context, tenant int, typ models.TraceabilityType) (*models.Operation, error)
	FindFirstStartingAtOrAfter(ctx context.Context, tenant int, typ models.TraceabilityType, date time.Time) (*models.Operation, error)
	QueryWindow(ctx context.Context, tenant int, typ models.TraceabilityType, start, end time.Time, afterSequence int64, limit int) (journal.RecordCursor, error)
}

package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	nextSeq    int64
	records    []models.JournalRecord
	operations map[string]*models.Operation
	order      []string
}

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextSeq:    1,
		operations: make(map[string]*models.Operation),
	}
}

// AppendRecord persists one raw record, assigning the next sequence number
// unless the caller fixed one.
func (s *MemoryStore) AppendRecord(_ context.Context, rec *models.JournalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Sequence == 0 {
		rec.Sequence = s.nextSeq
	}
	if rec.Sequence >= s.nextSeq {
		s.nextSeq = rec.Sequence + 1
	}
	s.records = append(s.records, *rec)
	return nil
}

// AppendOperationStarted creates the operation with its STARTED event.
func (s *MemoryStore) AppendOperationStarted(_ context.Context, op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *op
	cp.Events = append([]models.OperationEvent(nil), op.Events...)
	s.operations[op.ID] = &cp
	s.order = append(s.order, op.ID)
	return nil
}

// AppendOperationEvent appends a sub-event to an existing operation.
func (s *MemoryStore) AppendOperationEvent(_ context.Context, operationID string, ev models.OperationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[operationID]
	if !ok {
		return ErrOperationNotFound
	}
	op.Events = append(op.Events, ev)
	return nil
}

// FindOperation loads an operation with all its events.
func (s *MemoryStore) FindOperation(_ context.Context, tenant int, operationID string) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[operationID]
	if !ok || op.Tenant != tenant {
		return nil, ErrOperationNotFound
	}
	return copyOperation(op), nil
}

// FindLastSuccessful returns the most recently created OK operation.
func (s *MemoryStore) FindLastSuccessful(_ context.Context, tenant int, typ models.TraceabilityType) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		op := s.operations[s.order[i]]
		if op.Tenant != tenant || op.Type != typ {
			continue
		}
		if op.Terminal() && op.LastEvent().Outcome == models.OutcomeOK {
			return copyOperation(op), nil
		}
	}
	return nil, nil
}

// FindFirstStartingAtOrAfter returns the first OK operation whose window
// starts at or after date, treating ambiguous window starts as absent.
func (s *MemoryStore) FindFirstStartingAtOrAfter(_ context.Context, tenant int, typ models.TraceabilityType, date time.Time) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		op    *models.Operation
		start time.Time
	}
	var candidates []candidate
	for _, id := range s.order {
		op := s.operations[id]
		if op.Tenant != tenant || op.Type != typ {
			continue
		}
		if !op.Terminal() || op.LastEvent().Outcome != models.OutcomeOK {
			continue
		}
		detail, err := op.TraceabilityDetail()
		if err != nil || detail == nil {
			continue
		}
		start, _, err := detail.Window()
		if err != nil {
			continue
		}
		if !start.Before(date) {
			candidates = append(candidates, candidate{op: op, start: start})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].start.Before(candidates[j].start)
	})
	if len(candidates) > 1 && candidates[1].start.Equal(candidates[0].start) {
		return nil, nil
	}
	return copyOperation(candidates[0].op), nil
}

// QueryWindow returns records in [start, end) with sequence beyond
// afterSequence, ordered by sequence.
func (s *MemoryStore) QueryWindow(_ context.Context, tenant int, typ models.TraceabilityType, start, end time.Time, afterSequence int64, limit int) (RecordCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.JournalRecord
	for _, rec := range s.records {
		if rec.Tenant != tenant || rec.Type != typ {
			continue
		}
		if rec.Sequence <= afterSequence {
			continue
		}
		if rec.PersistedAt.Before(start) || !rec.PersistedAt.Before(end) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Sequence < matched[j].Sequence
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return &sliceCursor{records: matched}, nil
}

type sliceCursor struct {
	records []models.JournalRecord
	pos     int
}

func (c *sliceCursor) Next() (*models.JournalRecord, bool) {
	if c.pos >= len(c.records) {
		return nil, false
	}
	rec := c.records[c.pos]
	c.pos++
	return &rec, true
}

func (c *sliceCursor) Err() error { return nil }
func (c *sliceCursor) Close()     {}

func copyOperation(op *models.Operation) *models.Operation {
	cp := *op
	cp.Events = append([]models.OperationEvent(nil), op.Events...)
	return &cp
}

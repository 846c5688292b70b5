package securing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// Notifier publishes securing lifecycle events to the platform bus.
// Publishing is best-effort: a bus outage never fails a run.
type Notifier interface {
	OperationStarted(ctx context.Context, op *models.Operation)
	OperationTerminal(ctx context.Context, op *models.Operation, outcome models.Outcome, ev *models.TraceabilityEvent)
}

// Indexer mirrors terminal traceability events into the search index.
// Indexing is best-effort for the same reason.
type Indexer interface {
	IndexTraceability(ctx context.Context, tenant int, operationID string, ev *models.TraceabilityEvent) error
}

// Service executes one securing run per call: it creates the journal
// operation, selects the window, seals the records and appends the terminal
// outcome. The journal remains the single source of truth for the chain
// head; nothing about previous runs is cached in process.
type Service struct {
	journal  Journal
	window   *WindowSelector
	chain    *ChainLinker
	governor *CapacityGovernor
	packager *Packager
	notifier Notifier
	indexer  Indexer
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithNotifier attaches a lifecycle event publisher.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithIndexer attaches a search index mirror.
func WithIndexer(i Indexer) ServiceOption {
	return func(s *Service) { s.indexer = i }
}

// NewService wires a securing service.
func NewService(j Journal, window *WindowSelector, chain *ChainLinker, governor *CapacityGovernor, packager *Packager, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		journal:  j,
		window:   window,
		chain:    chain,
		governor: governor,
		packager: packager,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the securing operation in STARTED state and executes the run
// in the background. Callers observe completion by polling the journal for
// the operation's terminal event.
func (s *Service) Start(ctx context.Context, tenant int, typ models.TraceabilityType) (string, error) {
	op, err := s.begin(ctx, tenant, typ)
	if err != nil {
		return "", err
	}
	go s.execute(context.WithoutCancel(ctx), op)
	return op.ID, nil
}

// Run executes one securing run synchronously and returns its operation id.
// The run's own outcome is recorded in the journal, not returned as an
// error; only the failure to create the operation is.
func (s *Service) Run(ctx context.Context, tenant int, typ models.TraceabilityType) (string, error) {
	op, err := s.begin(ctx, tenant, typ)
	if err != nil {
		return "", err
	}
	s.execute(ctx, op)
	return op.ID, nil
}

func (s *Service) begin(ctx context.Context, tenant int, typ models.TraceabilityType) (*models.Operation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate operation id: %w", err)
	}
	op := &models.Operation{
		ID:     id.String(),
		Tenant: tenant,
		Type:   typ,
		Events: []models.OperationEvent{
			{Type: typ, Outcome: models.OutcomeStarted, Date: s.now().UTC()},
		},
	}
	if err := s.journal.AppendOperationStarted(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to create securing operation: %w", err)
	}
	s.logger.Info("securing operation started",
		slog.Int("tenant", tenant),
		slog.String("type", string(typ)),
		slog.String("operation_id", op.ID),
	)
	if s.notifier != nil {
		s.notifier.OperationStarted(ctx, op)
	}
	return op, nil
}

// execute performs everything after STARTED and always appends exactly one
// terminal event. Failures are caught here, at the tenant-task boundary, and
// never propagate across tenants.
func (s *Service) execute(ctx context.Context, op *models.Operation) {
	started := s.now()

	event, err := s.seal(ctx, op)
	elapsed := s.now().Sub(started).Seconds()
	RunDuration.WithLabelValues(string(op.Type)).Observe(elapsed)

	if err != nil {
		s.logger.Error("securing run failed",
			slog.Int("tenant", op.Tenant),
			slog.String("operation_id", op.ID),
			slog.String("error", err.Error()),
		)
		RunsTotal.WithLabelValues(string(op.Type), string(models.OutcomeFatal)).Inc()
		s.terminate(ctx, op, models.OutcomeFatal, diagnostic(err))
		return
	}

	detail, mErr := json.Marshal(event)
	if mErr != nil {
		RunsTotal.WithLabelValues(string(op.Type), string(models.OutcomeFatal)).Inc()
		s.terminate(ctx, op, models.OutcomeFatal, diagnostic(mErr))
		return
	}

	RunsTotal.WithLabelValues(string(op.Type), string(models.OutcomeOK)).Inc()
	EntriesSecuredTotal.WithLabelValues(string(op.Type)).Add(float64(event.NumberOfEntries))
	if event.MaxEntriesReached {
		CapacityReachedTotal.WithLabelValues(string(op.Type)).Inc()
	}
	s.logger.Info("securing run completed",
		slog.Int("tenant", op.Tenant),
		slog.String("operation_id", op.ID),
		slog.Int64("entries", event.NumberOfEntries),
		slog.Bool("max_entries_reached", event.MaxEntriesReached),
		slog.String("container", event.FileName),
	)
	s.terminate(ctx, op, models.OutcomeOK, detail)

	if s.indexer != nil {
		if err := s.indexer.IndexTraceability(ctx, op.Tenant, op.ID, event); err != nil {
			s.logger.Warn("failed to index traceability event",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// seal runs the data path of one securing run.
func (s *Service) seal(ctx context.Context, op *models.Operation) (*models.TraceabilityEvent, error) {
	window, err := s.window.Select(ctx, op.Tenant, op.Type)
	if err != nil {
		return nil, err
	}

	links, err := s.chain.Links(ctx, op.Tenant, op.Type, window.End)
	if err != nil {
		return nil, err
	}

	cursor, err := s.journal.QueryWindow(ctx, op.Tenant, op.Type,
		window.Start, window.End, window.AfterSequence, s.governor.QueryLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to query securing window: %w", err)
	}
	defer cursor.Close()

	result, err := s.packager.Seal(ctx, SealRequest{
		Tenant:      op.Tenant,
		Type:        op.Type,
		OperationID: op.ID,
		Window:      window,
		Links:       links,
		MaxEntries:  s.governor.MaxEntries(),
	}, cursor)
	if err != nil {
		return nil, err
	}
	return result.Event, nil
}

// terminate appends the terminal event. A journal failure at this point is
// only logged: the operation stays visibly STARTED, which is the
// operator-facing signal that intervention is needed.
func (s *Service) terminate(ctx context.Context, op *models.Operation, outcome models.Outcome, detail json.RawMessage) {
	ev := models.OperationEvent{
		Type:      op.Type,
		Outcome:   outcome,
		Date:      s.now().UTC(),
		DetailRaw: detail,
	}
	if err := s.journal.AppendOperationEvent(ctx, op.ID, ev); err != nil {
		s.logger.Error("failed to record terminal outcome",
			slog.String("operation_id", op.ID),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
		return
	}
	if s.notifier != nil {
		var traceability *models.TraceabilityEvent
		if outcome == models.OutcomeOK && len(detail) > 0 {
			var parsed models.TraceabilityEvent
			if json.Unmarshal(detail, &parsed) == nil {
				traceability = &parsed
			}
		}
		s.notifier.OperationTerminal(ctx, op, outcome, traceability)
	}
}

func diagnostic(err error) json.RawMessage {
	raw, mErr := json.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return json.RawMessage(`{"error":"unserializable failure"}`)
	}
	return raw
}

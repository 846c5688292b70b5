package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL journal store
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// execer is satisfied by both pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// AppendRecord persists one raw journal record.
func (s *PostgresStore) AppendRecord(ctx context.Context, rec *models.JournalRecord) error {
	query := `
		INSERT INTO journal_records (tenant, type, payload, persisted_at)
		VALUES ($1, $2, $3, $4)
		RETURNING sequence
	`
	err := s.pool.QueryRow(ctx, query,
		rec.Tenant, rec.Type, rec.Payload, rec.PersistedAt,
	).Scan(&rec.Sequence)
	if err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

// AppendOperationStarted creates a securing operation with its initial events.
func (s *PostgresStore) AppendOperationStarted(ctx context.Context, op *models.Operation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO securing_operations (id, tenant, type, created_at)
		VALUES ($1, $2, $3, now())
	`, op.ID, op.Tenant, op.Type)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}

	for _, ev := range op.Events {
		if err := insertEvent(ctx, tx, op.ID, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit operation: %w", err)
	}
	return nil
}

// AppendOperationEvent appends one sub-event to an existing operation.
func (s *PostgresStore) AppendOperationEvent(ctx context.Context, operationID string, ev models.OperationEvent) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM securing_operations WHERE id = $1)`, operationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check operation: %w", err)
	}
	if !exists {
		return ErrOperationNotFound
	}
	return insertEvent(ctx, s.pool, operationID, ev)
}

func insertEvent(ctx context.Context, db execer, operationID string, ev models.OperationEvent) error {
	var detail []byte
	if len(ev.DetailRaw) > 0 {
		detail = ev.DetailRaw
	}
	_, err := db.Exec(ctx, `
		INSERT INTO securing_operation_events (operation_id, ev_type, outcome, ev_date, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, operationID, ev.Type, ev.Outcome, ev.Date, detail)
	if err != nil {
		return fmt.Errorf("failed to append operation event: %w", err)
	}
	return nil
}

// FindOperation loads an operation with all its events.
func (s *PostgresStore) FindOperation(ctx context.Context, tenant int, operationID string) (*models.Operation, error) {
	op := &models.Operation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant, type
		FROM securing_operations
		WHERE id = $1 AND tenant = $2
	`, operationID, tenant).Scan(&op.ID, &op.Tenant, &op.Type)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperationNotFound
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	if err := s.loadEvents(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (s *PostgresStore) loadEvents(ctx context.Context, op *models.Operation) error {
	rows, err := s.pool.Query(ctx, `
		SELECT ev_type, outcome, ev_date, detail
		FROM securing_operation_events
		WHERE operation_id = $1
		ORDER BY id ASC
	`, op.ID)
	if err != nil {
		return fmt.Errorf("failed to load operation events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev models.OperationEvent
		var detail []byte
		if err := rows.Scan(&ev.Type, &ev.Outcome, &ev.Date, &detail); err != nil {
			return fmt.Errorf("failed to scan operation event: %w", err)
		}
		ev.DetailRaw = detail
		op.Events = append(op.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate operation events: %w", err)
	}
	return nil
}

// lastEventJoin selects operations whose most recent event is a terminal OK
// event of the operation's own type.
const lastEventJoin = `
	JOIN LATERAL (
		SELECT e.ev_type, e.outcome, e.detail
		FROM securing_operation_events e
		WHERE e.operation_id = o.id
		ORDER BY e.id DESC
		LIMIT 1
	) last ON last.ev_type = o.type AND last.outcome = 'OK'
`

// FindLastSuccessful returns the most recent OK operation for the tenant and
// type, or nil when none exists.
func (s *PostgresStore) FindLastSuccessful(ctx context.Context, tenant int, typ models.TraceabilityType) (*models.Operation, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT o.id
		FROM securing_operations o
	`+lastEventJoin+`
		WHERE o.tenant = $1 AND o.type = $2
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT 1
	`, tenant, typ).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find last successful operation: %w", err)
	}
	return s.FindOperation(ctx, tenant, id)
}

// FindFirstStartingAtOrAfter returns the first OK operation whose secured
// window starts at or after date. Zero candidates, or several sharing the
// matching window start, yield nil: an ambiguous anchor is treated as absent.
// The detail startDate uses a lexicographically ordered layout, so string
// comparison matches chronological order.
func (s *PostgresStore) FindFirstStartingAtOrAfter(ctx context.Context, tenant int, typ models.TraceabilityType, date time.Time) (*models.Operation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, last.detail->>'startDate' AS window_start
		FROM securing_operations o
	`+lastEventJoin+`
		WHERE o.tenant = $1 AND o.type = $2
			AND last.detail->>'startDate' >= $3
		ORDER BY window_start ASC, o.created_at ASC
		LIMIT 2
	`, tenant, typ, models.FormatDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to find anchor operation: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id    string
		start string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.start); err != nil {
			return nil, fmt.Errorf("failed to scan anchor candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate anchor candidates: %w", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > 1 && candidates[0].start == candidates[1].start {
		return nil, nil
	}
	return s.FindOperation(ctx, tenant, candidates[0].id)
}

// QueryWindow returns records in [start, end) with sequence beyond
// afterSequence, ordered by sequence, bounded by limit.
func (s *PostgresStore) QueryWindow(ctx context.Context, tenant int, typ models.TraceabilityType, start, end time.Time, afterSequence int64, limit int) (RecordCursor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, tenant, type, payload, persisted_at
		FROM journal_records
		WHERE tenant = $1 AND type = $2
			AND sequence > $3
			AND persisted_at >= $4 AND persisted_at < $5
		ORDER BY sequence ASC
		LIMIT $6
	`, tenant, typ, afterSequence, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query window: %w", err)
	}
	return &pgxCursor{rows: rows}, nil
}

type pgxCursor struct {
	rows pgx.Rows
	err  error
}

func (c *pgxCursor) Next() (*models.JournalRecord, bool) {
	if c.err != nil || !c.rows.Next() {
		return nil, false
	}
	var rec models.JournalRecord
	if err := c.rows.Scan(&rec.Sequence, &rec.Tenant, &rec.Type, &rec.Payload, &rec.PersistedAt); err != nil {
		c.err = fmt.Errorf("failed to scan journal record: %w", err)
		return nil, false
	}
	return &rec, true
}

func (c *pgxCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *pgxCursor) Close() {
	c.rows.Close()
}

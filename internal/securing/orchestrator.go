package securing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// Locker guards a tenant run against concurrent orchestrator instances. A nil
// Locker means runs are never skipped.
type Locker interface {
	Acquire(ctx context.Context, tenant int, typ models.TraceabilityType) (release func(), acquired bool, err error)
}

// TenantResult reports the outcome of the runs executed for one tenant during
// a single Secure call.
type TenantResult struct {
	Tenant     int            `json:"tenant"`
	Operations []string       `json:"operations"`
	Outcome    models.Outcome `json:"outcome"`
	Skipped    bool           `json:"skipped,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Report aggregates the tenant results of one securing campaign.
type Report struct {
	Type    models.TraceabilityType `json:"type"`
	Passes  int                     `json:"passes"`
	Tenants []TenantResult          `json:"tenants"`
}

// Orchestrator drives securing runs across all configured tenants. Each pass
// starts one run per tenant in parallel and waits for every run to reach a
// terminal status; tenants whose run hit the entry cap get another pass, so a
// backlog larger than one run is drained by repeated full windows.
type Orchestrator struct {
	service      *Service
	journal      Journal
	locker       Locker
	tenants      []int
	pollInterval time.Duration
	pollCap      time.Duration
	logger       *slog.Logger
}

// NewOrchestrator wires the campaign loop. locker may be nil.
func NewOrchestrator(service *Service, journal Journal, locker Locker, tenants []int, pollInterval, pollCap time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if pollCap < pollInterval {
		pollCap = pollInterval
	}
	return &Orchestrator{
		service:      service,
		journal:      journal,
		locker:       locker,
		tenants:      tenants,
		pollInterval: pollInterval,
		pollCap:      pollCap,
		logger:       logger,
	}
}

type tenantState struct {
	result  TenantResult
	rerun   bool
	release func()
}

// Secure runs one securing campaign for the given type. It returns once every
// tenant has either drained its backlog, failed, or been skipped because
// another instance holds its lock.
func (o *Orchestrator) Secure(ctx context.Context, typ models.TraceabilityType) (*Report, error) {
	states := make(map[int]*tenantState, len(o.tenants))
	pending := make([]int, 0, len(o.tenants))

	for _, tenant := range o.tenants {
		st := &tenantState{result: TenantResult{Tenant: tenant}}
		states[tenant] = st

		if o.locker != nil {
			release, acquired, err := o.locker.Acquire(ctx, tenant, typ)
			if err != nil {
				return nil, fmt.Errorf("failed to acquire lock for tenant %d: %w", tenant, err)
			}
			if !acquired {
				st.result.Skipped = true
				o.logger.Info("securing run already in progress, skipping tenant",
					"tenant", tenant, "type", typ)
				continue
			}
			st.release = release
		}
		pending = append(pending, tenant)
	}
	defer func() {
		for _, st := range states {
			if st.release != nil {
				st.release()
			}
		}
	}()

	report := &Report{Type: typ}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Passes++
		PassesTotal.WithLabelValues(string(typ)).Inc()
		o.logger.Info("starting securing pass",
			"type", typ, "pass", report.Passes, "tenants", len(pending))

		var wg sync.WaitGroup
		for _, tenant := range pending {
			wg.Add(1)
			go func(tenant int, st *tenantState) {
				defer wg.Done()
				o.runTenant(ctx, tenant, typ, st)
			}(tenant, states[tenant])
		}
		wg.Wait()

		next := pending[:0]
		for _, tenant := range pending {
			if states[tenant].rerun {
				states[tenant].rerun = false
				next = append(next, tenant)
			}
		}
		pending = next
	}

	for _, tenant := range o.tenants {
		report.Tenants = append(report.Tenants, states[tenant].result)
	}
	return report, nil
}

func (o *Orchestrator) runTenant(ctx context.Context, tenant int, typ models.TraceabilityType, st *tenantState) {
	opID, err := o.service.Start(ctx, tenant, typ)
	if err != nil {
		st.result.Outcome = models.OutcomeFatal
		st.result.Error = err.Error()
		o.logger.Error("failed to start securing run",
			"tenant", tenant, "type", typ, "error", err)
		return
	}
	st.result.Operations = append(st.result.Operations, opID)

	op, err := o.awaitTerminal(ctx, tenant, opID)
	if err != nil {
		st.result.Outcome = models.OutcomeFatal
		st.result.Error = err.Error()
		return
	}

	last := op.LastEvent()
	st.result.Outcome = last.Outcome
	if last.Outcome != models.OutcomeOK {
		if len(last.DetailRaw) > 0 {
			st.result.Error = string(last.DetailRaw)
		}
		return
	}

	detail, err := op.TraceabilityDetail()
	if err != nil {
		o.logger.Warn("securing run terminated without readable detail",
			"tenant", tenant, "operation_id", opID, "error", err)
		return
	}
	if detail.MaxEntriesReached {
		o.logger.Info("securing run hit entry cap, scheduling another pass",
			"tenant", tenant, "type", typ, "operation_id", opID,
			"entries", detail.NumberOfEntries)
		st.rerun = true
	}
}

// awaitTerminal polls the journal until the operation carries a terminal
// status event. The poll sleeps before each read and doubles its interval up
// to the configured cap.
func (o *Orchestrator) awaitTerminal(ctx context.Context, tenant int, opID string) (*models.Operation, error) {
	interval := o.pollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		PollCyclesTotal.Inc()

		op, err := o.journal.FindOperation(ctx, tenant, opID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll operation %s: %w", opID, err)
		}
		if op.Terminal() {
			return op, nil
		}

		interval *= 2
		if interval > o.pollCap {
			interval = o.pollCap
		}
		timer.Reset(interval)
	}
}

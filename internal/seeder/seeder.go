// Package seeder generates synthetic journal records for development and load
// testing. The payload shapes mirror real archive lifecycle events so sealed
// containers look like production artifacts.
package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// Options controls one seeding run.
type Options struct {
	Tenant int
	Type   models.TraceabilityType
	Count  int
	// TimeSpread distributes the records' persisted times backwards from
	// now. Zero stamps everything at now.
	TimeSpread time.Duration
	// Seed makes generation reproducible when non-zero.
	Seed int64
}

// Seeder writes generated records into the journal.
type Seeder struct {
	store journal.Store
}

// New creates a seeder over the journal store.
func New(store journal.Store) *Seeder {
	return &Seeder{store: store}
}

// Run generates and appends opts.Count records, returning how many were
// written.
func (s *Seeder) Run(ctx context.Context, opts Options) (int, error) {
	if opts.Count <= 0 {
		return 0, fmt.Errorf("record count must be positive: %d", opts.Count)
	}
	if opts.Seed != 0 {
		gofakeit.Seed(opts.Seed)
	}

	now := time.Now().UTC()
	for i := 0; i < opts.Count; i++ {
		payload, err := json.Marshal(generateEvent(opts.Type))
		if err != nil {
			return i, fmt.Errorf("failed to marshal generated event: %w", err)
		}

		persistedAt := now
		if opts.TimeSpread > 0 {
			// Jittered backwards spread keeps record order roughly
			// chronological without being perfectly regular.
			baseInterval := float64(opts.TimeSpread) / float64(opts.Count)
			offset := time.Duration(float64(i)*baseInterval +
				(rand.Float64()-0.5)*baseInterval*0.8)
			if offset < 0 {
				offset = 0
			}
			persistedAt = now.Add(-(opts.TimeSpread - offset))
		}

		rec := &models.JournalRecord{
			Tenant:      opts.Tenant,
			Type:        opts.Type,
			Payload:     payload,
			PersistedAt: persistedAt,
		}
		if err := s.store.AppendRecord(ctx, rec); err != nil {
			return i, fmt.Errorf("failed to append record %d: %w", i, err)
		}
	}
	return opts.Count, nil
}

func generateEvent(typ models.TraceabilityType) map[string]any {
	switch typ {
	case models.TraceabilityUnit:
		return generateUnitEvent()
	case models.TraceabilityObjectGroup:
		return generateObjectGroupEvent()
	default:
		return generateOperationEvent()
	}
}

var operationSteps = []string{
	"CHECK_SEDA", "CHECK_MANIFEST_DATAOBJECT_VERSION", "STP_INGEST_FINALISATION",
	"ATR_NOTIFICATION", "STP_UPDATE_OBJECT_GROUP", "ROLL_BACK",
}

func generateOperationEvent() map[string]any {
	return map[string]any{
		"evId":       gofakeit.UUID(),
		"evType":     operationSteps[rand.Intn(len(operationSteps))],
		"outcome":    gofakeit.RandomString([]string{"OK", "OK", "OK", "WARNING", "KO"}),
		"outMessg":   gofakeit.Sentence(6),
		"agId":       gofakeit.AppName(),
		"obId":       gofakeit.UUID(),
		"evDateTime": models.FormatDate(time.Now().UTC()),
	}
}

func generateUnitEvent() map[string]any {
	return map[string]any{
		"evId":     gofakeit.UUID(),
		"evType":   "LFC." + gofakeit.RandomString([]string{"UNIT_METADATA_UPDATE", "CHECK_UNIT_SCHEMA", "UNIT_METADATA_INDEXATION"}),
		"outcome":  "OK",
		"obId":     gofakeit.UUID(),
		"diff":     map[string]any{"Title": gofakeit.BookTitle()},
		"version":  rand.Intn(20) + 1,
		"evIdProc": gofakeit.UUID(),
	}
}

func generateObjectGroupEvent() map[string]any {
	return map[string]any{
		"evId":    gofakeit.UUID(),
		"evType":  "LFC." + gofakeit.RandomString([]string{"OG_METADATA_INDEXATION", "CHECK_DIGEST", "OBJECT_GROUP_UPDATE"}),
		"outcome": "OK",
		"obId":    gofakeit.UUID(),
		"object": map[string]any{
			"filename": gofakeit.Word() + ".pdf",
			"size":     rand.Intn(10_000_000),
			"digest":   gofakeit.UUID(),
		},
	}
}

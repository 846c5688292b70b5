package models

import (
	"fmt"
	"time"
)

// DateLayout is the second-precision UTC layout used for all traceability
// dates, both in the journal and inside sealed containers. Downstream
// verification tools parse these values, so the layout must not change.
const DateLayout = "2006-01-02T15:04:05"

// InitialStartDate is the window start used for the very first securing run
// of a tenant, when no previous successful operation exists.
var InitialStartDate = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// TraceabilityType identifies which journal a securing run seals.
type TraceabilityType string

const (
	// TraceabilityOperations seals the operations journal.
	TraceabilityOperations TraceabilityType = "operations"
	// TraceabilityUnit seals the unit lifecycle journal.
	TraceabilityUnit TraceabilityType = "unit"
	// TraceabilityObjectGroup seals the object-group lifecycle journal.
	TraceabilityObjectGroup TraceabilityType = "objectgroup"
)

// ParseTraceabilityType converts a CLI/API string into a TraceabilityType.
func ParseTraceabilityType(s string) (TraceabilityType, error) {
	switch TraceabilityType(s) {
	case TraceabilityOperations, TraceabilityUnit, TraceabilityObjectGroup:
		return TraceabilityType(s), nil
	}
	return "", fmt.Errorf("unknown traceability type %q", s)
}

// TraceabilityEvent is the detail payload recorded on the terminal event of a
// securing operation. It binds the sealed window to the Merkle root via the
// timestamp token and links the run into the daily, monthly and yearly chains.
type TraceabilityEvent struct {
	LogType   TraceabilityType `json:"logType"`
	StartDate string           `json:"startDate"`
	EndDate   string           `json:"endDate"`

	// Hash is the base64-encoded Merkle root of the sealed records.
	Hash string `json:"hash"`

	// TimestampToken is the opaque token returned by the timestamp
	// authority for the Merkle root.
	TimestampToken []byte `json:"timeStampToken"`

	// Daily chain: the immediately preceding successful run.
	PreviousStartDate      string `json:"previousStartDate,omitempty"`
	PreviousTimestampToken []byte `json:"previousTimestampToken,omitempty"`

	// Monthly and yearly anchors. Empty when no anchor run exists.
	PreviousMonthStartDate      string `json:"previousMonthStartDate,omitempty"`
	PreviousMonthTimestampToken []byte `json:"previousMonthTimestampToken,omitempty"`
	PreviousYearStartDate       string `json:"previousYearStartDate,omitempty"`
	PreviousYearTimestampToken  []byte `json:"previousYearTimestampToken,omitempty"`

	NumberOfEntries int64  `json:"numberOfEntries"`
	Size            int64  `json:"size"`
	FileName        string `json:"fileName"`
	DigestAlgorithm string `json:"digestAlgorithm"`

	// LastSequence is the journal sequence of the newest sealed record.
	// The next run resumes strictly after it, so overlapping window
	// boundaries never re-seal a record. A run that seals nothing carries
	// the previous run's watermark forward.
	LastSequence int64 `json:"lastSequence,omitempty"`

	// MaxEntriesReached is true when the window was truncated by the
	// capacity cap; the orchestrator re-runs the pass until it is false
	// for every tenant.
	MaxEntriesReached bool `json:"maxEntriesReached"`
}

// FormatDate renders a date in the traceability layout (UTC, seconds).
func FormatDate(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(DateLayout)
}

// ParseDate parses a date in the traceability layout as UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid traceability date %q: %w", s, err)
	}
	return t, nil
}

// Window returns the parsed [start, end) boundaries of the event.
func (e *TraceabilityEvent) Window() (start, end time.Time, err error) {
	start, err = ParseDate(e.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = ParseDate(e.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Validate checks the structural invariants of the event.
func (e *TraceabilityEvent) Validate() error {
	start, end, err := e.Window()
	if err != nil {
		return err
	}
	if start.After(end) {
		return fmt.Errorf("traceability window inverted: start %s after end %s", e.StartDate, e.EndDate)
	}
	return nil
}

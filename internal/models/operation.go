package models

import (
	"encoding/json"
	"time"
)

// Outcome is the status carried by a journal operation event.
type Outcome string

const (
	OutcomeStarted Outcome = "STARTED"
	OutcomeOK      Outcome = "OK"
	OutcomeWarning Outcome = "WARNING"
	OutcomeKO      Outcome = "KO"
	OutcomeFatal   Outcome = "FATAL"
)

// Terminal reports whether the outcome ends an operation.
func (o Outcome) Terminal() bool {
	return o == OutcomeOK || o == OutcomeWarning || o == OutcomeKO || o == OutcomeFatal
}

// OperationEvent is one ordered sub-event of a journal operation.
type OperationEvent struct {
	Type      TraceabilityType `json:"evType"`
	Outcome   Outcome          `json:"outcome"`
	Date      time.Time        `json:"evDate"`
	DetailRaw json.RawMessage  `json:"evDetData,omitempty"`
}

// Operation is a securing operation recorded in the journal. It is created
// STARTED and becomes immutable once a terminal event of its own type is
// appended.
type Operation struct {
	ID     string           `json:"id"`
	Tenant int              `json:"tenant"`
	Type   TraceabilityType `json:"evType"`
	Events []OperationEvent `json:"events"`
}

// LastEvent returns the most recent sub-event, or nil for a bare operation.
func (op *Operation) LastEvent() *OperationEvent {
	if len(op.Events) == 0 {
		return nil
	}
	return &op.Events[len(op.Events)-1]
}

// Terminal reports whether the operation has reached its terminal state. The
// terminal event must carry the same type as the operation itself; events of
// other types are intermediate steps and mean the run is still in progress.
func (op *Operation) Terminal() bool {
	last := op.LastEvent()
	if last == nil {
		return false
	}
	return last.Type == op.Type && last.Outcome.Terminal()
}

// TraceabilityDetail decodes the TraceabilityEvent carried by the terminal
// event, or returns nil when the operation has none.
func (op *Operation) TraceabilityDetail() (*TraceabilityEvent, error) {
	last := op.LastEvent()
	if last == nil || len(last.DetailRaw) == 0 {
		return nil, nil
	}
	var ev TraceabilityEvent
	if err := json.Unmarshal(last.DetailRaw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// JournalRecord is one raw leaf record eligible for sealing: the persisted
// form of a journal event inside a securing window.
type JournalRecord struct {
	Sequence    int64            `json:"sequence"`
	Tenant      int              `json:"tenant"`
	Type        TraceabilityType `json:"type"`
	Payload     []byte           `json:"payload"`
	PersistedAt time.Time        `json:"persistedAt"`
}

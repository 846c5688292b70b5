package models

import "time"

// OfferLogAction records what happened to a container in the offer.
type OfferLogAction string

const (
	OfferLogWrite  OfferLogAction = "WRITE"
	OfferLogDelete OfferLogAction = "DELETE"
)

// OfferLogEntry is one line of the offer's append-only listing log, used by
// reconstruction tools to discover sealed containers in write order.
type OfferLogEntry struct {
	Sequence int64          `json:"sequence"`
	Name     string         `json:"name"`
	Action   OfferLogAction `json:"action"`
	Time     time.Time      `json:"time"`
}

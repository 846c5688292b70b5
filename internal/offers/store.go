// Package offers provides the durable object store used for sealed
// traceability containers: write-once blobs plus an append-only offer log
// that downstream reconstruction tools list to discover artifacts.
package offers

import (
	"context"
	"errors"
	"io"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// ErrContainerNotFound is returned when a named container does not exist.
var ErrContainerNotFound = errors.New("offers: container not found")

// Store abstracts the durable container offer.
type Store interface {
	// PutContainer durably stores a container under name and appends a
	// WRITE entry to the offer log. Returns the stored size in bytes.
	PutContainer(ctx context.Context, name string, data io.Reader) (int64, error)

	// GetContainer opens a stored container for reading.
	GetContainer(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns offer log entries for a category with sequence greater
	// than sinceSequence, in ascending sequence order, bounded by limit.
	List(ctx context.Context, category string, sinceSequence int64, limit int) ([]models.OfferLogEntry, error)
}

// Package timestamp acquires trusted timestamp tokens binding a digest to a
// point in time. The token is opaque to the securing engine; only the
// authority (or its verification tooling) can interpret it.
package timestamp

import "context"

// Provider issues a verifiable timestamp token for a digest. Implementations
// may block on an external service; callers abort the securing run on error.
type Provider interface {
	Timestamp(ctx context.Context, digest []byte) ([]byte, error)
}

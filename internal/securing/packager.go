package securing

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/arkheion-systems/arkheion-securing/internal/journal"
	"github.com/arkheion-systems/arkheion-securing/internal/merkle"
	"github.com/arkheion-systems/arkheion-securing/internal/models"
	"github.com/arkheion-systems/arkheion-securing/internal/offers"
	"github.com/arkheion-systems/arkheion-securing/internal/timestamp"
)

// Container entry names. Reconstruction and verification tools depend on
// them, as they do on the container naming convention itself.
const (
	entryData       = "data.txt"
	entryMerkleTree = "merkleTree.json"
	entryToken      = "token.tsp"
	entryComputing  = "computing_information.txt"
	entryAdditional = "additional_information.txt"
)

// containerDateFormat names containers by the second the window closed.
const containerDateFormat = "20060102_150405"

// merkleTreeFile is the persisted tree structure: enough to rebuild any
// leaf's audit path against the root.
type merkleTreeFile struct {
	Root   string     `json:"root"`
	Levels [][]string `json:"levels"`
}

// Packager seals one run's records into a single ZIP container and stores it
// durably. It owns the container for exactly one securing operation.
type Packager struct {
	offers    offers.Store
	provider  timestamp.Provider
	algorithm string
}

// NewPackager creates a packager using the given offer store, timestamp
// provider and digest algorithm.
func NewPackager(store offers.Store, provider timestamp.Provider, algorithm string) *Packager {
	return &Packager{offers: store, provider: provider, algorithm: algorithm}
}

// SealRequest describes one securing run to package.
type SealRequest struct {
	Tenant      int
	Type        models.TraceabilityType
	OperationID string
	Window      Window
	Links       ChainLinks
	MaxEntries  int
}

// SealResult is the outcome of a successful packaging.
type SealResult struct {
	Event         *models.TraceabilityEvent
	ContainerName string
}

// Seal streams the cursor's records into the container and the Merkle tree
// in a single pass, honoring the capacity cap, then timestamps the root,
// writes the chain and statistics entries, and stores the container. Any
// failure aborts atomically: the staging file is always removed and nothing
// partial reaches the offer.
func (p *Packager) Seal(ctx context.Context, req SealRequest, cursor journal.RecordCursor) (*SealResult, error) {
	staging, err := os.CreateTemp("", "securing-*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	defer os.Remove(staging.Name())
	defer staging.Close()

	tree, err := merkle.NewTreeBuilder(p.algorithm)
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(staging)

	// Pass 1 of 1 over the records: raw payloads into data.txt, digests
	// into the tree, stopping at the cap.
	dataEntry, err := zw.Create(entryData)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", entryData, err)
	}
	var (
		entries       int64
		payloadBytes  int64
		truncated     bool
		lastTimestamp time.Time
	)
	// A run that seals nothing keeps the previous run's watermark.
	lastSequence := req.Window.AfterSequence
	for {
		rec, ok := cursor.Next()
		if !ok {
			break
		}
		if entries == int64(req.MaxEntries) {
			// The query reads one past the cap; a record here means
			// the backlog overflows this run.
			truncated = true
			break
		}
		line := base64.StdEncoding.EncodeToString(rec.Payload) + "\n"
		if _, err := dataEntry.Write([]byte(line)); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", rec.Sequence, err)
		}
		if err := tree.AddLeaf(rec.Payload); err != nil {
			return nil, err
		}
		entries++
		payloadBytes += int64(len(rec.Payload))
		lastTimestamp = rec.PersistedAt
		lastSequence = rec.Sequence
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("window query failed: %w", err)
	}

	endDate := req.Window.End
	if truncated {
		endDate = lastTimestamp.UTC().Truncate(time.Second)
	}

	root, treeFile, err := finalizeTree(tree, p.algorithm, entries)
	if err != nil {
		return nil, err
	}

	token, err := p.provider.Timestamp(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to timestamp merkle root: %w", err)
	}

	event := &models.TraceabilityEvent{
		LogType:                     req.Type,
		StartDate:                   models.FormatDate(req.Window.Start),
		EndDate:                     models.FormatDate(endDate),
		Hash:                        base64.StdEncoding.EncodeToString(root),
		TimestampToken:              token,
		PreviousStartDate:           req.Links.PreviousStartDate,
		PreviousTimestampToken:      req.Links.PreviousTimestampToken,
		PreviousMonthStartDate:      req.Links.PreviousMonthStartDate,
		PreviousMonthTimestampToken: req.Links.PreviousMonthTimestampToken,
		PreviousYearStartDate:       req.Links.PreviousYearStartDate,
		PreviousYearTimestampToken:  req.Links.PreviousYearTimestampToken,
		NumberOfEntries:             entries,
		Size:                        payloadBytes,
		DigestAlgorithm:             p.algorithm,
		LastSequence:                lastSequence,
		MaxEntriesReached:           truncated,
	}
	event.FileName = fmt.Sprintf("%d_%s/%s_%s.zip",
		req.Tenant, req.Type, endDate.UTC().Format(containerDateFormat), req.OperationID)
	if err := event.Validate(); err != nil {
		return nil, err
	}

	if err := writeJSONEntry(zw, entryMerkleTree, treeFile); err != nil {
		return nil, err
	}
	if err := writeTextEntry(zw, entryToken, base64.StdEncoding.EncodeToString(token)+"\n"); err != nil {
		return nil, err
	}
	if err := writeTextEntry(zw, entryComputing, computingInformation(event)); err != nil {
		return nil, err
	}
	if err := writeTextEntry(zw, entryAdditional, additionalInformation(event)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize container: %w", err)
	}
	if err := staging.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync staging file: %w", err)
	}
	if _, err := staging.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind staging file: %w", err)
	}

	// Durable storage is the commit point: only after this does the run's
	// terminal OK status become possible.
	if _, err := p.offers.PutContainer(ctx, event.FileName, staging); err != nil {
		return nil, fmt.Errorf("failed to store container: %w", err)
	}

	return &SealResult{Event: event, ContainerName: event.FileName}, nil
}

// finalizeTree produces the root digest and the persisted tree structure.
// An empty window has no tree; its root is the digest of no input, so the
// zero-entry event is still timestamped and chained.
func finalizeTree(tree *merkle.TreeBuilder, algorithm string, entries int64) ([]byte, *merkleTreeFile, error) {
	if entries == 0 {
		empty, err := merkle.NewTreeBuilder(algorithm)
		if err != nil {
			return nil, nil, err
		}
		if err := empty.AddLeaf(nil); err != nil {
			return nil, nil, err
		}
		root, err := empty.Root()
		if err != nil {
			return nil, nil, err
		}
		return root, &merkleTreeFile{Root: base64.StdEncoding.EncodeToString(root)}, nil
	}

	root, err := tree.Root()
	if err != nil {
		return nil, nil, err
	}
	levels, err := tree.Levels()
	if err != nil {
		return nil, nil, err
	}
	file := &merkleTreeFile{Root: base64.StdEncoding.EncodeToString(root)}
	for _, level := range levels {
		encoded := make([]string, len(level))
		for i, digest := range level {
			encoded[i] = base64.StdEncoding.EncodeToString(digest)
		}
		file.Levels = append(file.Levels, encoded)
	}
	return root, file, nil
}

func computingInformation(ev *models.TraceabilityEvent) string {
	b64 := base64.StdEncoding.EncodeToString
	return fmt.Sprintf(
		"currentHash=%s\npreviousTimestampToken=%s\npreviousMonthTimestampToken=%s\npreviousYearTimestampToken=%s\nstartDate=%s\nendDate=%s\n",
		ev.Hash,
		b64(ev.PreviousTimestampToken),
		b64(ev.PreviousMonthTimestampToken),
		b64(ev.PreviousYearTimestampToken),
		ev.StartDate,
		ev.EndDate,
	)
}

func additionalInformation(ev *models.TraceabilityEvent) string {
	return fmt.Sprintf("numberOfEntries=%d\nsize=%d\nmaxEntriesReached=%t\n",
		ev.NumberOfEntries, ev.Size, ev.MaxEntriesReached)
}

func writeTextEntry(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func writeJSONEntry(zw *zip.Writer, name string, v any) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return nil
}

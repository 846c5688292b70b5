package securing

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/arkheion-systems/arkheion-securing/internal/merkle"
	"github.com/arkheion-systems/arkheion-securing/internal/offers"
)

// VerificationResult reports an offline re-check of a stored container.
type VerificationResult struct {
	ContainerName string
	Entries       int64
	RecordedRoot  string
	ComputedRoot  string
	RootMatches   bool
	Token         []byte
}

// Verifier re-opens sealed containers and recomputes their Merkle root from
// the raw payload section, proving the container still matches what was
// timestamped.
type Verifier struct {
	offers    offers.Store
	algorithm string
}

// NewVerifier creates a verifier over the offer store.
func NewVerifier(store offers.Store, algorithm string) *Verifier {
	return &Verifier{offers: store, algorithm: algorithm}
}

// Verify loads a container by name and recomputes its root.
func (v *Verifier) Verify(ctx context.Context, name string) (*VerificationResult, error) {
	rc, err := v.offers.GetContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// Containers are bounded by the capacity cap, so reading into memory
	// is acceptable for verification tooling.
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}

	result := &VerificationResult{ContainerName: name}

	tree, err := merkle.NewTreeBuilder(v.algorithm)
	if err != nil {
		return nil, err
	}
	if err := v.replayData(zr, tree, result); err != nil {
		return nil, err
	}

	if result.Entries == 0 {
		if err := tree.AddLeaf(nil); err != nil {
			return nil, err
		}
	}
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	result.ComputedRoot = base64.StdEncoding.EncodeToString(root)

	var treeFile merkleTreeFile
	if err := readJSONEntry(zr, entryMerkleTree, &treeFile); err != nil {
		return nil, err
	}
	result.RecordedRoot = treeFile.Root
	result.RootMatches = result.RecordedRoot == result.ComputedRoot

	tokenText, err := readTextEntry(zr, entryToken)
	if err != nil {
		return nil, err
	}
	token, err := base64.StdEncoding.DecodeString(strings.TrimSpace(tokenText))
	if err != nil {
		return nil, fmt.Errorf("corrupt token entry: %w", err)
	}
	result.Token = token

	return result, nil
}

func (v *Verifier) replayData(zr *zip.Reader, tree *merkle.TreeBuilder, result *VerificationResult) error {
	f, err := openEntry(zr, entryData)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		payload, err := base64.StdEncoding.DecodeString(scanner.Text())
		if err != nil {
			return fmt.Errorf("corrupt data entry at record %d: %w", result.Entries, err)
		}
		if err := tree.AddLeaf(payload); err != nil {
			return err
		}
		result.Entries++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read data entry: %w", err)
	}
	return nil
}

func openEntry(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open entry %s: %w", name, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("container entry %s missing", name)
}

func readTextEntry(zr *zip.Reader, name string) (string, error) {
	rc, err := openEntry(zr, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read entry %s: %w", name, err)
	}
	return string(raw), nil
}

func readJSONEntry(zr *zip.Reader, name string, v any) error {
	rc, err := openEntry(zr, name)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("failed to decode entry %s: %w", name, err)
	}
	return nil
}

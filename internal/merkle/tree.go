// Package merkle implements the binary hash tree used to seal ordered journal
// records. Adjacent digests are combined pairwise bottom-up; an odd digest at
// any level is promoted unchanged to the next level. Proof verification on the
// stored artifacts depends on this exact combination rule and on leaf
// insertion order.
package merkle

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
)

// Supported digest algorithm names.
const (
	SHA256 = "SHA-256"
	SHA512 = "SHA-512"
)

// ErrEmptyTree is returned when Root is called before any leaf was added.
var ErrEmptyTree = errors.New("merkle: tree has no leaves")

// newHash returns the hash constructor for a supported algorithm name.
func newHash(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	}
	return nil, fmt.Errorf("merkle: unsupported digest algorithm %q", algorithm)
}

// TreeBuilder accumulates leaf records one at a time and produces the root
// digest plus the full level structure needed to rebuild membership proofs.
// One builder is used per securing operation; it is not safe for concurrent
// use and cannot be reused after Root.
type TreeBuilder struct {
	algorithm string
	newHash   func() hash.Hash
	leaves    [][]byte
	levels    [][][]byte
	finalized bool
}

// NewTreeBuilder creates a builder for the given digest algorithm
// (SHA-256 or SHA-512).
func NewTreeBuilder(algorithm string) (*TreeBuilder, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}
	return &TreeBuilder{algorithm: algorithm, newHash: h}, nil
}

// Algorithm returns the digest algorithm name of the builder.
func (t *TreeBuilder) Algorithm() string { return t.algorithm }

// Count returns the number of leaves added so far.
func (t *TreeBuilder) Count() int { return len(t.leaves) }

// AddLeaf digests one record and appends it to the tree. Leaves must be added
// in the exact order the packager writes records to the artifact.
func (t *TreeBuilder) AddLeaf(payload []byte) error {
	if t.finalized {
		return errors.New("merkle: tree already finalized")
	}
	h := t.newHash()
	h.Write(payload)
	t.leaves = append(t.leaves, h.Sum(nil))
	return nil
}

// Root finalizes the tree and returns the combined digest. A single-leaf tree
// has that leaf's own digest as root.
func (t *TreeBuilder) Root() ([]byte, error) {
	if len(t.leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if !t.finalized {
		t.build()
	}
	top := t.levels[len(t.levels)-1]
	return top[0], nil
}

// Levels returns every level of the finalized tree, leaves first, root last.
// The slices are the builder's own; callers must not mutate them.
func (t *TreeBuilder) Levels() ([][][]byte, error) {
	if _, err := t.Root(); err != nil {
		return nil, err
	}
	return t.levels, nil
}

// Path returns the audit path for leaf i: the sibling digests needed to
// recompute the root, from the leaf level upward. Levels where the node is an
// unpaired odd digest contribute no sibling.
func (t *TreeBuilder) Path(i int) ([][]byte, error) {
	if _, err := t.Root(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(t.leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", i, len(t.leaves))
	}
	var path [][]byte
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			path = append(path, level[sibling])
		}
		idx /= 2
	}
	return path, nil
}

func (t *TreeBuilder) build() {
	t.levels = [][][]byte{t.leaves}
	current := t.leaves
	for len(current) > 1 {
		next := make([][]byte, 0, (len(current)+1)/2)
		for i := 0; i+1 < len(current); i += 2 {
			h := t.newHash()
			h.Write(current[i])
			h.Write(current[i+1])
			next = append(next, h.Sum(nil))
		}
		if len(current)%2 == 1 {
			// Odd node: promote unchanged, never duplicate.
			next = append(next, current[len(current)-1])
		}
		t.levels = append(t.levels, next)
		current = next
	}
	t.finalized = true
}

// VerifyPath recomputes the root from a leaf payload and its audit path. The
// position of each sibling (left or right) is derived from the leaf index the
// same way Path produced it.
func VerifyPath(algorithm string, payload []byte, index, leafCount int, path [][]byte, root []byte) (bool, error) {
	newH, err := newHash(algorithm)
	if err != nil {
		return false, err
	}
	h := newH()
	h.Write(payload)
	digest := h.Sum(nil)

	idx := index
	width := leafCount
	pathPos := 0
	for width > 1 {
		sibling := idx ^ 1
		if sibling < width {
			if pathPos >= len(path) {
				return false, errors.New("merkle: audit path too short")
			}
			h = newH()
			if idx%2 == 0 {
				h.Write(digest)
				h.Write(path[pathPos])
			} else {
				h.Write(path[pathPos])
				h.Write(digest)
			}
			digest = h.Sum(nil)
			pathPos++
		}
		idx /= 2
		width = (width + 1) / 2
	}
	if pathPos != len(path) {
		return false, errors.New("merkle: audit path too long")
	}
	return string(digest) == string(root), nil
}

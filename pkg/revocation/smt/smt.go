// Package smt implements the sparse Merkle revocation tree of spec §4.4.
//
// Storage is a sparse map keyed by (level, index); absent keys read as the precomputed
// zero_hashes[level], and writing a value equal to zero_hashes[level] deletes the entry so
// storage stays proportional to occupied leaves, not to 2^depth. Generalized from
// certenIO-certen-validator/pkg/merkle/tree.go's mutex-guarded, level-by-level tree, but
// keyed sparsely and hashed with Poseidon over field elements instead of SHA-256 over
// byte slices, since spec leaves are field elements, not 32-byte digests.
package smt

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/poseidon"
)

// ErrLeafCollision is returned by Add when the computed leaf index is already occupied by
// a different commitment (spec §4.4).
var ErrLeafCollision = errors.New("smt: leaf collision")

// ErrInvalidDepth is returned when constructing a tree with a depth outside [1,254].
var ErrInvalidDepth = errors.New("smt: depth must be in [1,254]")

// DefaultDepth is the conservative default named in spec §4.4/§9: the field width allows
// up to 254, but this is the practical default implementations should document.
const DefaultDepth = 20

const maxDepth = 254

// key addresses a single tree node.
type key struct {
	level int
	index uint64
}

// RootInfo is the public root-and-version snapshot of spec §3 ("Revocation root info").
type RootInfo struct {
	Root      field.Element
	Version   uint64
	UpdatedAt time.Time
}

// Witness is a Merkle membership/non-membership witness (spec §3).
type Witness struct {
	Root         field.Element
	PathIndices  []int
	Siblings     []field.Element
}

// Tree is a sparse, hash-addressed Merkle tree over BN254 field elements.
type Tree struct {
	mu sync.RWMutex

	depth       int
	zeroHashes  []field.Element // zeroHashes[i] is the zero value at level i
	nodes       map[key]field.Element
	commitments map[string]uint64 // commitment decimal string -> leaf index, for O(1) Contains

	version   uint64
	updatedAt time.Time
}

// New creates an empty sparse Merkle tree of the given depth. depth must be in [1,254];
// callers wanting the documented conservative default should pass DefaultDepth.
func New(depth int) (*Tree, error) {
	if depth < 1 || depth > maxDepth {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}
	zeroHashes := make([]field.Element, depth+1)
	zeroHashes[0] = field.Zero()
	for i := 1; i <= depth; i++ {
		zeroHashes[i] = poseidon.HashPair(zeroHashes[i-1], zeroHashes[i-1])
	}
	return &Tree{
		depth:       depth,
		zeroHashes:  zeroHashes,
		nodes:       make(map[key]field.Element),
		commitments: make(map[string]uint64),
		updatedAt:   time.Now().UTC(),
	}, nil
}

// Depth returns the configured tree depth.
func (t *Tree) Depth() int { return t.depth }

// leafIndex computes leaf_index(commitment) = poseidon_hash([commitment]) mod 2^depth.
// Indices are uint64, so for depth > 64 the hash is taken mod 2^64 instead and leaves
// beyond index 2^64-1 are never addressed.
func (t *Tree) leafIndex(commitment field.Element) uint64 {
	h := poseidon.Hash(commitment)
	bi := h.BigInt()
	if t.depth >= 64 {
		return new(big.Int).And(bi, new(big.Int).SetUint64(^uint64(0))).Uint64()
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(t.depth))
	mbi := new(big.Int).Mod(bi, mod)
	return mbi.Uint64()
}

func (t *Tree) read(level int, index uint64) field.Element {
	if v, ok := t.nodes[key{level, index}]; ok {
		return v
	}
	return t.zeroHashes[level]
}

func (t *Tree) write(level int, index uint64, v field.Element) {
	k := key{level, index}
	if v.Equal(t.zeroHashes[level]) {
		delete(t.nodes, k)
		return
	}
	t.nodes[k] = v
}

// recomputePath updates all ancestor hashes of leaf index idx after its value changed.
func (t *Tree) recomputePath(idx uint64) {
	cur := idx
	for level := 0; level < t.depth; level++ {
		isRight := cur%2 == 1
		var sibling uint64
		if isRight {
			sibling = cur - 1
		} else {
			sibling = cur + 1
		}
		me := t.read(level, cur)
		sib := t.read(level, sibling)

		var parent field.Element
		if isRight {
			parent = poseidon.HashPair(sib, me)
		} else {
			parent = poseidon.HashPair(me, sib)
		}
		cur = cur / 2
		t.write(level+1, cur, parent)
	}
}

// Add inserts commitment into the tree. Idempotent: adding the same commitment twice
// leaves root, version, and size unchanged after the second call (spec §8 property 5).
// A different commitment hashing to an already-occupied leaf fails with ErrLeafCollision
// (first insert wins -- a hard failure, never silent displacement, per spec §4.4).
func (t *Tree) Add(commitment field.Element) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.leafIndex(commitment)
	commitmentKey := commitment.String()

	if existingIdx, ok := t.commitments[commitmentKey]; ok && existingIdx == idx {
		return nil // idempotent no-op
	}

	current := t.read(0, idx)
	if !current.Equal(t.zeroHashes[0]) {
		return fmt.Errorf("%w: leaf index %d already occupied", ErrLeafCollision, idx)
	}

	t.write(0, idx, commitment)
	t.commitments[commitmentKey] = idx
	t.recomputePath(idx)
	t.version++
	t.updatedAt = time.Now().UTC()
	return nil
}

// Remove zeroes commitment's leaf if present. Idempotent: removing an absent commitment
// is a no-op that does not change version (spec §8 property 5/6).
func (t *Tree) Remove(commitment field.Element) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	commitmentKey := commitment.String()
	idx, ok := t.commitments[commitmentKey]
	if !ok {
		return nil
	}

	t.write(0, idx, field.Zero())
	delete(t.commitments, commitmentKey)
	t.recomputePath(idx)
	t.version++
	t.updatedAt = time.Now().UTC()
	return nil
}

// Contains reports whether commitment currently occupies a leaf, in O(1) via the
// auxiliary commitment->index map.
func (t *Tree) Contains(commitment field.Element) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.commitments[commitment.String()]
	return ok
}

// GetRoot returns the current root value.
func (t *Tree) GetRoot() field.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.read(t.depth, 0)
}

// GetRootInfo returns the current root alongside its version and last-update time.
func (t *Tree) GetRootInfo() RootInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return RootInfo{Root: t.read(t.depth, 0), Version: t.version, UpdatedAt: t.updatedAt}
}

// GetWitness returns the sibling vector and path indices proving commitment's membership,
// or (Witness{}, false) if commitment is not tracked.
func (t *Tree) GetWitness(commitment field.Element) (Witness, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.commitments[commitment.String()]
	if !ok {
		return Witness{}, false
	}
	return t.witnessAt(idx), true
}

// GetNonMembershipWitness returns the same-shape witness at commitment's would-be slot,
// iff that slot is empty and commitment is not tracked. Returns (Witness{}, false)
// otherwise (spec §4.4).
func (t *Tree) GetNonMembershipWitness(commitment field.Element) (Witness, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, tracked := t.commitments[commitment.String()]; tracked {
		return Witness{}, false
	}
	idx := t.leafIndex(commitment)
	if !t.read(0, idx).Equal(t.zeroHashes[0]) {
		return Witness{}, false
	}
	return t.witnessAt(idx), true
}

func (t *Tree) witnessAt(idx uint64) Witness {
	siblings := make([]field.Element, t.depth)
	pathIndices := make([]int, t.depth)
	cur := idx
	for level := 0; level < t.depth; level++ {
		isRight := cur % 2 == 1
		var sibling uint64
		if isRight {
			sibling = cur - 1
			pathIndices[level] = 1
		} else {
			sibling = cur + 1
			pathIndices[level] = 0
		}
		siblings[level] = t.read(level, sibling)
		cur = cur / 2
	}
	return Witness{Root: t.read(t.depth, 0), PathIndices: pathIndices, Siblings: siblings}
}

// VerifyWitness recomputes the Merkle path from leaf using poseidon_hash(left,right) and
// checks it yields w.Root -- spec §3/§8 property 3 (the SMT Merkle law). leafValue is the
// value stored at the leaf (the commitment itself for membership, field.Zero() for
// non-membership).
func VerifyWitness(leafValue field.Element, w Witness) bool {
	cur := leafValue
	for i, sibling := range w.Siblings {
		if w.PathIndices[i] == 1 {
			cur = poseidon.HashPair(sibling, cur)
		} else {
			cur = poseidon.HashPair(cur, sibling)
		}
	}
	return cur.Equal(w.Root)
}

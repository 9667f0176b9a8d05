// Package poseidon adapts gnark-crypto's Poseidon2 permutation as the zk-id core's
// poseidon_hash primitive (spec §1 lists poseidon_hash as an external collaborator; this
// package is the concrete adapter the rest of the core calls).
package poseidon

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"

	"github.com/zkidlabs/verifier/pkg/field"
)

// hasherFactory is overridable in tests; production code always uses the real
// Merkle-Damgard Poseidon2 hasher from gnark-crypto.
var hasherFactory = poseidon2.NewMerkleDamgardHasher

// Hash computes Poseidon2(inputs...) and reduces the digest back into the scalar field,
// mirroring parsdao-pars/zk's Poseidon2Hasher.Hash concatenation scheme: each input is
// serialized to its canonical 32-byte form and fed to the hasher in order.
func Hash(inputs ...field.Element) field.Element {
	h := hasherFactory()
	for _, in := range inputs {
		b := in.Bytes()
		h.Write(b[:])
	}
	sum := h.Sum(nil)
	return field.FromBytes(sum)
}

// HashPair computes Hash(left, right) — the two-ary form used by every Merkle tree in
// this module (sparse and indexed).
func HashPair(left, right field.Element) field.Element {
	return Hash(left, right)
}

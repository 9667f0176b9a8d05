// Package field provides BN254 scalar-field element handling for the zk-id core.
//
// All in-circuit values (commitments, nonces-as-field-elements, Merkle node values) are
// integers modulo the BN254 scalar field, serialized on the wire as base-10 decimal
// strings. This package is the single place that owns that representation.
package field

import (
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// ErrInvalidFieldElement is returned when a decimal string is empty or does not parse as a
// base-10 integer. Values at or above the modulus are not an error; they are reduced mod p.
var ErrInvalidFieldElement = errors.New("field: invalid field element")

// Element is a value in the BN254 scalar field.
type Element struct {
	v fr.Element
}

// Zero returns the additive identity.
func Zero() Element {
	return Element{}
}

// IsZero reports whether e is the zero element.
func (e Element) IsZero() bool {
	return e.v.IsZero()
}

// Equal reports whether e and other represent the same field element.
func (e Element) Equal(other Element) bool {
	return e.v.Equal(&other.v)
}

// FromUint64 builds an element from a small unsigned integer.
func FromUint64(v uint64) Element {
	var e Element
	e.v.SetUint64(v)
	return e
}

// FromBytes reduces a big-endian byte slice modulo the field, matching the convention
// used throughout the pack (gnark-crypto's SetBytes performs the reduction).
func FromBytes(b []byte) Element {
	var e Element
	e.v.SetBytes(b)
	return e
}

// FromDecimalString parses a base-10 decimal string into a field element. Parse failure
// (non-numeric input) is reported as ErrInvalidFieldElement; values larger than the field
// modulus are silently reduced mod p, matching gnark-crypto's SetBigInt behavior and the
// wire contract in spec §3 ("serialized as base-10 decimal strings").
func FromDecimalString(s string) (Element, error) {
	if s == "" {
		return Element{}, ErrInvalidFieldElement
	}
	bi, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Element{}, ErrInvalidFieldElement
	}
	var e Element
	e.v.SetBigInt(bi)
	return e, nil
}

// String returns the canonical base-10 decimal representation of e.
func (e Element) String() string {
	bi := new(big.Int)
	e.v.BigInt(bi)
	return bi.String()
}

// BigInt returns e as a *big.Int in [0, p).
func (e Element) BigInt() *big.Int {
	bi := new(big.Int)
	e.v.BigInt(bi)
	return bi
}

// Bytes returns the canonical big-endian 32-byte encoding of e.
func (e Element) Bytes() [32]byte {
	return e.v.Bytes()
}

// Add returns e + other.
func (e Element) Add(other Element) Element {
	var r Element
	r.v.Add(&e.v, &other.v)
	return r
}

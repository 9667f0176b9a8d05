// Package snarkverify adapts each proof envelope variant to gnark's Groth16 `snark_verify`
// primitive (spec §4.3), and performs the local constraint checks (§4.3) that never touch
// the SNARK at all.
package snarkverify

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"

	"github.com/zkidlabs/verifier/pkg/field"
	zkproof "github.com/zkidlabs/verifier/pkg/proof"
)

// ErrUntrustedIssuer is returned when a signed variant's embedded issuer public key bits
// do not match the expected bits from the issuer registry (spec §4.3).
var ErrUntrustedIssuer = errors.New("snarkverify: untrusted issuer")

// VerifyingKey is a loaded Groth16 BN254 verification key.
type VerifyingKey = groth16.VerifyingKey

// LoadVerifyingKey reads a Groth16 BN254 verifying key from r, mirroring
// certenIO-certen-validator/pkg/crypto/bls_zkp/prover.go's
// `groth16.NewVerifyingKey(ecc.BN254); vk.ReadFrom(vkFile)` pattern.
func LoadVerifyingKey(r io.Reader) (VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("snarkverify: read verifying key: %w", err)
	}
	return vk, nil
}

// ---------------------------------------------------------------------------
// Local constraint validation (§4.3 validate_constraints)
// ---------------------------------------------------------------------------

const (
	minCurrentYear  = 2020
	minAge          = 0
	maxAge          = 150
	minNationality  = 1
	maxNationality  = 999
	freshnessWindow = 5 * time.Minute
)

// ValidateConstraints performs the purely-local sanity checks from spec §4.3. All
// violations are accumulated and returned together -- never just the first.
func ValidateConstraints(variant zkproof.Variant, env zkproof.Envelope, now time.Time) []error {
	switch variant {
	case zkproof.VariantAge, zkproof.VariantAgeRevocable, zkproof.VariantAgeSigned:
		return validateAgeLike(variant, env, now)
	case zkproof.VariantNationality, zkproof.VariantNationalitySigned:
		return validateNationalityLike(variant, env, now)
	default:
		return []error{fmt.Errorf("snarkverify: unknown variant %q", variant)}
	}
}

func validateAgeLike(variant zkproof.Variant, env zkproof.Envelope, now time.Time) []error {
	var errs []error
	var currentYear, minAgeVal, requestTs int64
	var credHash, nonce, merkleRoot string

	switch variant {
	case zkproof.VariantAge:
		s, err := zkproof.AgeSignalsFrom(env)
		if err != nil {
			return []error{err}
		}
		currentYear, minAgeVal, credHash, nonce, requestTs = s.CurrentYear, s.MinAge, s.CredentialHash, s.Nonce, s.RequestTimestampMs
	case zkproof.VariantAgeRevocable:
		s, err := zkproof.AgeRevocableSignalsFrom(env)
		if err != nil {
			return []error{err}
		}
		currentYear, minAgeVal, credHash, merkleRoot, nonce, requestTs = s.CurrentYear, s.MinAge, s.CredentialHash, s.MerkleRoot, s.Nonce, s.RequestTimestampMs
	case zkproof.VariantAgeSigned:
		s, err := zkproof.AgeSignedSignalsFrom(env)
		if err != nil {
			return []error{err}
		}
		currentYear, minAgeVal, credHash, nonce, requestTs = s.CurrentYear, s.MinAge, s.CredentialHash, s.Nonce, s.RequestTimestampMs
	}

	nowYear := int64(now.Year())
	if currentYear < minCurrentYear || currentYear > nowYear+1 {
		errs = append(errs, fmt.Errorf("snarkverify: current_year %d out of range [%d,%d]", currentYear, minCurrentYear, nowYear+1))
	}
	if minAgeVal < minAge || minAgeVal > maxAge {
		errs = append(errs, fmt.Errorf("snarkverify: min_age %d out of range [%d,%d]", minAgeVal, minAge, maxAge))
	}
	errs = append(errs, checkFieldElement("credential_hash", credHash)...)
	if variant == zkproof.VariantAgeRevocable {
		errs = append(errs, checkFieldElement("merkle_root", merkleRoot)...)
	}
	if nonce == "" {
		errs = append(errs, errors.New("snarkverify: nonce must not be empty"))
	}
	errs = append(errs, checkFreshness(requestTs, now)...)
	return errs
}

func validateNationalityLike(variant zkproof.Variant, env zkproof.Envelope, now time.Time) []error {
	var errs []error
	var target, requestTs int64
	var credHash, nonce string

	switch variant {
	case zkproof.VariantNationality:
		s, err := zkproof.NationalitySignalsFrom(env)
		if err != nil {
			return []error{err}
		}
		target, credHash, nonce, requestTs = s.TargetNationality, s.CredentialHash, s.Nonce, s.RequestTimestampMs
	case zkproof.VariantNationalitySigned:
		s, err := zkproof.NationalitySignedSignalsFrom(env)
		if err != nil {
			return []error{err}
		}
		target, credHash, nonce, requestTs = s.TargetNationality, s.CredentialHash, s.Nonce, s.RequestTimestampMs
	}

	if target < minNationality || target > maxNationality {
		errs = append(errs, fmt.Errorf("snarkverify: target_nationality %d out of range [%d,%d]", target, minNationality, maxNationality))
	}
	errs = append(errs, checkFieldElement("credential_hash", credHash)...)
	if nonce == "" {
		errs = append(errs, errors.New("snarkverify: nonce must not be empty"))
	}
	errs = append(errs, checkFreshness(requestTs, now)...)
	return errs
}

func checkFieldElement(name, s string) []error {
	if s == "" {
		return []error{fmt.Errorf("snarkverify: %s must not be empty", name)}
	}
	e, err := field.FromDecimalString(s)
	if err != nil {
		return []error{fmt.Errorf("snarkverify: %s is not a parseable field element: %w", name, err)}
	}
	if e.IsZero() {
		return []error{fmt.Errorf("snarkverify: %s must be non-zero", name)}
	}
	return nil
}

func checkFreshness(requestTs int64, now time.Time) []error {
	if requestTs <= 0 {
		return []error{errors.New("snarkverify: request_timestamp_ms must be positive")}
	}
	t := time.UnixMilli(requestTs)
	if d := now.Sub(t); d > freshnessWindow || d < -freshnessWindow {
		return []error{fmt.Errorf("snarkverify: request_timestamp_ms %d is outside the %s freshness window", requestTs, freshnessWindow)}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SNARK verification (§4.3 verify)
// ---------------------------------------------------------------------------

// Verify assembles the public-signal vector in the variant's defined order and delegates
// to the Groth16 snark_verify primitive. For the revocable variant, if expectedMerkleRoot
// is supplied and differs from the envelope's merkle_root, Verify fails immediately
// without invoking the SNARK primitive (spec §4.3).
func Verify(variant zkproof.Variant, env zkproof.Envelope, vk VerifyingKey, expectedMerkleRoot *string) (bool, error) {
	if variant == zkproof.VariantAgeRevocable && expectedMerkleRoot != nil {
		s, err := zkproof.AgeRevocableSignalsFrom(env)
		if err != nil {
			return false, err
		}
		if s.MerkleRoot != *expectedMerkleRoot {
			return false, nil
		}
	}

	assignment, err := publicAssignment(variant, env)
	if err != nil {
		return false, err
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("snarkverify: build public witness: %w", err)
	}
	gProof, err := reconstructProof(env)
	if err != nil {
		return false, err
	}
	if err := groth16.Verify(gProof, vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

// VerifyIssuerBits compares a signed variant's embedded issuer_public_key_bits against
// the expected bits from the issuer registry, after SNARK verification has already
// succeeded (spec §4.3's issuer-key binding step).
func VerifyIssuerBits(bits [256]int, expected [256]int) error {
	for i := range bits {
		if bits[i] != expected[i] {
			return fmt.Errorf("%w: bit %d mismatch", ErrUntrustedIssuer, i)
		}
	}
	return nil
}

func decimalToBigInt(s string) (*big.Int, error) {
	bi, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("snarkverify: %q is not a decimal integer", s)
	}
	return bi, nil
}

func publicAssignment(variant zkproof.Variant, env zkproof.Envelope) (frontend.Circuit, error) {
	switch variant {
	case zkproof.VariantAge:
		s, err := zkproof.AgeSignalsFrom(env)
		if err != nil {
			return nil, err
		}
		credHash, err := decimalToBigInt(s.CredentialHash)
		if err != nil {
			return nil, err
		}
		nonce, err := decimalToBigInt(s.Nonce)
		if err != nil {
			return nil, err
		}
		return &ageCircuit{
			CurrentYear:        s.CurrentYear,
			MinAge:             s.MinAge,
			CredentialHash:     credHash,
			Nonce:              nonce,
			RequestTimestampMs: s.RequestTimestampMs,
		}, nil
	case zkproof.VariantNationality:
		s, err := zkproof.NationalitySignalsFrom(env)
		if err != nil {
			return nil, err
		}
		credHash, err := decimalToBigInt(s.CredentialHash)
		if err != nil {
			return nil, err
		}
		nonce, err := decimalToBigInt(s.Nonce)
		if err != nil {
			return nil, err
		}
		return &nationalityCircuit{
			TargetNationality:  s.TargetNationality,
			CredentialHash:     credHash,
			Nonce:              nonce,
			RequestTimestampMs: s.RequestTimestampMs,
		}, nil
	case zkproof.VariantAgeRevocable:
		s, err := zkproof.AgeRevocableSignalsFrom(env)
		if err != nil {
			return nil, err
		}
		credHash, err := decimalToBigInt(s.CredentialHash)
		if err != nil {
			return nil, err
		}
		merkleRoot, err := decimalToBigInt(s.MerkleRoot)
		if err != nil {
			return nil, err
		}
		nonce, err := decimalToBigInt(s.Nonce)
		if err != nil {
			return nil, err
		}
		return &ageRevocableCircuit{
			CurrentYear:        s.CurrentYear,
			MinAge:             s.MinAge,
			CredentialHash:     credHash,
			MerkleRoot:         merkleRoot,
			Nonce:              nonce,
			RequestTimestampMs: s.RequestTimestampMs,
		}, nil
	case zkproof.VariantAgeSigned:
		s, err := zkproof.AgeSignedSignalsFrom(env)
		if err != nil {
			return nil, err
		}
		credHash, err := decimalToBigInt(s.CredentialHash)
		if err != nil {
			return nil, err
		}
		nonce, err := decimalToBigInt(s.Nonce)
		if err != nil {
			return nil, err
		}
		c := &ageSignedCircuit{
			CurrentYear:        s.CurrentYear,
			MinAge:             s.MinAge,
			CredentialHash:     credHash,
			Nonce:              nonce,
			RequestTimestampMs: s.RequestTimestampMs,
		}
		for i, b := range s.IssuerPublicKeyBits {
			c.IssuerPublicKeyBits[i] = b
		}
		return c, nil
	case zkproof.VariantNationalitySigned:
		s, err := zkproof.NationalitySignedSignalsFrom(env)
		if err != nil {
			return nil, err
		}
		credHash, err := decimalToBigInt(s.CredentialHash)
		if err != nil {
			return nil, err
		}
		nonce, err := decimalToBigInt(s.Nonce)
		if err != nil {
			return nil, err
		}
		c := &nationalitySignedCircuit{
			TargetNationality:  s.TargetNationality,
			CredentialHash:     credHash,
			Nonce:              nonce,
			RequestTimestampMs: s.RequestTimestampMs,
		}
		for i, b := range s.IssuerPublicKeyBits {
			c.IssuerPublicKeyBits[i] = b
		}
		return c, nil
	default:
		return nil, fmt.Errorf("snarkverify: unknown variant %q", variant)
	}
}

// reconstructProof rebuilds a gnark BN254 Groth16 proof from an envelope's pi_a/pi_b/pi_c
// components, mirroring bls_zkp.reconstructProof.
func reconstructProof(env zkproof.Envelope) (groth16.Proof, error) {
	ax, err := decimalToBigInt(env.PiA[0])
	if err != nil {
		return nil, err
	}
	ay, err := decimalToBigInt(env.PiA[1])
	if err != nil {
		return nil, err
	}
	bx0, err := decimalToBigInt(env.PiB[0][0])
	if err != nil {
		return nil, err
	}
	bx1, err := decimalToBigInt(env.PiB[0][1])
	if err != nil {
		return nil, err
	}
	by0, err := decimalToBigInt(env.PiB[1][0])
	if err != nil {
		return nil, err
	}
	by1, err := decimalToBigInt(env.PiB[1][1])
	if err != nil {
		return nil, err
	}
	cx, err := decimalToBigInt(env.PiC[0])
	if err != nil {
		return nil, err
	}
	cy, err := decimalToBigInt(env.PiC[1])
	if err != nil {
		return nil, err
	}

	p := &groth16bn254.Proof{}
	p.Ar.X.SetBigInt(ax)
	p.Ar.Y.SetBigInt(ay)
	p.Bs.X.A0.SetBigInt(bx0)
	p.Bs.X.A1.SetBigInt(bx1)
	p.Bs.Y.A0.SetBigInt(by0)
	p.Bs.Y.A1.SetBigInt(by1)
	p.Krs.X.SetBigInt(cx)
	p.Krs.Y.SetBigInt(cy)
	return p, nil
}

// ---------------------------------------------------------------------------
// Batch verification (§4.3 verify_batch)
// ---------------------------------------------------------------------------

// BatchItem is one (envelope, verifying key) pair submitted to VerifyBatch.
type BatchItem struct {
	Variant zkproof.Variant
	Env     zkproof.Envelope
	VK      VerifyingKey
}

// BatchResult is the per-index outcome of a batch verification.
type BatchResult struct {
	Verified bool
	Err      error
}

// BatchSummary is the aggregate result of VerifyBatch, per spec §4.3.
type BatchSummary struct {
	Results       []BatchResult
	AllVerified   bool
	VerifiedCount int
	TotalCount    int
}

// VerifyBatch verifies each item independently and in parallel. Per-index errors never
// abort the batch (spec §4.3, testable property 12): every input gets exactly one result,
// in input order, regardless of what happens to its siblings.
func VerifyBatch(items []BatchItem) BatchSummary {
	results := make([]BatchResult, len(items))
	var wg sync.WaitGroup
	wg.Add(len(items))
	for i, item := range items {
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = BatchResult{Verified: false, Err: fmt.Errorf("snarkverify: verify panicked: %v", r)}
				}
			}()
			ok, err := Verify(item.Variant, item.Env, item.VK, nil)
			results[i] = BatchResult{Verified: ok, Err: err}
		}(i, item)
	}
	wg.Wait()

	summary := BatchSummary{Results: results, TotalCount: len(items)}
	summary.AllVerified = len(items) > 0
	for _, r := range results {
		if r.Verified && r.Err == nil {
			summary.VerifiedCount++
		} else {
			summary.AllVerified = false
		}
	}
	return summary
}

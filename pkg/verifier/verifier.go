// Package verifier implements the 11-gate verifier state machine of spec §4.7 -- the single
// place VerifyProof, VerifySignedProof, and VerifyScenarioBundle compose the core's other
// packages into one ordered, sound decision procedure.
//
// Grounded on certenIO-certen-validator/pkg/verification/unified_verifier.go's
// config-driven, ordered-check verifier (UnifiedVerifierConfig's boolean gates,
// VerificationResult's accumulate-then-report shape), generalized from "4 fixed proof
// levels, all independent" to "11 gates in a load-bearing linear order, any of which can
// short-circuit the rest." The gate order here is not stylistic: §4.7 requires that a
// rate-limited request never reach the challenge store, and a challenge-exhausted request
// never reach snark_verify.
package verifier

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/issuer"
	"github.com/zkidlabs/verifier/pkg/proof"
	"github.com/zkidlabs/verifier/pkg/scenario"
	"github.com/zkidlabs/verifier/pkg/signature"
	"github.com/zkidlabs/verifier/pkg/snarkverify"
	"github.com/zkidlabs/verifier/pkg/store"
	"github.com/zkidlabs/verifier/pkg/telemetry"
)

// Kind is the rejection taxonomy of spec §7 ("error taxonomy (kind, not type-name)"),
// narrowed at the verifier boundary to the precise gate-level codes spec §4.7 names.
type Kind string

const (
	KindRateLimitExceeded          Kind = "RATE_LIMIT_EXCEEDED"
	KindProtocolVersionMissing     Kind = "PROTOCOL_VERSION_MISSING"
	KindProtocolVersionIncompatible Kind = "PROTOCOL_VERSION_INCOMPATIBLE"
	KindMissingSignedCredential    Kind = "MISSING_SIGNED_CREDENTIAL"
	KindIssuerUnknown              Kind = "ISSUER_UNKNOWN"
	KindIssuerInactive             Kind = "ISSUER_INACTIVE"
	KindIssuerExpired              Kind = "ISSUER_EXPIRED"
	KindSignatureInvalid           Kind = "SIGNATURE_INVALID"
	KindCommitmentMismatch         Kind = "COMMITMENT_MISMATCH"
	KindCredentialIDMismatch       Kind = "CREDENTIAL_ID_MISMATCH"
	KindPolicyViolation            Kind = "POLICY_VIOLATION"
	KindTimestampWindow            Kind = "TIMESTAMP_WINDOW_VIOLATION"
	KindUnknownOrExpiredChallenge  Kind = "UNKNOWN_OR_EXPIRED_CHALLENGE"
	KindChallengeTimestampMismatch Kind = "CHALLENGE_TIMESTAMP_MISMATCH"
	KindNonceMismatch              Kind = "NONCE_MISMATCH"
	KindTimestampMismatch          Kind = "TIMESTAMP_MISMATCH"
	KindReplay                     Kind = "REPLAY"
	KindRevoked                    Kind = "REVOKED"
	KindSnarkVerifyFailed          Kind = "SNARK_VERIFY_FAILED"
	KindUntrustedIssuer            Kind = "UNTRUSTED_ISSUER"
	KindBundleInconsistent         Kind = "BUNDLE_INCONSISTENT"
)

// GateError is the typed rejection returned by a failed gate. Its Kind is stable wire
// vocabulary; Message is a short human string, never a cryptographic secret or stack trace
// (spec §7: "internal gate errors never leak cryptographic secrets or stack traces").
type GateError struct {
	Kind    Kind
	Message string
}

func (e *GateError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func gateErr(kind Kind, format string, args ...interface{}) *GateError {
	return &GateError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ProtocolVersionPolicy controls gate 2 (spec §4.7 step 2, §6).
type ProtocolVersionPolicy string

const (
	ProtocolVersionOff    ProtocolVersionPolicy = "off"
	ProtocolVersionWarn   ProtocolVersionPolicy = "warn"
	ProtocolVersionStrict ProtocolVersionPolicy = "strict"
)

// RequiredPolicy configures gate 4 (spec §4.7 step 4).
type RequiredPolicy struct {
	MinAge      *int64
	Nationality *int64
}

// Config holds the per-instance gate configuration named in spec §6's options table.
type Config struct {
	RequireSignedCredentials bool
	MaxRequestAgeMs          int64
	RequiredPolicy           RequiredPolicy
	ProtocolVersionPolicy    ProtocolVersionPolicy
	ServerProtocolVersion    string // e.g. "zk-id/1.0", compared for major-version compatibility
}

// RevocationChecker is the capability the revocation gate (10) needs; both
// pkg/revocation/smt and pkg/revocation/indexed trees are adapted to this shape (see
// adapters.go).
type RevocationChecker interface {
	Contains(ctx context.Context, commitment field.Element) (bool, error)
	CurrentRoot(ctx context.Context) (field.Element, error)
}

// Verifier wires the collaborators named across spec §4.7-§4.9 into the ordered gate
// pipeline. All fields are read-heavy-shared or independently synchronized, matching spec
// §5's concurrency model -- a Verifier is safe to call from many goroutines concurrently.
type Verifier struct {
	Config Config

	VerifyingKeys     map[proof.Variant]snarkverify.VerifyingKey
	ChallengeStore    *store.ChallengeStore
	NonceStore        *store.NonceStore
	RateLimiter       *store.RateLimiter // nil disables gate 1
	Revocation        RevocationChecker  // nil disables gate 10
	IssuerRegistry    *issuer.Registry
	Telemetry         *telemetry.Recorder // nil disables emission

	now func() time.Time // overridable for tests; defaults to time.Now
}

func (v *Verifier) clock() time.Time {
	if v.now != nil {
		return v.now()
	}
	return time.Now()
}

// ProofResponse is the payload submitted to VerifyProof/VerifySignedProof: the decoded
// envelope plus the outer session fields bound by the challenge/nonce gates.
type ProofResponse struct {
	Variant            proof.Variant
	Envelope           proof.Envelope
	SignedCredential   *signature.SignedCredential // required by gate 3 when configured
	CredentialID       string                       // claimed credential id, checked in gate 3
	IssuerName         string                       // claimed issuer, used by the signed-variant issuer-bits gate
	Nonce              string                       // outer session nonce, consumed at gate 6
	RequestTimestampMs int64                        // outer session timestamp, consumed at gate 6
}

// Result is the verifier's success-path report (spec §6 HTTP surface response body shape).
type Result struct {
	Verified          bool
	ClaimType         string
	MinAge            *int64
	TargetNationality *int64
}

// claimSignals is the variant-normalized view over an envelope's public signals, so gates
// 4 through 11 don't need a type switch each.
type claimSignals struct {
	MinAge               int64
	HasMinAge            bool
	TargetNationality    int64
	HasTargetNationality bool
	CredentialHash       string
	MerkleRoot           string
	HasMerkleRoot        bool
	Nonce                string
	RequestTimestampMs   int64
	IssuerBits           [256]int
	HasIssuerBits        bool
}

func extractSignals(variant proof.Variant, env proof.Envelope) (claimSignals, error) {
	switch variant {
	case proof.VariantAge:
		s, err := proof.AgeSignalsFrom(env)
		if err != nil {
			return claimSignals{}, err
		}
		return claimSignals{MinAge: s.MinAge, HasMinAge: true, CredentialHash: s.CredentialHash, Nonce: s.Nonce, RequestTimestampMs: s.RequestTimestampMs}, nil
	case proof.VariantNationality:
		s, err := proof.NationalitySignalsFrom(env)
		if err != nil {
			return claimSignals{}, err
		}
		return claimSignals{TargetNationality: s.TargetNationality, HasTargetNationality: true, CredentialHash: s.CredentialHash, Nonce: s.Nonce, RequestTimestampMs: s.RequestTimestampMs}, nil
	case proof.VariantAgeRevocable:
		s, err := proof.AgeRevocableSignalsFrom(env)
		if err != nil {
			return claimSignals{}, err
		}
		return claimSignals{MinAge: s.MinAge, HasMinAge: true, CredentialHash: s.CredentialHash, MerkleRoot: s.MerkleRoot, HasMerkleRoot: true, Nonce: s.Nonce, RequestTimestampMs: s.RequestTimestampMs}, nil
	case proof.VariantAgeSigned:
		s, err := proof.AgeSignedSignalsFrom(env)
		if err != nil {
			return claimSignals{}, err
		}
		return claimSignals{MinAge: s.MinAge, HasMinAge: true, CredentialHash: s.CredentialHash, Nonce: s.Nonce, RequestTimestampMs: s.RequestTimestampMs, IssuerBits: s.IssuerPublicKeyBits, HasIssuerBits: true}, nil
	case proof.VariantNationalitySigned:
		s, err := proof.NationalitySignedSignalsFrom(env)
		if err != nil {
			return claimSignals{}, err
		}
		return claimSignals{TargetNationality: s.TargetNationality, HasTargetNationality: true, CredentialHash: s.CredentialHash, Nonce: s.Nonce, RequestTimestampMs: s.RequestTimestampMs, IssuerBits: s.IssuerPublicKeyBits, HasIssuerBits: true}, nil
	default:
		return claimSignals{}, fmt.Errorf("%w: %q", proof.ErrUnknownProofType, variant)
	}
}

func claimTypeLabel(variant proof.Variant) string {
	switch variant {
	case proof.VariantAgeSigned:
		return "age"
	case proof.VariantNationalitySigned:
		return "nationality"
	case proof.VariantAgeRevocable:
		return "age"
	default:
		return string(variant)
	}
}

// ---------------------------------------------------------------------------
// Gate 1: rate limit
// ---------------------------------------------------------------------------

func (v *Verifier) gateRateLimit(clientID string, now time.Time) *GateError {
	if v.RateLimiter == nil || clientID == "" {
		return nil
	}
	if !v.RateLimiter.Allow(clientID, now) {
		return gateErr(KindRateLimitExceeded, "client %q exceeded the configured rate limit", clientID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gate 2: protocol version
// ---------------------------------------------------------------------------

// parseProtocolVersion parses "zk-id/<major>.<minor>[-draft]" (spec §6).
func parseProtocolVersion(s string) (major, minor int, draft bool, err error) {
	const prefix = "zk-id/"
	if !strings.HasPrefix(s, prefix) {
		return 0, 0, false, fmt.Errorf("verifier: protocol version %q missing %q prefix", s, prefix)
	}
	rest := strings.TrimPrefix(s, prefix)
	if strings.HasSuffix(rest, "-draft") {
		draft = true
		rest = strings.TrimSuffix(rest, "-draft")
	}
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("verifier: protocol version %q missing major.minor", s)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false, fmt.Errorf("verifier: protocol version %q has non-numeric major: %w", s, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false, fmt.Errorf("verifier: protocol version %q has non-numeric minor: %w", s, err)
	}
	return major, minor, draft, nil
}

func (v *Verifier) gateProtocolVersion(submitted string) *GateError {
	policy := v.Config.ProtocolVersionPolicy
	if policy == "" || policy == ProtocolVersionOff {
		return nil
	}
	if submitted == "" {
		if policy == ProtocolVersionStrict {
			return gateErr(KindProtocolVersionMissing, "protocol version header is required under strict policy")
		}
		log.Printf("verifier: protocol version header missing (policy=warn)")
		return nil // warn: log only, never a hard failure
	}
	submittedMajor, _, _, err := parseProtocolVersion(submitted)
	if err != nil {
		if policy == ProtocolVersionStrict {
			return gateErr(KindProtocolVersionIncompatible, "%v", err)
		}
		log.Printf("%v (policy=warn)", err)
		return nil
	}
	serverMajor, _, _, err := parseProtocolVersion(v.Config.ServerProtocolVersion)
	if err != nil {
		// A misconfigured server version is a startup-time bug, not a caller's fault.
		return nil
	}
	if submittedMajor != serverMajor {
		if policy == ProtocolVersionStrict {
			return gateErr(KindProtocolVersionIncompatible, "client major version %d incompatible with server major version %d", submittedMajor, serverMajor)
		}
		log.Printf("verifier: client major version %d incompatible with server major version %d (policy=warn)", submittedMajor, serverMajor)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gate 3: signed-credential binding
// ---------------------------------------------------------------------------

func (v *Verifier) gateSignedCredentialBinding(resp ProofResponse, signals claimSignals, now time.Time) *GateError {
	if !v.Config.RequireSignedCredentials {
		return nil
	}
	if resp.SignedCredential == nil {
		return gateErr(KindMissingSignedCredential, "require_signed_credentials is set but no signed credential was submitted")
	}
	sc := *resp.SignedCredential

	records := v.IssuerRegistry.ListRecords(sc.Issuer)
	if len(records) == 0 {
		return gateErr(KindIssuerUnknown, "issuer %q is not registered", sc.Issuer)
	}

	var matched *issuer.Record
	for i := range records {
		if err := signature.Verify(sc, records[i].PublicKey); err == nil {
			matched = &records[i]
			break
		}
	}
	if matched == nil {
		return gateErr(KindSignatureInvalid, "signature does not verify against any known key for issuer %q", sc.Issuer)
	}
	if matched.Status != issuer.StatusActive {
		return gateErr(KindIssuerInactive, "issuer %q key is %s", sc.Issuer, matched.Status)
	}
	if matched.ValidFrom != nil && now.Before(*matched.ValidFrom) {
		return gateErr(KindIssuerExpired, "issuer %q key is not yet valid", sc.Issuer)
	}
	if matched.ValidTo != nil && now.After(*matched.ValidTo) {
		return gateErr(KindIssuerExpired, "issuer %q key has expired", sc.Issuer)
	}

	if sc.Credential.ID != resp.CredentialID {
		return gateErr(KindCredentialIDMismatch, "signed credential id %q does not match proof credential id %q", sc.Credential.ID, resp.CredentialID)
	}
	if sc.Credential.Commitment != signals.CredentialHash {
		return gateErr(KindCommitmentMismatch, "signed credential commitment does not match proof credential_hash")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gate 4: policy
// ---------------------------------------------------------------------------

func (v *Verifier) gatePolicy(signals claimSignals) *GateError {
	if p := v.Config.RequiredPolicy.MinAge; p != nil {
		if !signals.HasMinAge || signals.MinAge != *p {
			return gateErr(KindPolicyViolation, "required min_age=%d, proof carries min_age=%d", *p, signals.MinAge)
		}
	}
	if p := v.Config.RequiredPolicy.Nationality; p != nil {
		if !signals.HasTargetNationality || signals.TargetNationality != *p {
			return gateErr(KindPolicyViolation, "required nationality=%d, proof carries target_nationality=%d", *p, signals.TargetNationality)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gate 5: request-timestamp window
// ---------------------------------------------------------------------------

func (v *Verifier) gateTimestampWindow(requestTimestampMs int64, now time.Time) *GateError {
	if v.Config.MaxRequestAgeMs <= 0 {
		return nil
	}
	if requestTimestampMs <= 0 {
		return gateErr(KindTimestampWindow, "request_timestamp_ms is missing or non-positive")
	}
	delta := now.UnixMilli() - requestTimestampMs
	if delta < 0 {
		delta = -delta
	}
	if delta > v.Config.MaxRequestAgeMs {
		return gateErr(KindTimestampWindow, "request_timestamp_ms is %dms outside the %dms window", delta, v.Config.MaxRequestAgeMs)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gate 6: challenge consume
// ---------------------------------------------------------------------------

func (v *Verifier) gateChallengeConsume(nonce string, requestTimestampMs int64, now time.Time) *GateError {
	if v.ChallengeStore == nil {
		return nil
	}
	challenge, err := v.ChallengeStore.Consume(nonce, now.UnixMilli())
	if err != nil {
		return gateErr(KindUnknownOrExpiredChallenge, "%v", err)
	}
	if challenge.RequestTimestampMs != requestTimestampMs {
		return gateErr(KindChallengeTimestampMismatch, "challenge timestamp %d does not match submitted timestamp %d", challenge.RequestTimestampMs, requestTimestampMs)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gates 7-8: nonce/timestamp-in-proof binding
// ---------------------------------------------------------------------------

func (v *Verifier) gateNonceBind(envelopeNonce, outerNonce string) *GateError {
	if envelopeNonce != outerNonce {
		return gateErr(KindNonceMismatch, "proof's embedded nonce does not match the envelope nonce")
	}
	return nil
}

func (v *Verifier) gateTimestampBind(envelopeTimestampMs, outerTimestampMs int64) *GateError {
	if envelopeTimestampMs != outerTimestampMs {
		return gateErr(KindTimestampMismatch, "proof's embedded timestamp does not match the envelope timestamp")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gate 9: replay
// ---------------------------------------------------------------------------

func (v *Verifier) gateReplay(nonce string, now time.Time) *GateError {
	if v.NonceStore == nil {
		return nil
	}
	if v.NonceStore.Has(nonce, now) {
		return gateErr(KindReplay, "nonce %q has already been used", nonce)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Gate 10: revocation
// ---------------------------------------------------------------------------

func (v *Verifier) gateRevocation(ctx context.Context, signals claimSignals) (*GateError, *string, error) {
	if v.Revocation == nil {
		return nil, nil, nil
	}
	credHash, err := field.FromDecimalString(signals.CredentialHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verifier: revocation gate: %w", err)
	}
	revoked, err := v.Revocation.Contains(ctx, credHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verifier: revocation gate: %w", err)
	}
	if revoked {
		return gateErr(KindRevoked, "credential_hash is present in the revocation store"), nil, nil
	}
	if !signals.HasMerkleRoot {
		return nil, nil, nil
	}
	root, err := v.Revocation.CurrentRoot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("verifier: revocation gate: current root: %w", err)
	}
	rootStr := root.String()
	return nil, &rootStr, nil
}

// ---------------------------------------------------------------------------
// Gate 11: SNARK verify
// ---------------------------------------------------------------------------

func (v *Verifier) gateSnarkVerify(variant proof.Variant, env proof.Envelope, expectedMerkleRoot *string) (*GateError, error) {
	vk, ok := v.VerifyingKeys[variant]
	if !ok {
		return nil, fmt.Errorf("verifier: no verifying key configured for variant %q", variant)
	}
	ok2, err := snarkverify.Verify(variant, env, vk, expectedMerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("verifier: snark verify: %w", err)
	}
	if !ok2 {
		return gateErr(KindSnarkVerifyFailed, "SNARK proof did not verify"), nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Issuer-bits gate (signed variants only, spec §4.7 "after gate 7")
// ---------------------------------------------------------------------------

func (v *Verifier) gateIssuerBits(resp ProofResponse, signals claimSignals, now time.Time) *GateError {
	if !signals.HasIssuerBits {
		return nil
	}
	rec, err := v.IssuerRegistry.GetIssuer(resp.IssuerName, now)
	if err != nil {
		return gateErr(KindIssuerUnknown, "issuer %q is not registered or not currently active", resp.IssuerName)
	}
	expected := pubKeyBits(rec.PublicKey)
	if err := snarkverify.VerifyIssuerBits(signals.IssuerBits, expected); err != nil {
		return gateErr(KindUntrustedIssuer, "%v", err)
	}
	return nil
}

func pubKeyBits(pub []byte) [256]int {
	var bits [256]int
	for i := 0; i < len(pub) && i < 32; i++ {
		b := pub[i]
		for bit := 0; bit < 8; bit++ {
			bits[i*8+bit] = int((b >> uint(7-bit)) & 1)
		}
	}
	return bits
}

// ---------------------------------------------------------------------------
// Public entries
// ---------------------------------------------------------------------------

func (v *Verifier) emit(variant proof.Variant, verified bool, start time.Time, clientID string, errKind Kind) {
	if v.Telemetry == nil {
		return
	}
	v.Telemetry.EmitVerification(telemetry.Event{
		Timestamp:        start,
		ClaimType:        claimTypeLabel(variant),
		Verified:         verified,
		VerificationTime: v.clock().Sub(start),
		ClientIdentifier: clientID,
		Error:            string(errKind),
	})
}

// VerifyProof runs the full gate 1-11 pipeline (spec §4.7), rejecting at the first failing
// gate. clientID and protocolVersion are out-of-band request attributes (HTTP header /
// caller identity); resp carries everything bound into the proof itself.
func (v *Verifier) VerifyProof(ctx context.Context, resp ProofResponse, clientID, protocolVersion string) (Result, error) {
	return v.verify(ctx, resp, clientID, protocolVersion, true)
}

// VerifySignedProof runs the same pipeline but skips gate 3 (the issuer signature is
// checked inside the SNARK circuit itself) and inserts the issuer-bits check after gate 7,
// per spec §4.7.
func (v *Verifier) VerifySignedProof(ctx context.Context, resp ProofResponse, clientID, protocolVersion string) (Result, error) {
	return v.verify(ctx, resp, clientID, protocolVersion, false)
}

func (v *Verifier) verify(ctx context.Context, resp ProofResponse, clientID, protocolVersion string, requireGate3 bool) (Result, error) {
	start := v.clock()
	now := start

	if gerr := v.gateRateLimit(clientID, now); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}
	if gerr := v.gateProtocolVersion(protocolVersion); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}

	signals, err := extractSignals(resp.Variant, resp.Envelope)
	if err != nil {
		v.emit(resp.Variant, false, start, clientID, "")
		return Result{}, err
	}

	if requireGate3 {
		if gerr := v.gateSignedCredentialBinding(resp, signals, now); gerr != nil {
			v.emit(resp.Variant, false, start, clientID, gerr.Kind)
			return Result{}, gerr
		}
	}

	if gerr := v.gatePolicy(signals); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}
	if gerr := v.gateTimestampWindow(resp.RequestTimestampMs, now); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}
	if gerr := v.gateChallengeConsume(resp.Nonce, resp.RequestTimestampMs, now); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}
	if gerr := v.gateNonceBind(signals.Nonce, resp.Nonce); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}

	if !requireGate3 {
		if gerr := v.gateIssuerBits(resp, signals, now); gerr != nil {
			v.emit(resp.Variant, false, start, clientID, gerr.Kind)
			return Result{}, gerr
		}
	}

	if gerr := v.gateTimestampBind(signals.RequestTimestampMs, resp.RequestTimestampMs); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}
	if gerr := v.gateReplay(resp.Nonce, now); gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}

	gerr, expectedMerkleRoot, err := v.gateRevocation(ctx, signals)
	if err != nil {
		v.emit(resp.Variant, false, start, clientID, "")
		return Result{}, err
	}
	if gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}

	gerr, err = v.gateSnarkVerify(resp.Variant, resp.Envelope, expectedMerkleRoot)
	if err != nil {
		v.emit(resp.Variant, false, start, clientID, "")
		return Result{}, err
	}
	if gerr != nil {
		v.emit(resp.Variant, false, start, clientID, gerr.Kind)
		return Result{}, gerr
	}

	if v.NonceStore != nil {
		v.NonceStore.Add(resp.Nonce, now)
	}

	result := Result{Verified: true, ClaimType: claimTypeLabel(resp.Variant)}
	if signals.HasMinAge {
		ma := signals.MinAge
		result.MinAge = &ma
	}
	if signals.HasTargetNationality {
		tn := signals.TargetNationality
		result.TargetNationality = &tn
	}
	v.emit(resp.Variant, true, start, clientID, "")
	return result, nil
}

// ---------------------------------------------------------------------------
// Scenario bundle verification (spec §4.6, §4.7 "Scenario bundle verification")
// ---------------------------------------------------------------------------

// BundleItem is one labeled claim within a VerifyScenarioBundle call.
type BundleItem struct {
	Label    string
	Response ProofResponse
}

// VerifyScenarioBundle verifies a set of claims that must all share the same outer nonce,
// timestamp, and credential id; the shared challenge is consumed exactly once at bundle
// granularity, not per claim (spec §4.7).
func (v *Verifier) VerifyScenarioBundle(ctx context.Context, items []BundleItem, clientID, protocolVersion string) (scenario.AggregateResult, error) {
	if len(items) == 0 {
		return scenario.AggregateResult{}, gateErr(KindBundleInconsistent, "scenario bundle has no claims")
	}

	first := items[0].Response
	for _, it := range items[1:] {
		r := it.Response
		if r.Nonce != first.Nonce || r.RequestTimestampMs != first.RequestTimestampMs || r.CredentialID != first.CredentialID {
			return scenario.AggregateResult{}, gateErr(KindBundleInconsistent, "claim %q does not share the bundle's nonce/timestamp/credential_id", it.Label)
		}
	}

	start := v.clock()
	now := start

	if gerr := v.gateRateLimit(clientID, now); gerr != nil {
		return scenario.AggregateResult{}, gerr
	}
	if gerr := v.gateProtocolVersion(protocolVersion); gerr != nil {
		return scenario.AggregateResult{}, gerr
	}
	if gerr := v.gateTimestampWindow(first.RequestTimestampMs, now); gerr != nil {
		return scenario.AggregateResult{}, gerr
	}
	if gerr := v.gateChallengeConsume(first.Nonce, first.RequestTimestampMs, now); gerr != nil {
		return scenario.AggregateResult{}, gerr
	}
	if gerr := v.gateReplay(first.Nonce, now); gerr != nil {
		return scenario.AggregateResult{}, gerr
	}

	results := make([]scenario.ClaimResult, len(items))
	for i, it := range items {
		r := it.Response
		signals, err := extractSignals(r.Variant, r.Envelope)
		if err != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: err.Error()}
			continue
		}
		if gerr := v.gatePolicy(signals); gerr != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: string(gerr.Kind)}
			continue
		}
		if gerr := v.gateNonceBind(signals.Nonce, r.Nonce); gerr != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: string(gerr.Kind)}
			continue
		}
		if gerr := v.gateTimestampBind(signals.RequestTimestampMs, r.RequestTimestampMs); gerr != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: string(gerr.Kind)}
			continue
		}
		gerr, expectedMerkleRoot, err := v.gateRevocation(ctx, signals)
		if err != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: err.Error()}
			continue
		}
		if gerr != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: string(gerr.Kind)}
			continue
		}
		gerr, err = v.gateSnarkVerify(r.Variant, r.Envelope, expectedMerkleRoot)
		if err != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: err.Error()}
			continue
		}
		if gerr != nil {
			results[i] = scenario.ClaimResult{Label: it.Label, Verified: false, Error: string(gerr.Kind)}
			continue
		}
		results[i] = scenario.ClaimResult{Label: it.Label, Verified: true}
	}

	if v.NonceStore != nil {
		v.NonceStore.Add(first.Nonce, now)
	}

	return scenario.Aggregate(results), nil
}

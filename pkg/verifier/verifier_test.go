package verifier

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/zkidlabs/verifier/pkg/credential"
	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/issuer"
	"github.com/zkidlabs/verifier/pkg/proof"
	"github.com/zkidlabs/verifier/pkg/signature"
	"github.com/zkidlabs/verifier/pkg/store"
)

func credentialFor(id, commitment string) credential.Credential {
	return credential.Credential{ID: id, Commitment: commitment, CreatedAt: time.Unix(0, 0)}
}

func placeholderProofFields() (pa [2]string, pb [2][2]string, pc [2]string) {
	return [2]string{"1", "1"}, [2][2]string{{"1", "1"}, {"1", "1"}}, [2]string{"1", "1"}
}

func ageEnvelope(t *testing.T, currentYear, minAge int64, credHash, nonce string, tsMs int64) proof.Envelope {
	t.Helper()
	pa, pb, pc := placeholderProofFields()
	raw, err := proof.BuildPublicSignals(currentYear, minAge, credHash, nonce, tsMs)
	if err != nil {
		t.Fatalf("BuildPublicSignals: %v", err)
	}
	return proof.Envelope{ProofType: proof.VariantAge, PiA: pa, PiB: pb, PiC: pc, Protocol: "groth16", Curve: "bn254", PublicSignals: raw}
}

func ageSignedEnvelope(t *testing.T, minAge int64, credHash, nonce string, tsMs int64, bits [256]int) proof.Envelope {
	t.Helper()
	pa, pb, pc := placeholderProofFields()
	currentYear := int64(time.Now().Year())
	values := []interface{}{currentYear, minAge, credHash, nonce, tsMs}
	for _, b := range bits {
		values = append(values, int64(b))
	}
	raw, err := proof.BuildPublicSignals(values...)
	if err != nil {
		t.Fatalf("BuildPublicSignals: %v", err)
	}
	return proof.Envelope{ProofType: proof.VariantAgeSigned, PiA: pa, PiB: pb, PiC: pc, Protocol: "groth16", Curve: "bn254", PublicSignals: raw}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGateOrderRateLimitFiresBeforeProtocolVersion(t *testing.T) {
	v := &Verifier{
		Config:      Config{ProtocolVersionPolicy: ProtocolVersionStrict, ServerProtocolVersion: "zk-id/1.0"},
		RateLimiter: store.NewRateLimiter(0, time.Minute),
	}
	v.now = fixedClock(time.Now())

	_, err := v.VerifyProof(context.Background(), ProofResponse{Variant: proof.VariantAge}, "client-1", "")
	gerr, ok := err.(*GateError)
	if !ok {
		t.Fatalf("expected *GateError, got %T (%v)", err, err)
	}
	if gerr.Kind != KindRateLimitExceeded {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED before protocol version check, got %s", gerr.Kind)
	}
}

func TestProtocolVersionStrictRejectsMissing(t *testing.T) {
	v := &Verifier{Config: Config{ProtocolVersionPolicy: ProtocolVersionStrict, ServerProtocolVersion: "zk-id/1.0"}}
	v.now = fixedClock(time.Now())

	_, err := v.VerifyProof(context.Background(), ProofResponse{Variant: proof.VariantAge}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindProtocolVersionMissing {
		t.Fatalf("expected PROTOCOL_VERSION_MISSING, got %v", err)
	}
}

func TestProtocolVersionIncompatibleMajor(t *testing.T) {
	v := &Verifier{Config: Config{ProtocolVersionPolicy: ProtocolVersionStrict, ServerProtocolVersion: "zk-id/1.0"}}
	v.now = fixedClock(time.Now())

	_, err := v.VerifyProof(context.Background(), ProofResponse{Variant: proof.VariantAge}, "c", "zk-id/2.0")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindProtocolVersionIncompatible {
		t.Fatalf("expected PROTOCOL_VERSION_INCOMPATIBLE, got %v", err)
	}
}

func TestProtocolVersionWarnNeverRejects(t *testing.T) {
	v := &Verifier{Config: Config{ProtocolVersionPolicy: ProtocolVersionWarn, ServerProtocolVersion: "zk-id/1.0", RequireSignedCredentials: true}}
	now := time.Now()
	v.now = fixedClock(now)

	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", now.UnixMilli())
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "zk-id/9.9")
	gerr, ok := err.(*GateError)
	if !ok {
		t.Fatalf("expected a *GateError from a later gate, got %v", err)
	}
	if gerr.Kind == KindProtocolVersionIncompatible || gerr.Kind == KindProtocolVersionMissing {
		t.Fatalf("warn policy must never reject on protocol version, got %s", gerr.Kind)
	}
	if gerr.Kind != KindMissingSignedCredential {
		t.Fatalf("expected MISSING_SIGNED_CREDENTIAL from the next gate, got %s", gerr.Kind)
	}
}

func TestMissingSignedCredentialRejected(t *testing.T) {
	v := &Verifier{Config: Config{RequireSignedCredentials: true}}
	v.now = fixedClock(time.Now())
	now := time.Now()
	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", now.UnixMilli())

	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindMissingSignedCredential {
		t.Fatalf("expected MISSING_SIGNED_CREDENTIAL, got %v", err)
	}
}

func genIssuerKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return pub, priv
}

func TestSignedCredentialBindingIssuerUnknown(t *testing.T) {
	reg := issuer.NewRegistry()
	v := &Verifier{Config: Config{RequireSignedCredentials: true}, IssuerRegistry: reg}
	v.now = fixedClock(time.Now())
	now := time.Now()
	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", now.UnixMilli())

	_, priv := genIssuerKey(t)
	sc, err := signature.Sign(credentialFor("cred-1", "12345"), "gov.example", priv, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, verr := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, SignedCredential: &sc, CredentialID: "cred-1",
		Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := verr.(*GateError)
	if !ok || gerr.Kind != KindIssuerUnknown {
		t.Fatalf("expected ISSUER_UNKNOWN, got %v", verr)
	}
}

func TestSignedCredentialBindingCommitmentMismatch(t *testing.T) {
	reg := issuer.NewRegistry()
	pub, priv := genIssuerKey(t)
	now := time.Now()
	if err := reg.Upsert(issuer.Record{Issuer: "gov.example", PublicKey: pub, Status: issuer.StatusActive}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	v := &Verifier{Config: Config{RequireSignedCredentials: true}, IssuerRegistry: reg}
	v.now = fixedClock(now)

	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", now.UnixMilli())
	sc, err := signature.Sign(credentialFor("cred-1", "99999"), "gov.example", priv, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, verr := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, SignedCredential: &sc, CredentialID: "cred-1",
		Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := verr.(*GateError)
	if !ok || gerr.Kind != KindCommitmentMismatch {
		t.Fatalf("expected COMMITMENT_MISMATCH, got %v", verr)
	}
}

func TestPolicyViolation(t *testing.T) {
	minAge := int64(21)
	v := &Verifier{Config: Config{RequiredPolicy: RequiredPolicy{MinAge: &minAge}}}
	now := time.Now()
	v.now = fixedClock(now)

	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", now.UnixMilli())
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindPolicyViolation {
		t.Fatalf("expected POLICY_VIOLATION, got %v", err)
	}
}

func TestTimestampWindowViolation(t *testing.T) {
	v := &Verifier{Config: Config{MaxRequestAgeMs: 1000}}
	now := time.Now()
	v.now = fixedClock(now)

	staleMs := now.Add(-1 * time.Hour).UnixMilli()
	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", staleMs)
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "nonce-1", RequestTimestampMs: staleMs,
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindTimestampWindow {
		t.Fatalf("expected TIMESTAMP_WINDOW_VIOLATION, got %v", err)
	}
}

func TestChallengeConsumeUnknownNonce(t *testing.T) {
	v := &Verifier{Config: Config{}, ChallengeStore: store.NewChallengeStore(time.Minute)}
	now := time.Now()
	v.now = fixedClock(now)

	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "unknown-nonce", now.UnixMilli())
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "unknown-nonce", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindUnknownOrExpiredChallenge {
		t.Fatalf("expected UNKNOWN_OR_EXPIRED_CHALLENGE, got %v", err)
	}
}

func TestChallengeTimestampMismatch(t *testing.T) {
	cs := store.NewChallengeStore(time.Minute)
	now := time.Now()
	issued, err := cs.Issue(now.UnixMilli())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	v := &Verifier{Config: Config{}, ChallengeStore: cs}
	v.now = fixedClock(now)

	otherTs := now.Add(time.Second).UnixMilli()
	env := ageEnvelope(t, int64(now.Year()), 18, "12345", issued.Nonce, otherTs)
	_, verr := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: issued.Nonce, RequestTimestampMs: otherTs,
	}, "c", "")
	gerr, ok := verr.(*GateError)
	if !ok || gerr.Kind != KindChallengeTimestampMismatch {
		t.Fatalf("expected CHALLENGE_TIMESTAMP_MISMATCH, got %v", verr)
	}
}

func TestNonceBindMismatch(t *testing.T) {
	v := &Verifier{}
	now := time.Now()
	v.now = fixedClock(now)

	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "envelope-nonce", now.UnixMilli())
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "outer-nonce", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindNonceMismatch {
		t.Fatalf("expected NONCE_MISMATCH, got %v", err)
	}
}

func TestTimestampBindMismatch(t *testing.T) {
	v := &Verifier{}
	now := time.Now()
	v.now = fixedClock(now)

	embeddedTs := now.UnixMilli()
	outerTs := now.Add(time.Second).UnixMilli()
	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", embeddedTs)
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "nonce-1", RequestTimestampMs: outerTs,
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindTimestampMismatch {
		t.Fatalf("expected TIMESTAMP_MISMATCH, got %v", err)
	}
}

func TestReplayDetected(t *testing.T) {
	ns := store.NewNonceStore(time.Minute)
	now := time.Now()
	ns.Add("nonce-1", now)

	v := &Verifier{NonceStore: ns}
	v.now = fixedClock(now)

	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", now.UnixMilli())
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindReplay {
		t.Fatalf("expected REPLAY, got %v", err)
	}
}

type fakeRevocationChecker struct {
	revoked map[string]bool
	root    field.Element
}

func (f fakeRevocationChecker) Contains(_ context.Context, c field.Element) (bool, error) {
	return f.revoked[c.String()], nil
}

func (f fakeRevocationChecker) CurrentRoot(_ context.Context) (field.Element, error) {
	return f.root, nil
}

func TestRevocationHit(t *testing.T) {
	now := time.Now()
	checker := fakeRevocationChecker{revoked: map[string]bool{"12345": true}}
	v := &Verifier{Revocation: checker}
	v.now = fixedClock(now)

	env := ageEnvelope(t, int64(now.Year()), 18, "12345", "nonce-1", now.UnixMilli())
	_, err := v.VerifyProof(context.Background(), ProofResponse{
		Variant: proof.VariantAge, Envelope: env, Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindRevoked {
		t.Fatalf("expected REVOKED, got %v", err)
	}
}

func TestVerifySignedProofIssuerBitsMismatch(t *testing.T) {
	reg := issuer.NewRegistry()
	pub, _ := genIssuerKey(t)
	now := time.Now()
	if err := reg.Upsert(issuer.Record{Issuer: "gov.example", PublicKey: pub, Status: issuer.StatusActive}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	v := &Verifier{IssuerRegistry: reg}
	v.now = fixedClock(now)

	var wrongBits [256]int
	wrongBits[5] = 1
	env := ageSignedEnvelope(t, 18, "12345", "nonce-1", now.UnixMilli(), wrongBits)
	_, err := v.VerifySignedProof(context.Background(), ProofResponse{
		Variant: proof.VariantAgeSigned, Envelope: env, IssuerName: "gov.example",
		Nonce: "nonce-1", RequestTimestampMs: now.UnixMilli(),
	}, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindUntrustedIssuer {
		t.Fatalf("expected UNTRUSTED_ISSUER, got %v", err)
	}
}

func TestVerifyScenarioBundleInconsistentRejected(t *testing.T) {
	v := &Verifier{}
	now := time.Now()
	v.now = fixedClock(now)

	envA := ageEnvelope(t, int64(now.Year()), 18, "hashA", "shared-nonce", now.UnixMilli())
	envB := ageEnvelope(t, int64(now.Year()), 21, "hashB", "different-nonce", now.UnixMilli())

	items := []BundleItem{
		{Label: "claimA", Response: ProofResponse{Variant: proof.VariantAge, Envelope: envA, Nonce: "shared-nonce", RequestTimestampMs: now.UnixMilli(), CredentialID: "cred-1"}},
		{Label: "claimB", Response: ProofResponse{Variant: proof.VariantAge, Envelope: envB, Nonce: "different-nonce", RequestTimestampMs: now.UnixMilli(), CredentialID: "cred-1"}},
	}

	_, err := v.VerifyScenarioBundle(context.Background(), items, "c", "")
	gerr, ok := err.(*GateError)
	if !ok || gerr.Kind != KindBundleInconsistent {
		t.Fatalf("expected BUNDLE_INCONSISTENT, got %v", err)
	}
}

func TestParseProtocolVersion(t *testing.T) {
	major, minor, draft, err := parseProtocolVersion("zk-id/1.2")
	if err != nil || major != 1 || minor != 2 || draft {
		t.Fatalf("unexpected parse result: %d %d %v %v", major, minor, draft, err)
	}
	major, minor, draft, err = parseProtocolVersion("zk-id/3.0-draft")
	if err != nil || major != 3 || minor != 0 || !draft {
		t.Fatalf("unexpected draft parse result: %d %d %v %v", major, minor, draft, err)
	}
	if _, _, _, err := parseProtocolVersion("not-a-version"); err == nil {
		t.Fatal("expected an error for a malformed protocol version")
	}
}

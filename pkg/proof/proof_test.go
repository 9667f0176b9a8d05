package proof

import (
	"testing"
)

func buildEnvelope(t *testing.T, variant Variant, values ...interface{}) Envelope {
	t.Helper()
	signals, err := BuildPublicSignals(values...)
	if err != nil {
		t.Fatalf("BuildPublicSignals: %v", err)
	}
	return Envelope{
		ProofType:     variant,
		PiA:           [2]string{"1", "2"},
		PiB:           [2][2]string{{"1", "2"}, {"3", "4"}},
		PiC:           [2]string{"5", "6"},
		Protocol:      "groth16",
		Curve:         "bn254",
		PublicSignals: signals,
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	env := buildEnvelope(t, VariantAge, int64(2024), int64(18), "111", "222", int64(333))
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	variant, decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if variant != VariantAge {
		t.Fatalf("expected variant %q, got %q", VariantAge, variant)
	}
	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Encode(decoded): %v", err)
	}
	if string(reencoded) != string(data) {
		t.Fatalf("expected Encode(Decode(x)) == x\nwant %s\ngot  %s", data, reencoded)
	}
}

func TestDecodeRejectsUnknownProofType(t *testing.T) {
	_, _, err := Decode([]byte(`{"proof_type":"bogus"}`))
	if err == nil {
		t.Fatal("expected an error for an unknown proof_type")
	}
}

func TestAgeSignalsFrom(t *testing.T) {
	env := buildEnvelope(t, VariantAge, int64(2024), int64(21), "111", "222", int64(333))
	signals, err := AgeSignalsFrom(env)
	if err != nil {
		t.Fatalf("AgeSignalsFrom: %v", err)
	}
	if signals.CurrentYear != 2024 || signals.MinAge != 21 || signals.CredentialHash != "111" ||
		signals.Nonce != "222" || signals.RequestTimestampMs != 333 {
		t.Fatalf("unexpected signals: %+v", signals)
	}
}

func TestAgeSignalsFromRejectsTooFewSignals(t *testing.T) {
	env := buildEnvelope(t, VariantAge, int64(2024), int64(21))
	if _, err := AgeSignalsFrom(env); err == nil {
		t.Fatal("expected an error for a truncated age envelope")
	}
}

func TestNationalitySignalsFrom(t *testing.T) {
	env := buildEnvelope(t, VariantNationality, int64(840), "111", "222", int64(333))
	signals, err := NationalitySignalsFrom(env)
	if err != nil {
		t.Fatalf("NationalitySignalsFrom: %v", err)
	}
	if signals.TargetNationality != 840 {
		t.Fatalf("expected target_nationality 840, got %d", signals.TargetNationality)
	}
}

func TestAgeRevocableSignalsFrom(t *testing.T) {
	env := buildEnvelope(t, VariantAgeRevocable, int64(2024), int64(21), "111", "999", "222", int64(333))
	signals, err := AgeRevocableSignalsFrom(env)
	if err != nil {
		t.Fatalf("AgeRevocableSignalsFrom: %v", err)
	}
	if signals.MerkleRoot != "999" {
		t.Fatalf("expected merkle_root 999, got %s", signals.MerkleRoot)
	}
}

func TestAgeSignedSignalsFromRoundTripsIssuerBits(t *testing.T) {
	values := []interface{}{int64(2024), int64(21), "111", "222", int64(333)}
	bits := make([]int64, issuerPublicKeyBitLength)
	bits[10] = 1
	for _, b := range bits {
		values = append(values, b)
	}
	env := buildEnvelope(t, VariantAgeSigned, values...)

	signals, err := AgeSignedSignalsFrom(env)
	if err != nil {
		t.Fatalf("AgeSignedSignalsFrom: %v", err)
	}
	if signals.IssuerPublicKeyBits[10] != 1 {
		t.Fatalf("expected bit 10 set, got %v", signals.IssuerPublicKeyBits[10])
	}
	for i, b := range signals.IssuerPublicKeyBits {
		if i != 10 && b != 0 {
			t.Fatalf("expected only bit 10 set, found bit %d = %d", i, b)
		}
	}
}

func TestIssuerBitsFromRejectsNonBinaryValue(t *testing.T) {
	values := []interface{}{int64(2024), int64(21), "111", "222", int64(333)}
	bits := make([]interface{}, issuerPublicKeyBitLength)
	for i := range bits {
		bits[i] = int64(0)
	}
	bits[0] = int64(2)
	env := buildEnvelope(t, VariantAgeSigned, append(values, bits...)...)

	if _, err := AgeSignedSignalsFrom(env); err == nil {
		t.Fatal("expected an error for a non-binary issuer bit")
	}
}

func TestSignalStrings(t *testing.T) {
	env := buildEnvelope(t, VariantAge, int64(2024), int64(21), "111", "222", int64(333))
	strs, err := SignalStrings(env)
	if err != nil {
		t.Fatalf("SignalStrings: %v", err)
	}
	want := []string{"2024", "21", "111", "222", "333"}
	if len(strs) != len(want) {
		t.Fatalf("expected %d signals, got %d", len(want), len(strs))
	}
	for i := range want {
		if strs[i] != want[i] {
			t.Fatalf("signal %d: expected %q, got %q", i, want[i], strs[i])
		}
	}
}

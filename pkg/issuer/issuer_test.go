package issuer

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"
)

func genKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return pub
}

func TestGetIssuerNotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetIssuer("gov.example", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertAndGetIssuer(t *testing.T) {
	r := NewRegistry()
	pub := genKey(t)
	rec := Record{Issuer: "gov.example", PublicKey: pub, Status: StatusActive}
	if err := r.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := r.GetIssuer("gov.example", time.Now())
	if err != nil {
		t.Fatalf("GetIssuer: %v", err)
	}
	if !got.PublicKey.Equal(pub) {
		t.Fatal("expected returned record to carry the upserted public key")
	}
}

func TestValidityWindowGating(t *testing.T) {
	r := NewRegistry()
	pub := genKey(t)
	from := time.Now().Add(time.Hour)
	rec := Record{Issuer: "gov.example", PublicKey: pub, Status: StatusActive, ValidFrom: &from}
	if err := r.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := r.GetIssuer("gov.example", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-yet-valid record to be absent, got %v", err)
	}
	if _, err := r.GetIssuer("gov.example", from.Add(time.Minute)); err != nil {
		t.Fatalf("expected record valid after valid_from, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	r := NewRegistry()
	pub := genKey(t)
	rec := Record{Issuer: "gov.example", PublicKey: pub, Status: StatusActive}
	if err := r.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec.Status = StatusSuspended
	if err := r.Upsert(rec); err != nil {
		t.Fatalf("active->suspended: %v", err)
	}
	rec.Status = StatusActive
	if err := r.Upsert(rec); err != nil {
		t.Fatalf("suspended->active: %v", err)
	}
	rec.Status = StatusRevoked
	if err := r.Upsert(rec); err != nil {
		t.Fatalf("active->revoked: %v", err)
	}
	rec.Status = StatusActive
	if err := r.Upsert(rec); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected revoked to be terminal, got %v", err)
	}
}

func TestKeyRotationNonOverlapping(t *testing.T) {
	r := NewRegistry()
	pub1 := genKey(t)
	pub2 := genKey(t)

	t1 := time.Now()
	t2 := t1.Add(24 * time.Hour)

	first := Record{Issuer: "gov.example", PublicKey: pub1, Status: StatusActive, ValidTo: &t2}
	if err := r.Upsert(first); err != nil {
		t.Fatalf("Upsert first key: %v", err)
	}

	second := Record{Issuer: "gov.example", PublicKey: pub2, Status: StatusActive, ValidFrom: &t2}
	if err := r.Upsert(second); err != nil {
		t.Fatalf("Upsert rotated key: %v", err)
	}

	records := r.ListRecords("gov.example")
	if len(records) != 2 {
		t.Fatalf("expected 2 records after rotation, got %d", len(records))
	}
}

func TestKeyRotationOverlapRejected(t *testing.T) {
	r := NewRegistry()
	pub1 := genKey(t)
	pub2 := genKey(t)

	first := Record{Issuer: "gov.example", PublicKey: pub1, Status: StatusActive}
	if err := r.Upsert(first); err != nil {
		t.Fatalf("Upsert first key: %v", err)
	}

	second := Record{Issuer: "gov.example", PublicKey: pub2, Status: StatusActive}
	if err := r.Upsert(second); !errors.Is(err, ErrOverlappingValidity) {
		t.Fatalf("expected ErrOverlappingValidity for unbounded-overlapping records, got %v", err)
	}
}

package admin

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/zkidlabs/verifier/pkg/audit"
	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/issuer"
	"github.com/zkidlabs/verifier/pkg/revocation/smt"
)

func TestAuditedIssuerRegistryRecordsUpsert(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	log := audit.NewRingLog(10)
	reg := AuditedIssuerRegistry{Registry: issuer.NewRegistry(), Log: log}

	rec := issuer.Record{Issuer: "issuer-1", PublicKey: pub, Status: issuer.StatusActive}
	if err := reg.Upsert(context.Background(), "operator-1", rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	entries, err := log.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionIssuerUpsert {
		t.Fatalf("expected ActionIssuerUpsert, got %s", entries[0].Action)
	}
	if entries[0].Actor != "operator-1" || entries[0].Target != "issuer-1" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestAuditedIssuerRegistryLogsRevokeAsDistinctAction(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	log := audit.NewRingLog(10)
	reg := AuditedIssuerRegistry{Registry: issuer.NewRegistry(), Log: log}
	ctx := context.Background()

	active := issuer.Record{Issuer: "issuer-1", PublicKey: pub, Status: issuer.StatusActive}
	if err := reg.Upsert(ctx, "operator-1", active); err != nil {
		t.Fatalf("Upsert(active): %v", err)
	}
	revoked := active
	revoked.Status = issuer.StatusRevoked
	if err := reg.Upsert(ctx, "operator-1", revoked); err != nil {
		t.Fatalf("Upsert(revoked): %v", err)
	}

	entries, _ := log.Recent(ctx, 10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionIssuerRevoke {
		t.Fatalf("expected most recent entry to be ActionIssuerRevoke, got %s", entries[0].Action)
	}
}

func TestAuditedIssuerRegistryDoesNotLogFailedUpsert(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	log := audit.NewRingLog(10)
	reg := AuditedIssuerRegistry{Registry: issuer.NewRegistry(), Log: log}
	ctx := context.Background()

	rec := issuer.Record{Issuer: "issuer-1", PublicKey: pub, Status: issuer.StatusRevoked}
	if err := reg.Upsert(ctx, "operator-1", rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Revoked is terminal; any further transition is rejected and must not be logged.
	if err := reg.Upsert(ctx, "operator-1", issuer.Record{Issuer: "issuer-1", PublicKey: pub, Status: issuer.StatusActive}); err == nil {
		t.Fatal("expected an error reviving a revoked record")
	}

	entries, _ := log.Recent(ctx, 10)
	if len(entries) != 1 {
		t.Fatalf("expected only the original upsert to be logged, got %d entries", len(entries))
	}
}

func TestAuditedRevocationRecordsAddAndRemove(t *testing.T) {
	tree, err := smt.New(8)
	if err != nil {
		t.Fatalf("smt.New: %v", err)
	}
	log := audit.NewRingLog(10)
	rev := AuditedRevocation{Tree: SMTMutator{Tree: tree}, Log: log}
	ctx := context.Background()
	commitment := field.FromUint64(42)

	if err := rev.Add(ctx, "operator-1", commitment); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !tree.Contains(commitment) {
		t.Fatal("expected commitment to be present in the tree after Add")
	}
	if err := rev.Remove(ctx, "operator-1", commitment); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if tree.Contains(commitment) {
		t.Fatal("expected commitment to be absent from the tree after Remove")
	}

	entries, _ := log.Recent(ctx, 10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionRevocationRemove || entries[1].Action != audit.ActionRevocationAdd {
		t.Fatalf("unexpected entry order: %+v", entries)
	}
	if entries[0].Target != commitment.String() {
		t.Fatalf("expected target %s, got %s", commitment.String(), entries[0].Target)
	}
}

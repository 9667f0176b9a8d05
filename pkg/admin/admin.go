// Package admin wraps the issuer registry and revocation trees with append-only audit
// logging, giving pkg/audit a real caller: spec §2's component table lists an "Audit log"
// responsible for "Append-only record of issuer/revocation actions", but neither
// pkg/issuer nor pkg/revocation know anything about auditing themselves (keeping that
// concern out of their own mutation paths, the same separation pkg/verifier draws between
// gate logic and pkg/telemetry).
//
// Grounded on pkg/verifier/adapters.go's checker-interface-plus-two-adapters shape: this
// package defines a RevocationMutator capability interface and SMT/indexed adapters to it,
// mirroring RevocationChecker/SMTChecker/IndexedChecker one level up the same trees.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/zkidlabs/verifier/pkg/audit"
	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/issuer"
	"github.com/zkidlabs/verifier/pkg/revocation/indexed"
	"github.com/zkidlabs/verifier/pkg/revocation/smt"
)

// RevocationMutator is the capability AuditedRevocation needs from either tree
// implementation; both are synchronous enough for SMTMutator and I/O-bound enough for
// IndexedMutator to share this ctx-taking shape.
type RevocationMutator interface {
	Add(ctx context.Context, commitment field.Element) error
	Remove(ctx context.Context, commitment field.Element) error
}

var (
	_ RevocationMutator = SMTMutator{}
	_ RevocationMutator = IndexedMutator{}
)

// SMTMutator adapts an in-memory pkg/revocation/smt.Tree to RevocationMutator. The tree's
// own methods are synchronous and context-free; ctx is accepted for interface conformance
// and ignored.
type SMTMutator struct {
	Tree *smt.Tree
}

func (m SMTMutator) Add(_ context.Context, commitment field.Element) error {
	return m.Tree.Add(commitment)
}

func (m SMTMutator) Remove(_ context.Context, commitment field.Element) error {
	return m.Tree.Remove(commitment)
}

// IndexedMutator adapts a Postgres-backed pkg/revocation/indexed.Tree to RevocationMutator.
type IndexedMutator struct {
	Tree *indexed.Tree
}

func (m IndexedMutator) Add(ctx context.Context, commitment field.Element) error {
	return m.Tree.Add(ctx, commitment)
}

func (m IndexedMutator) Remove(ctx context.Context, commitment field.Element) error {
	return m.Tree.Remove(ctx, commitment)
}

// AuditedIssuerRegistry wraps an *issuer.Registry, recording every accepted Upsert to Log.
// Reads (GetIssuer, ListRecords) pass straight through -- only mutation is audited, matching
// spec §2's "record of issuer/revocation actions" scope.
type AuditedIssuerRegistry struct {
	Registry *issuer.Registry
	Log      audit.Recorder
}

// Upsert applies rec and, if it succeeds, records an ActionIssuerUpsert entry (or
// ActionIssuerRevoke when rec.Status is StatusRevoked) attributed to actor. A failed
// Upsert is never logged -- the log records actions taken, not attempts.
func (a AuditedIssuerRegistry) Upsert(ctx context.Context, actor string, rec issuer.Record) error {
	if err := a.Registry.Upsert(rec); err != nil {
		return err
	}
	action := audit.ActionIssuerUpsert
	if rec.Status == issuer.StatusRevoked {
		action = audit.ActionIssuerRevoke
	}
	return a.Log.Record(ctx, audit.Entry{
		Action: action,
		Actor:  actor,
		Target: rec.Issuer,
		Detail: fmt.Sprintf("status=%s jurisdiction=%s", rec.Status, rec.Jurisdiction),
	})
}

func (a AuditedIssuerRegistry) GetIssuer(name string, at time.Time) (issuer.Record, error) {
	return a.Registry.GetIssuer(name, at)
}

func (a AuditedIssuerRegistry) ListRecords(name string) []issuer.Record {
	return a.Registry.ListRecords(name)
}

// AuditedRevocation wraps a RevocationMutator, recording every accepted Add/Remove to Log.
type AuditedRevocation struct {
	Tree RevocationMutator
	Log  audit.Recorder
}

// Add revokes commitment (adds it to the tree) and records an ActionRevocationAdd entry
// attributed to actor.
func (a AuditedRevocation) Add(ctx context.Context, actor string, commitment field.Element) error {
	if err := a.Tree.Add(ctx, commitment); err != nil {
		return err
	}
	return a.Log.Record(ctx, audit.Entry{
		Action: audit.ActionRevocationAdd,
		Actor:  actor,
		Target: commitment.String(),
	})
}

// Remove un-revokes commitment and records an ActionRevocationRemove entry attributed to
// actor.
func (a AuditedRevocation) Remove(ctx context.Context, actor string, commitment field.Element) error {
	if err := a.Tree.Remove(ctx, commitment); err != nil {
		return err
	}
	return a.Log.Record(ctx, audit.Entry{
		Action: audit.ActionRevocationRemove,
		Actor:  actor,
		Target: commitment.String(),
	})
}

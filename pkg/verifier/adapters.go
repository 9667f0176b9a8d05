package verifier

import (
	"context"

	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/revocation/indexed"
	"github.com/zkidlabs/verifier/pkg/revocation/smt"
)

var (
	_ RevocationChecker = SMTChecker{}
	_ RevocationChecker = IndexedChecker{}
)

// SMTChecker adapts an in-memory pkg/revocation/smt.Tree to RevocationChecker. The sparse
// tree's own methods are synchronous and context-free; ctx is accepted for interface
// conformance and ignored, matching how an in-memory cache never blocks on I/O.
type SMTChecker struct {
	Tree *smt.Tree
}

func (c SMTChecker) Contains(_ context.Context, commitment field.Element) (bool, error) {
	return c.Tree.Contains(commitment), nil
}

func (c SMTChecker) CurrentRoot(_ context.Context) (field.Element, error) {
	return c.Tree.GetRoot(), nil
}

// IndexedChecker adapts a Postgres-backed pkg/revocation/indexed.Tree to RevocationChecker.
type IndexedChecker struct {
	Tree *indexed.Tree
}

func (c IndexedChecker) Contains(ctx context.Context, commitment field.Element) (bool, error) {
	return c.Tree.Contains(ctx, commitment)
}

func (c IndexedChecker) CurrentRoot(ctx context.Context) (field.Element, error) {
	info, err := c.Tree.GetRootInfo(ctx)
	if err != nil {
		return field.Element{}, err
	}
	return info.Root, nil
}

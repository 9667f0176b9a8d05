package server

import (
	"context"

	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/revocation/indexed"
	"github.com/zkidlabs/verifier/pkg/revocation/smt"
)

var (
	_ RevocationService = SMTRevocationService{}
	_ RevocationService = IndexedRevocationService{}
)

// SMTRevocationService adapts an in-memory pkg/revocation/smt.Tree to RevocationService,
// rendering field elements as their decimal string wire form (spec §6: "Public signals are
// decimal strings for field elements").
type SMTRevocationService struct {
	Tree *smt.Tree
}

func (s SMTRevocationService) RootInfo(_ context.Context) (RootInfo, error) {
	info := s.Tree.GetRootInfo()
	return RootInfo{Root: info.Root.String(), Version: info.Version, UpdatedAt: info.UpdatedAt}, nil
}

func (s SMTRevocationService) Witness(_ context.Context, commitment field.Element) (Witness, bool, error) {
	w, ok := s.Tree.GetWitness(commitment)
	if !ok {
		return Witness{}, false, nil
	}
	return toWireWitness(w.Root, w.PathIndices, w.Siblings), true, nil
}

// IndexedRevocationService adapts a Postgres-backed pkg/revocation/indexed.Tree.
type IndexedRevocationService struct {
	Tree *indexed.Tree
}

func (s IndexedRevocationService) RootInfo(ctx context.Context) (RootInfo, error) {
	info, err := s.Tree.GetRootInfo(ctx)
	if err != nil {
		return RootInfo{}, err
	}
	return RootInfo{Root: info.Root.String(), Version: info.Version, UpdatedAt: info.UpdatedAt}, nil
}

func (s IndexedRevocationService) Witness(ctx context.Context, commitment field.Element) (Witness, bool, error) {
	w, ok, err := s.Tree.GetWitness(ctx, commitment)
	if err != nil || !ok {
		return Witness{}, false, err
	}
	return toWireWitness(w.Root, w.PathIndices, w.Siblings), true, nil
}

func toWireWitness(root field.Element, pathIndices []int, siblings []field.Element) Witness {
	siblingStrs := make([]string, len(siblings))
	for i, s := range siblings {
		siblingStrs[i] = s.String()
	}
	return Witness{
		Root:        root.String(),
		PathIndices: pathIndices,
		Siblings:    siblingStrs,
	}
}

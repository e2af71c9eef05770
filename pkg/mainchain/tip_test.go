package mainchain

import (
	"context"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

func mciPtr(v uint64) *uint64 { return &v }

func TestAdvanceMainChainAssignsSequentialIndexesFromGenesis(t *testing.T) {
	props := &fakeProps{units: map[string]*dag.UnitProps{
		"genesis": {UnitHash: "genesis", IsOnMainChain: true, MainChainIndex: mciPtr(0)},
		"a": {UnitHash: "a", BestParentUnit: "genesis"},
	}}
	e := NewEngine(props, nil, 0)

	tip := &dag.UnitProps{UnitHash: "b", BestParentUnit: "a"}

	assignments, err := e.AdvanceMainChain(context.Background(), tip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments (a, b), got %d: %+v", len(assignments), assignments)
	}
	if assignments[0].Unit != "a" || assignments[0].MCI != 1 {
		t.Fatalf("expected a->1 first, got %+v", assignments[0])
	}
	if assignments[1].Unit != "b" || assignments[1].MCI != 2 {
		t.Fatalf("expected b->2 second, got %+v", assignments[1])
	}
}

func TestAdvanceMainChainStopsAtExistingMainChainUnit(t *testing.T) {
	props := &fakeProps{units: map[string]*dag.UnitProps{
		"stable-tip": {UnitHash: "stable-tip", IsOnMainChain: true, MainChainIndex: mciPtr(9)},
	}}
	e := NewEngine(props, nil, 0)

	tip := &dag.UnitProps{UnitHash: "new", BestParentUnit: "stable-tip"}
	assignments, err := e.AdvanceMainChain(context.Background(), tip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assignments) != 1 || assignments[0].Unit != "new" || assignments[0].MCI != 10 {
		t.Fatalf("expected new->10, got %+v", assignments)
	}
}

func TestAdvanceMainChainNoOpWhenTipAlreadyOnMainChain(t *testing.T) {
	e := NewEngine(&fakeProps{units: map[string]*dag.UnitProps{}}, nil, 0)
	tip := &dag.UnitProps{UnitHash: "already-mc", IsOnMainChain: true, MainChainIndex: mciPtr(3)}

	assignments, err := e.AdvanceMainChain(context.Background(), tip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assignments != nil {
		t.Fatalf("expected no assignments, got %+v", assignments)
	}
}

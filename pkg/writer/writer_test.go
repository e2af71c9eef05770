package writer

import (
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/mainchain"
)

func TestApplyMCIAssignmentsOverlaysMatchingUnits(t *testing.T) {
	units := []*dag.UnitProps{
		{UnitHash: "a"},
		{UnitHash: "b"},
	}
	out := applyMCIAssignments(units, []mainchain.MCIAssignment{{Unit: "a", MCI: 5}})

	if !out[0].IsOnMainChain || out[0].MainChainIndex == nil || *out[0].MainChainIndex != 5 {
		t.Fatalf("expected a overlaid with mci 5, got %+v", out[0])
	}
	if out[1].IsOnMainChain {
		t.Fatalf("expected b untouched, got %+v", out[1])
	}
	if units[0].IsOnMainChain {
		t.Fatalf("expected original slice entries left untouched (copy, not mutate)")
	}
}

func TestApplyMCIAssignmentsNoOpWhenEmpty(t *testing.T) {
	units := []*dag.UnitProps{{UnitHash: "a"}}
	out := applyMCIAssignments(units, nil)
	if len(out) != 1 || out[0] != units[0] {
		t.Fatalf("expected the same slice back unchanged")
	}
}

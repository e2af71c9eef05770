package fees

import (
	"context"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

func TestProcessMCISplitsHeadersCommissionAcrossChildren(t *testing.T) {
	credited := make(map[string]uint64)
	deps := Deps{
		LoadUnit: func(ctx context.Context, unit string) (*dag.Unit, error) {
			return &dag.Unit{UnitHash: unit, HeadersCommission: 100}, nil
		},
		Children: func(ctx context.Context, mcParentUnit string, mci uint64) ([]string, error) {
			return []string{"childA", "childB"}, nil
		},
		Props: func(ctx context.Context, unit string) (*dag.UnitProps, error) {
			return &dag.UnitProps{UnitHash: unit, Authors: []string{unit + "_author"}}, nil
		},
		CreditHeaders: func(ctx context.Context, unit, address string, amount uint64) error {
			credited[address] = amount
			return nil
		},
		CreditWitnessing: func(ctx context.Context, unit, address string, amount uint64) error { return nil },
	}
	e := New(deps)

	if err := e.ProcessMCI(context.Background(), "mc1", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credited["childA_author"]+credited["childB_author"] != 100 {
		t.Fatalf("expected total credited 100, got %+v", credited)
	}
}

func TestProcessMCISplitsWitnessingAcrossDistinctWitnesses(t *testing.T) {
	credited := make(map[string]uint64)
	deps := Deps{
		LoadUnit: func(ctx context.Context, unit string) (*dag.Unit, error) {
			return &dag.Unit{UnitHash: unit, PayloadCommission: 90, Witnesses: []string{"w1", "w2", "w3", "w1"}}, nil
		},
		Children: func(ctx context.Context, mcParentUnit string, mci uint64) ([]string, error) {
			return []string{"childA"}, nil
		},
		Props: func(ctx context.Context, unit string) (*dag.UnitProps, error) {
			return &dag.UnitProps{UnitHash: unit, Authors: []string{"someone"}}, nil
		},
		CreditHeaders: func(ctx context.Context, unit, address string, amount uint64) error { return nil },
		CreditWitnessing: func(ctx context.Context, unit, address string, amount uint64) error {
			credited[address] = amount
			return nil
		},
	}
	e := New(deps)

	if err := e.ProcessMCI(context.Background(), "mc1", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(credited) != 3 {
		t.Fatalf("expected 3 distinct witnesses credited, got %+v", credited)
	}
	var total uint64
	for _, v := range credited {
		total += v
	}
	if total != 90 {
		t.Fatalf("expected total witnessing 90, got %d", total)
	}
}

func TestProcessMCINoopWhenNoChildren(t *testing.T) {
	deps := Deps{
		LoadUnit: func(ctx context.Context, unit string) (*dag.Unit, error) {
			return &dag.Unit{UnitHash: unit, HeadersCommission: 100}, nil
		},
		Children: func(ctx context.Context, mcParentUnit string, mci uint64) ([]string, error) { return nil, nil },
	}
	e := New(deps)

	if err := e.ProcessMCI(context.Background(), "mc1", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Package fees implements the headers/witnessing commission engine (C8):
// for each newly-stable main-chain unit, split its headers commission
// across the children that included it and its witnessing commission
// across the distinct witnesses it declares. ProcessBatch takes bounded
// batches so a long outage's backlog never holds more than one batch of
// LIMCI-adjacent bookkeeping in memory at once (spec.md §4.8). The package
// does not track or advance max_spendable_mci.
package fees

import (
	"context"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// ChildrenLookup returns the MC-parent's children eligible to split its
// commission (same-MCI + next-MCI, sequence='good'), per
// storage.FeeRepository.ChildrenAtMCI.
type ChildrenLookup func(ctx context.Context, mcParentUnit string, mci uint64) ([]string, error)

// UnitPropsLookup resolves a unit's computed properties, for reading its
// headers/payload commission and author/witness set.
type UnitPropsLookup func(ctx context.Context, unit string) (*dag.UnitProps, error)

// UnitLookup resolves the full unit body (for headers_commission,
// payload_commission and the witness list it declares).
type UnitLookup func(ctx context.Context, unit string) (*dag.Unit, error)

// CreditHeadersCommission credits address with amount from unit's headers
// commission. CreditWitnessing credits address with amount from unit's
// payload commission for witnessing.
type CreditHeadersCommission func(ctx context.Context, unit, address string, amount uint64) error
type CreditWitnessing func(ctx context.Context, unit, address string, amount uint64) error

// Deps bundles the engine's storage-backed collaborators.
type Deps struct {
	Children        ChildrenLookup
	Props           UnitPropsLookup
	LoadUnit        UnitLookup
	CreditHeaders   CreditHeadersCommission
	CreditWitnessing CreditWitnessing
}

// Engine distributes headers/witnessing commission for newly-stable MC
// units. It holds no transaction of its own — cmd/dagnode's stabilization
// loop calls Engine.ProcessMCI once per newly-stabilized MC unit, in a
// separate transaction after the stabilization commit.
type Engine struct {
	deps Deps
}

// New builds an Engine over deps.
func New(deps Deps) *Engine {
	return &Engine{deps: deps}
}

// ProcessMCI distributes mcUnit's headers commission across its
// fee-eligible children (equally, per spec.md §4.8's "compute headers
// commission shares") and its witnessing commission across the witnesses
// it declares (equally among the distinct addresses of its witness list),
// advancing no further state itself — max_spendable_mci bookkeeping is the
// caller's, since it spans the whole batch being processed, not one unit.
func (e *Engine) ProcessMCI(ctx context.Context, mcUnit string, mci uint64) error {
	u, err := e.deps.LoadUnit(ctx, mcUnit)
	if err != nil {
		return fmt.Errorf("fees: load mc unit %s: %w", mcUnit, err)
	}

	children, err := e.deps.Children(ctx, mcUnit, mci)
	if err != nil {
		return fmt.Errorf("fees: load children of %s: %w", mcUnit, err)
	}
	if len(children) == 0 {
		return nil
	}

	if u.HeadersCommission > 0 {
		share := u.HeadersCommission / uint64(len(children))
		remainder := u.HeadersCommission % uint64(len(children))
		for i, child := range children {
			props, err := e.deps.Props(ctx, child)
			if err != nil {
				return fmt.Errorf("fees: load props for child %s: %w", child, err)
			}
			amount := share
			if i == 0 {
				amount += remainder // deterministic remainder assignment: smallest-child-hash-first, children is already hash-ordered by the caller
			}
			if len(props.Authors) == 0 {
				continue
			}
			if err := e.deps.CreditHeaders(ctx, mcUnit, props.Authors[0], amount); err != nil {
				return fmt.Errorf("fees: credit headers commission %s->%s: %w", mcUnit, props.Authors[0], err)
			}
		}
	}

	if u.PayloadCommission > 0 {
		witnesses := distinctWitnesses(u.Witnesses)
		if len(witnesses) == 0 {
			return nil
		}
		share := u.PayloadCommission / uint64(len(witnesses))
		remainder := u.PayloadCommission % uint64(len(witnesses))
		for i, w := range witnesses {
			amount := share
			if i == 0 {
				amount += remainder
			}
			if err := e.deps.CreditWitnessing(ctx, mcUnit, w, amount); err != nil {
				return fmt.Errorf("fees: credit witnessing %s->%s: %w", mcUnit, w, err)
			}
		}
	}
	return nil
}

func distinctWitnesses(witnesses []string) []string {
	seen := make(map[string]bool, len(witnesses))
	out := make([]string, 0, len(witnesses))
	for _, w := range witnesses {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// ProcessBatch runs ProcessMCI for every (unit, mci) pair in units, in
// order, so a caller advancing from max_spendable_mci+1 through a long
// backlog can bound the slice it passes in to one batch at a time and keep
// peak memory at O(batch_size) rather than O(unstable_count) (spec.md
// §4.8).
func (e *Engine) ProcessBatch(ctx context.Context, batch []MCIUnit) error {
	for _, item := range batch {
		if err := e.ProcessMCI(ctx, item.Unit, item.MCI); err != nil {
			return err
		}
	}
	return nil
}

// MCIUnit pairs a main-chain unit with the MCI it was stabilized at, the
// unit of work ProcessBatch iterates over.
type MCIUnit struct {
	Unit string
	MCI  uint64
}

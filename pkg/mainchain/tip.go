package mainchain

import (
	"context"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// MCIAssignment is one main-chain-index assignment AdvanceMainChain computes
// for a unit newly placed on the main chain.
type MCIAssignment struct {
	Unit string
	MCI  uint64
}

// AdvanceMainChain walks tip's best-parent ancestry back to the nearest unit
// already flagged is_on_main_chain, and assigns tip and the walked ancestors
// (every unit on the path except that main-chain unit) sequential
// main_chain_index values continuing from that unit's MCI
// (spec.md §4.4 d: "starting from the new tip, recompute is_on_main_chain
// and main_chain_index"). tip is the unit the writer just computed a best
// parent for; it is not yet persisted, so its ancestry is read through e.props
// while tip itself is supplied directly.
//
// This is the single-branch case of main chain reconstruction: once a unit
// becomes is_on_main_chain its assignment is never revisited by a later,
// better-witnessed branch. A full node re-derives MCI for any unit whose
// level is no longer ahead of the branch; this simplified pass is
// appropriate for a composition root where the writer serializes every
// insertion under one lock, so no two branches race to extend the tip.
func (e *Engine) AdvanceMainChain(ctx context.Context, tip *dag.UnitProps) ([]MCIAssignment, error) {
	var path []*dag.UnitProps
	cur := tip
	for cur != nil && !cur.IsOnMainChain {
		path = append(path, cur)
		if cur.BestParentUnit == "" {
			cur = nil
			break
		}
		p, err := e.props.GetUnitProps(ctx, cur.BestParentUnit)
		if err != nil {
			return nil, fmt.Errorf("mainchain: load props for %s: %w", cur.BestParentUnit, err)
		}
		cur = p
	}
	if len(path) == 0 {
		return nil, nil
	}

	var baseMCI uint64
	if cur != nil && cur.MainChainIndex != nil {
		baseMCI = *cur.MainChainIndex + 1
	}

	assignments := make([]MCIAssignment, len(path))
	for i := 0; i < len(path); i++ {
		p := path[len(path)-1-i]
		assignments[i] = MCIAssignment{Unit: p.UnitHash, MCI: baseMCI + uint64(i)}
	}
	return assignments, nil
}

// Package mainchain implements main-chain selection and stability
// detection over the unit DAG: best-parent choice, level and
// witnessed-level computation, main-chain reconstruction with LIMCI
// propagation, and the two-condition stability fast path (spec.md §4.4).
package mainchain

import (
	"context"
	"fmt"
	"sort"

	"github.com/meshledger/dagnode/pkg/dag"
)

// MajorityOfWitnesses is the minimum count of distinct witness authors the
// witnessed-level walk must see before a level qualifies.
const MajorityOfWitnesses = 7 // out of the standard 12-witness list

// Props is a narrow read-only view over storage.Caches the engine needs;
// kept as an interface so selection logic can be tested against a fake
// without a live cache/DB pair.
type Props interface {
	GetUnitProps(ctx context.Context, unit string) (*dag.UnitProps, error)
}

// Engine computes main-chain structure. It holds no mutable state of its
// own — every computation reads through Props and returns values for the
// caller (pkg/writer) to persist inside its own transaction.
type Engine struct {
	props       Props
	witnessList []string
	maxMutations int // MAX_WITNESSLIST_MUTATIONS, pre-upgrade compatibility rule
}

// NewEngine builds an Engine over props, consulting witnessList for the
// witnessed-level walk and maxMutations for the pre-common-op-list
// witness-compatibility rule in BestParent.
func NewEngine(props Props, witnessList []string, maxMutations int) *Engine {
	return &Engine{props: props, witnessList: witnessList, maxMutations: maxMutations}
}

func (e *Engine) isWitness(address string) bool {
	for _, w := range e.witnessList {
		if w == address {
			return true
		}
	}
	return false
}

// BestParent selects among parents the one maximizing (witnessed_level,
// then -(level-witnessed_level), then min unit_hash lexicographic).
// preUpgrade additionally requires the candidate to share at least
// (len(witnessList) - maxMutations) witnesses with the unit being built,
// the compatibility rule spec.md §4.4 a calls out for pre-common-op-list
// units.
func (e *Engine) BestParent(ctx context.Context, parents []string, witnesses []string, preUpgrade bool) (string, error) {
	if len(parents) == 0 {
		return "", fmt.Errorf("mainchain: no parents to choose a best parent from")
	}

	type candidate struct {
		unit           string
		props          *dag.UnitProps
		sharedWitnesses int
	}

	candidates := make([]candidate, 0, len(parents))
	for _, parent := range parents {
		p, err := e.props.GetUnitProps(ctx, parent)
		if err != nil {
			return "", fmt.Errorf("mainchain: load props for parent %s: %w", parent, err)
		}
		shared := 0
		if preUpgrade {
			declared := make(map[string]bool, len(witnesses))
			for _, w := range witnesses {
				declared[w] = true
			}
			for _, a := range p.Authors {
				if declared[a] {
					shared++
				}
			}
		}
		candidates = append(candidates, candidate{unit: parent, props: p, sharedWitnesses: shared})
	}

	if preUpgrade {
		required := len(witnesses) - e.maxMutations
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if c.sharedWitnesses >= required {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.props.WitnessedLevel != b.props.WitnessedLevel {
			return a.props.WitnessedLevel > b.props.WitnessedLevel
		}
		da := a.props.Level - a.props.WitnessedLevel
		db := b.props.Level - b.props.WitnessedLevel
		if da != db {
			return da < db
		}
		return a.unit < b.unit
	})
	return candidates[0].unit, nil
}

// Level returns 1 + max(parent.level) across parents, or 0 when parents is
// empty (genesis).
func (e *Engine) Level(ctx context.Context, parents []string) (uint64, error) {
	if len(parents) == 0 {
		return 0, nil
	}
	var max uint64
	for _, parent := range parents {
		p, err := e.props.GetUnitProps(ctx, parent)
		if err != nil {
			return 0, fmt.Errorf("mainchain: load props for parent %s: %w", parent, err)
		}
		if p.Level > max {
			max = p.Level
		}
	}
	return max + 1, nil
}

// WitnessedLevel walks the best-parent ancestry from bestParent, counting
// distinct author addresses that are witnesses, and returns the level at
// which that count first reaches MajorityOfWitnesses. Genesis (no
// ancestry) is witnessed_level 0.
func (e *Engine) WitnessedLevel(ctx context.Context, bestParent string) (uint64, error) {
	seen := make(map[string]bool)
	unit := bestParent
	for unit != "" {
		p, err := e.props.GetUnitProps(ctx, unit)
		if err != nil {
			return 0, fmt.Errorf("mainchain: load props for %s: %w", unit, err)
		}
		for _, author := range p.Authors {
			if e.isWitness(author) {
				seen[author] = true
			}
		}
		if len(seen) >= MajorityOfWitnesses {
			return p.Level, nil
		}
		if p.BestParentUnit == "" {
			return 0, nil
		}
		unit = p.BestParentUnit
	}
	return 0, nil
}

// ReconstructionResult carries the LIMCI assignment MC reconstruction
// produces for one unstable unit.
type ReconstructionResult struct {
	Unit  string
	LIMCI *uint64
}

// ReconstructMainChain recomputes latest_included_mc_index from scratch for
// every member of unstable, in non-decreasing level order: child.LIMCI =
// max over parents of the parent's contribution, which is the parent's
// MainChainIndex when it is on the main chain and its LIMCI otherwise
// (spec.md §4.4 d). Parents outside unstable are read through e.props; a
// unit with no contributing parent gets a nil LIMCI.
func (e *Engine) ReconstructMainChain(ctx context.Context, unstable []*dag.UnitProps) ([]ReconstructionResult, error) {
	byUnit := make(map[string]*dag.UnitProps, len(unstable))
	for _, p := range unstable {
		byUnit[p.UnitHash] = p
	}

	// Topologically process in non-decreasing level order so every parent's
	// LIMCI is finalized before its children consume it.
	ordered := append([]*dag.UnitProps(nil), unstable...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Level < ordered[j].Level })

	results := make([]ReconstructionResult, 0, len(ordered))
	limci := make(map[string]*uint64, len(ordered))

	for _, p := range ordered {
		var best *uint64
		for _, parent := range p.ParentUnits {
			var parentLimci *uint64
			if parentProps, ok := byUnit[parent]; ok {
				if parentProps.IsOnMainChain && parentProps.MainChainIndex != nil {
					v := *parentProps.MainChainIndex
					parentLimci = &v
				} else {
					parentLimci = limci[parent]
				}
			} else {
				parentProps, err := e.props.GetUnitProps(ctx, parent)
				if err != nil {
					return nil, fmt.Errorf("mainchain: load props for parent %s: %w", parent, err)
				}
				if parentProps.IsOnMainChain && parentProps.MainChainIndex != nil {
					v := *parentProps.MainChainIndex
					parentLimci = &v
				} else {
					parentLimci = parentProps.LatestIncludedMCI
				}
			}
			if parentLimci == nil {
				continue
			}
			if best == nil || *parentLimci > *best {
				v := *parentLimci
				best = &v
			}
		}
		limci[p.UnitHash] = best
		results = append(results, ReconstructionResult{Unit: p.UnitHash, LIMCI: best})
	}
	return results, nil
}

// IsPreUpgrade reports whether mci precedes the common-op-list (v4)
// upgrade, for the pre-upgrade BestParent witness-compatibility rule.
func IsPreUpgrade(mci, v4UpgradeMCI uint64) bool {
	return mci < v4UpgradeMCI
}

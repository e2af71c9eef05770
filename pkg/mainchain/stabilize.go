package mainchain

import (
	"context"
	"fmt"
	"sort"

	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/hash"
	"github.com/meshledger/dagnode/pkg/storage"
)

// IsStable reports whether u is stable in view of the later set L, using
// the two-condition fast path from spec.md §4.4 e: u.MainChainIndex must
// already be non-nil and no greater than the maximum last_ball_mci across
// L, AND u.IsStable must already be true. Both conditions are required —
// checking MCI alone races against a concurrent stabilization that set
// MainChainIndex but hasn't yet committed the unit's ball.
func IsStable(u *dag.UnitProps, maxLastBallMCI uint64) bool {
	if !u.IsStable {
		return false
	}
	if u.MainChainIndex == nil {
		return false
	}
	return *u.MainChainIndex <= maxLastBallMCI
}

// MaxLastBallMCI returns the highest MainChainIndex among the props in l,
// skipping props without one. It reads each prop's own MCI and does not
// follow last_ball_unit, so for IsStable's maxLastBallMCI argument l is the
// set of last_ball_unit props of the later units.
func MaxLastBallMCI(l []*dag.UnitProps) uint64 {
	var max uint64
	for _, p := range l {
		if p.MainChainIndex != nil && *p.MainChainIndex > max {
			max = *p.MainChainIndex
		}
	}
	return max
}

// StabilizationPlan is what the stabilizer computes for one newly-stable
// MCI: the units to mark stable (in an order already chosen so skiplist
// computation sees its balls), and each one's computed ball.
type StabilizationPlan struct {
	MCI   uint64
	Units []UnitBall
}

// UnitBall pairs a unit with the ball the stabilizer computed for it.
type UnitBall struct {
	Unit string
	Ball *dag.Ball
}

// Stabilizer computes balls for a new stability point and reports which
// units become stable, leaving the actual writes (UPDATE units, INSERT
// balls, archival, AA trigger dispatch) to pkg/writer's single commit
// transaction (spec.md §4.4 f, §4.6) — the engine never holds a *storage.Tx
// itself so it stays testable independent of a database.
type Stabilizer struct {
	props   Props
	balls   BallLookup
}

// BallLookup resolves a previously-stabilized unit's ball, for building the
// parent_balls/skiplist_balls of a newly-stabilizing unit.
type BallLookup func(ctx context.Context, unit string) (string, error)

// NewStabilizer builds a Stabilizer over props and balls.
func NewStabilizer(props Props, balls BallLookup) *Stabilizer {
	return &Stabilizer{props: props, balls: balls}
}

// Plan computes the StabilizationPlan for mci given the set of units whose
// MainChainIndex equals mci (spec.md §4.4 f: "mark all units with MCI=m
// stable atomically"). skiplistOf supplies each unit's skiplist units
// (computed by the caller from the ball-hash-tree distance rule); isNonserial
// reports whether a unit lost a double-spend race.
func (s *Stabilizer) Plan(ctx context.Context, mci uint64, units []*dag.UnitProps, skiplistOf func(unit string) []string, isNonserial func(unit string) bool) (*StabilizationPlan, error) {
	ordered := append([]*dag.UnitProps(nil), units...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UnitHash < ordered[j].UnitHash })

	plan := &StabilizationPlan{MCI: mci, Units: make([]UnitBall, 0, len(ordered))}
	for _, u := range ordered {
		parentBalls := make([]string, 0, len(u.ParentUnits))
		for _, parent := range u.ParentUnits {
			b, err := s.balls(ctx, parent)
			if err != nil {
				if err == storage.ErrNotFound {
					continue // parent not yet stable: excluded, matches ball() taking only stable parent balls
				}
				return nil, fmt.Errorf("mainchain: resolve parent ball for %s: %w", parent, err)
			}
			parentBalls = append(parentBalls, b)
		}
		skiplistBalls := make([]string, 0)
		for _, sl := range skiplistOf(u.UnitHash) {
			b, err := s.balls(ctx, sl)
			if err != nil {
				return nil, fmt.Errorf("mainchain: resolve skiplist ball for %s: %w", sl, err)
			}
			skiplistBalls = append(skiplistBalls, b)
		}

		nonserial := isNonserial(u.UnitHash)
		ballHash, err := hash.Ball(u.UnitHash, parentBalls, skiplistBalls, nonserial)
		if err != nil {
			return nil, fmt.Errorf("mainchain: compute ball for %s: %w", u.UnitHash, err)
		}
		plan.Units = append(plan.Units, UnitBall{
			Unit: u.UnitHash,
			Ball: &dag.Ball{
				UnitHash:      u.UnitHash,
				ParentBalls:   parentBalls,
				SkiplistBalls: skiplistBalls,
				IsNonserial:   nonserial,
				Ball:          ballHash,
			},
		})
	}
	return plan, nil
}

// SkiplistUnits computes the skiplist edges for unit per the ball-hash-tree
// distance rule: the main-chain unit (from mcUnitsByIndex) a power-of-ten
// number of main chain steps (10, 100, ...) back from unitMCI. Immediate
// parents are not filtered out. minRetrievableMCI bounds how far back
// the walk needs to go, since skiplist units below it are already pruned
// from retrievable history.
func SkiplistUnits(ctx context.Context, props Props, mcUnitsByIndex map[uint64]string, unitMCI uint64, minRetrievableMCI uint64) ([]string, error) {
	var skiplist []string
	for step := uint64(10); unitMCI >= step && unitMCI-step >= minRetrievableMCI; step *= 10 {
		if u, ok := mcUnitsByIndex[unitMCI-step]; ok {
			skiplist = append(skiplist, u)
		}
	}
	return skiplist, nil
}

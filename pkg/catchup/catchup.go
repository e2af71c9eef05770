// Package catchup implements full-node and light-client synchronization:
// witness proofs (latest stable address-definition change per witness),
// hash-tree sync for stable ranges, and the cryptographic ball
// recomputation a light client must perform rather than trusting a peer's
// last_ball field (spec.md §4.7).
package catchup

import (
	"context"
	"fmt"
	"sort"

	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/hash"
	"github.com/meshledger/dagnode/pkg/merkle"
)

// DefinitionChange is one stable address_definition_change (or initial
// definition) unit, as recorded for a witness proof.
type DefinitionChange struct {
	Address        string
	Definition     *dag.DefinitionNode
	Level          uint64
	MainChainIndex uint64
	Unit           string
}

// DefinitionChangeLookup returns every stable definition change recorded
// for address, in any order; BuildWitnessProof sorts them itself.
type DefinitionChangeLookup func(ctx context.Context, address string) ([]DefinitionChange, error)

// WitnessProof is what a full node sends a syncing peer: for each witness,
// the latest stable definition change.
type WitnessProof struct {
	Changes []DefinitionChange
}

// BuildWitnessProof selects, for each witness in witnessList, the latest
// stable definition change — ordered by (level, then main_chain_index) so
// that two definition changes sharing a level never tie ambiguously; light
// clients that compare by level alone would diverge on which definition a
// witness's address currently carries (spec.md §4.7 "Witness proofs").
func BuildWitnessProof(ctx context.Context, witnessList []string, lookup DefinitionChangeLookup) (*WitnessProof, error) {
	proof := &WitnessProof{}
	for _, w := range witnessList {
		changes, err := lookup(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("catchup: load definition changes for %s: %w", w, err)
		}
		if len(changes) == 0 {
			continue
		}
		sort.Slice(changes, func(i, j int) bool {
			if changes[i].Level != changes[j].Level {
				return changes[i].Level > changes[j].Level
			}
			return changes[i].MainChainIndex > changes[j].MainChainIndex
		})
		proof.Changes = append(proof.Changes, changes[0])
	}
	return proof, nil
}

// BallByUnitLookup recomputes the canonical ball for unit from its own
// stored parent/skiplist balls, never trusting a peer-supplied value.
type BallByUnitLookup func(ctx context.Context, unit string) (parentBalls, skiplistBalls []string, isNonserial bool, err error)

// VerifyStableLastBallJoint recomputes ball(last_ball_unit, ...)
// cryptographically and compares it against the unit's claimed last_ball,
// rejecting on any mismatch rather than trusting the peer's field
// (spec.md §4.7: "trusting the last_ball field from a peer without
// recomputation allows persistent sync-deadlock attacks" — P-ball-verify-
// catchup). claimedLastBall is what the peer's joint asserts;
// lookupBalls resolves the real parent/skiplist balls this node computed
// independently for lastBallUnit.
func VerifyStableLastBallJoint(ctx context.Context, lastBallUnit, claimedLastBall string, lookupBalls BallByUnitLookup) error {
	parentBalls, skiplistBalls, isNonserial, err := lookupBalls(ctx, lastBallUnit)
	if err != nil {
		return fmt.Errorf("catchup: resolve balls for %s: %w", lastBallUnit, err)
	}
	recomputed, err := hash.Ball(lastBallUnit, parentBalls, skiplistBalls, isNonserial)
	if err != nil {
		return fmt.Errorf("catchup: recompute ball for %s: %w", lastBallUnit, err)
	}
	if recomputed != claimedLastBall {
		return fmt.Errorf("catchup: ball mismatch for %s: peer claimed %q, recomputed %q", lastBallUnit, claimedLastBall, recomputed)
	}
	return nil
}

// HashTreeRange is one contiguous range of stable balls a full-node
// catchup response proves via a Merkle tree over the range's ball hashes,
// in MCI order.
type HashTreeRange struct {
	FromMCI uint64
	ToMCI   uint64
	Tree    *merkle.Tree
}

// BuildHashTreeRange builds the Merkle tree committing to ballsInMCIOrder,
// the leaves a syncing peer verifies its own recomputed balls against
// without needing the full unit bodies for every intermediate unit.
func BuildHashTreeRange(fromMCI, toMCI uint64, ballsInMCIOrder []string) (*HashTreeRange, error) {
	leaves := make([][]byte, len(ballsInMCIOrder))
	for i, b := range ballsInMCIOrder {
		leaves[i] = merkle.HashData([]byte(b))
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("catchup: build hash tree for range [%d,%d]: %w", fromMCI, toMCI, err)
	}
	return &HashTreeRange{FromMCI: fromMCI, ToMCI: toMCI, Tree: tree}, nil
}

// VerifyBallInRange checks that ball is included in r at position index,
// for a light client that received only the range's root plus an
// inclusion proof rather than every ball in the range.
func VerifyBallInRange(r *HashTreeRange, ball string, proof *merkle.InclusionProof) (bool, error) {
	return merkle.VerifyProof(merkle.HashData([]byte(ball)), proof, r.Tree.Root())
}

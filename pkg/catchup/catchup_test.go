package catchup

import (
	"context"
	"errors"
	"testing"
)

func TestBuildWitnessProofPicksHighestLevelThenMCI(t *testing.T) {
	lookup := func(ctx context.Context, address string) ([]DefinitionChange, error) {
		return []DefinitionChange{
			{Address: address, Level: 10, MainChainIndex: 5, Unit: "old"},
			{Address: address, Level: 10, MainChainIndex: 9, Unit: "newer-same-level"},
			{Address: address, Level: 8, MainChainIndex: 99, Unit: "lower-level"},
		}, nil
	}

	proof, err := BuildWitnessProof(context.Background(), []string{"w1"}, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proof.Changes) != 1 || proof.Changes[0].Unit != "newer-same-level" {
		t.Fatalf("expected newer-same-level to win the mci tie-break, got %+v", proof.Changes)
	}
}

func TestBuildWitnessProofSkipsWitnessesWithNoChanges(t *testing.T) {
	lookup := func(ctx context.Context, address string) ([]DefinitionChange, error) { return nil, nil }

	proof, err := BuildWitnessProof(context.Background(), []string{"w1"}, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proof.Changes) != 0 {
		t.Fatalf("expected no changes, got %+v", proof.Changes)
	}
}

func TestVerifyStableLastBallJointRejectsForgedBall(t *testing.T) {
	lookupBalls := func(ctx context.Context, unit string) ([]string, []string, bool, error) {
		return nil, nil, false, nil
	}

	err := VerifyStableLastBallJoint(context.Background(), "realUnit", "forgedBallHash", lookupBalls)
	if err == nil {
		t.Fatal("expected rejection of a forged last_ball claim")
	}
}

func TestVerifyStableLastBallJointPropagatesLookupError(t *testing.T) {
	lookupBalls := func(ctx context.Context, unit string) ([]string, []string, bool, error) {
		return nil, nil, false, errors.New("db down")
	}

	if err := VerifyStableLastBallJoint(context.Background(), "u", "claimed", lookupBalls); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestHashTreeRangeBuildAndVerify(t *testing.T) {
	balls := []string{"ballA", "ballB", "ballC", "ballD"}
	r, err := BuildHashTreeRange(1, 4, balls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	proof, err := r.Tree.GenerateProof(2)
	if err != nil {
		t.Fatalf("unexpected error generating proof: %v", err)
	}
	ok, err := VerifyBallInRange(r, "ballC", proof)
	if err != nil {
		t.Fatalf("unexpected error verifying: %v", err)
	}
	if !ok {
		t.Fatal("expected ballC to verify against its inclusion proof")
	}

	ok, err = VerifyBallInRange(r, "ballX", proof)
	if err != nil {
		t.Fatalf("unexpected error verifying: %v", err)
	}
	if ok {
		t.Fatal("expected a non-member ball to fail verification")
	}
}

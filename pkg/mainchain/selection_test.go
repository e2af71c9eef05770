package mainchain

import (
	"context"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

type fakeProps struct {
	units map[string]*dag.UnitProps
}

func (f *fakeProps) GetUnitProps(ctx context.Context, unit string) (*dag.UnitProps, error) {
	p, ok := f.units[unit]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errNotFound = sentinelErr("not found")

func TestBestParentPrefersHigherWitnessedLevel(t *testing.T) {
	props := &fakeProps{units: map[string]*dag.UnitProps{
		"p1": {UnitHash: "p1", Level: 10, WitnessedLevel: 5},
		"p2": {UnitHash: "p2", Level: 10, WitnessedLevel: 8},
	}}
	e := NewEngine(props, []string{"w1"}, 0)

	best, err := e.BestParent(context.Background(), []string{"p1", "p2"}, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best != "p2" {
		t.Fatalf("expected p2, got %s", best)
	}
}

func TestBestParentTieBreaksByLevelMinusWitnessedLevel(t *testing.T) {
	props := &fakeProps{units: map[string]*dag.UnitProps{
		"p1": {UnitHash: "p1", Level: 12, WitnessedLevel: 5},
		"p2": {UnitHash: "p2", Level: 10, WitnessedLevel: 5},
	}}
	e := NewEngine(props, []string{"w1"}, 0)

	best, err := e.BestParent(context.Background(), []string{"p1", "p2"}, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best != "p2" {
		t.Fatalf("expected p2 (smaller level-witnessed_level), got %s", best)
	}
}

func TestBestParentFinalTieBreakIsUnitHash(t *testing.T) {
	props := &fakeProps{units: map[string]*dag.UnitProps{
		"bbb": {UnitHash: "bbb", Level: 10, WitnessedLevel: 5},
		"aaa": {UnitHash: "aaa", Level: 10, WitnessedLevel: 5},
	}}
	e := NewEngine(props, []string{"w1"}, 0)

	best, err := e.BestParent(context.Background(), []string{"bbb", "aaa"}, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best != "aaa" {
		t.Fatalf("expected aaa (lexicographically smaller), got %s", best)
	}
}

func TestLevelIsOneMorePlusMaxParentLevel(t *testing.T) {
	props := &fakeProps{units: map[string]*dag.UnitProps{
		"p1": {UnitHash: "p1", Level: 3},
		"p2": {UnitHash: "p2", Level: 7},
	}}
	e := NewEngine(props, nil, 0)

	lvl, err := e.Level(context.Background(), []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lvl != 8 {
		t.Fatalf("expected level 8, got %d", lvl)
	}
}

func TestLevelGenesisIsZero(t *testing.T) {
	e := NewEngine(&fakeProps{units: map[string]*dag.UnitProps{}}, nil, 0)
	lvl, err := e.Level(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lvl != 0 {
		t.Fatalf("expected genesis level 0, got %d", lvl)
	}
}

func TestWitnessedLevelWalksBestParentAncestry(t *testing.T) {
	witnesses := []string{"w1", "w2", "w3", "w4", "w5", "w6", "w7"}
	props := &fakeProps{units: map[string]*dag.UnitProps{
		"u7": {UnitHash: "u7", Level: 7, Authors: []string{"w7"}, BestParentUnit: "u6"},
		"u6": {UnitHash: "u6", Level: 6, Authors: []string{"w6"}, BestParentUnit: "u5"},
		"u5": {UnitHash: "u5", Level: 5, Authors: []string{"w5"}, BestParentUnit: "u4"},
		"u4": {UnitHash: "u4", Level: 4, Authors: []string{"w4"}, BestParentUnit: "u3"},
		"u3": {UnitHash: "u3", Level: 3, Authors: []string{"w3"}, BestParentUnit: "u2"},
		"u2": {UnitHash: "u2", Level: 2, Authors: []string{"w2"}, BestParentUnit: "u1"},
		"u1": {UnitHash: "u1", Level: 1, Authors: []string{"w1"}, BestParentUnit: ""},
	}}
	e := NewEngine(props, witnesses, 0)

	wl, err := e.WitnessedLevel(context.Background(), "u7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wl != 1 {
		t.Fatalf("expected witnessed level 1 (unit where the 7th distinct witness is first seen), got %d", wl)
	}
}

func TestIsStableRequiresBothConditions(t *testing.T) {
	mci := uint64(5)
	stableWithMCI := &dag.UnitProps{IsStable: true, MainChainIndex: &mci}
	if !IsStable(stableWithMCI, 10) {
		t.Fatal("expected stable when mci <= maxLastBallMCI and is_stable")
	}
	if IsStable(stableWithMCI, 3) {
		t.Fatal("expected not stable when mci > maxLastBallMCI")
	}

	unstable := &dag.UnitProps{IsStable: false, MainChainIndex: &mci}
	if IsStable(unstable, 10) {
		t.Fatal("expected not stable when is_stable=false regardless of mci")
	}

	noMCI := &dag.UnitProps{IsStable: true}
	if IsStable(noMCI, 10) {
		t.Fatal("expected not stable when MainChainIndex is nil")
	}
}

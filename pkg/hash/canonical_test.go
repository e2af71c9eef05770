package hash

import (
	"sort"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

func sampleUnit() *dag.Unit {
	return &dag.Unit{
		Version:     dag.VersionV4,
		Alt:         "1",
		ParentUnits: []string{"parentA", "parentB"},
		Authors: []dag.Author{
			{Address: "ADDR1", Authentifiers: map[string]string{"r": "sigvalue"}},
		},
		Messages: []dag.Message{
			{App: dag.AppText, Payload: "hello"},
		},
		Timestamp: 1700000000,
	}
}

func TestUnitHashDeterministic(t *testing.T) {
	u := sampleUnit()
	h1, err := UnitHash(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := UnitHash(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != Length {
		t.Fatalf("expected %d-char hash, got %d (%s)", Length, len(h1), h1)
	}
}

func TestUnitHashChangesOnMutation(t *testing.T) {
	u := sampleUnit()
	h1, _ := UnitHash(u)
	u.Timestamp++
	h2, _ := UnitHash(u)
	if h1 == h2 {
		t.Fatalf("mutating timestamp did not change hash")
	}
}

func TestUnitHashIgnoresAuthentifiers(t *testing.T) {
	u := sampleUnit()
	h1, _ := UnitHash(u)
	u.Authors[0].Authentifiers["r"] = "a-completely-different-signature"
	h2, _ := UnitHash(u)
	if h1 != h2 {
		t.Fatalf("unit_hash must be independent of authentifiers")
	}
}

func TestBallIndependentOfInputOrder(t *testing.T) {
	parents := []string{"b3", "b1", "b2"}
	skiplist := []string{"s2", "s1"}

	b1, err := Ball("unitX", parents, skiplist, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	shuffledParents := append([]string(nil), parents...)
	sort.Sort(sort.Reverse(sort.StringSlice(shuffledParents)))
	shuffledSkip := append([]string(nil), skiplist...)
	sort.Strings(shuffledSkip)

	b2, err := Ball("unitX", shuffledParents, shuffledSkip, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b1 != b2 {
		t.Fatalf("ball hash depends on input order: %s != %s", b1, b2)
	}
}

func TestBallChangesWithNonserial(t *testing.T) {
	b1, _ := Ball("unitX", []string{"p1"}, nil, false)
	b2, _ := Ball("unitX", []string{"p1"}, nil, true)
	if b1 == b2 {
		t.Fatalf("is_nonserial must affect the ball hash")
	}
}

func TestSignedPackageHashRequiresVersion(t *testing.T) {
	pkg := &SignedPackage{Authors: []dag.Author{{Address: "A"}}}
	if _, err := SignedPackageHash(pkg); err == nil {
		t.Fatalf("expected missing-version error")
	}
	pkg.Version = "3.0"
	if _, err := SignedPackageHash(pkg); err != nil {
		t.Fatalf("unexpected error with version set: %v", err)
	}
}

func TestDeepCloneDefinitionIsIndependent(t *testing.T) {
	orig := &dag.DefinitionNode{
		Op: dag.OpOr,
		Subs: []*dag.DefinitionNode{
			{Op: dag.OpSig, PubKey: "pub1"},
			{Op: dag.OpAddress, RefAddress: "ADDR2"},
		},
	}
	clone := DeepCloneDefinition(orig)
	clone.Subs[0].PubKey = "mutated"
	if orig.Subs[0].PubKey == "mutated" {
		t.Fatalf("deep clone leaked mutation back into original")
	}
}

func TestEncodeDecodeFeedValueRoundTrip(t *testing.T) {
	enc, err := EncodeFeedValue(123.456, V4UpgradeMCI+1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dec, err := DecodeFeedValue(enc, V4UpgradeMCI+1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := dec - 123.456; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("round trip mismatch: got %v", dec)
	}
}

func TestEncodeFeedValueRejectsExcessPrecisionPreUpgrade(t *testing.T) {
	_, err := EncodeFeedValue(1.2345678901234567, V4UpgradeMCI-1)
	if err == nil {
		t.Fatalf("expected mantissa-too-long error before upgrade MCI")
	}
}

func TestEncodeFeedValueOrdersLexicographically(t *testing.T) {
	low, err := EncodeFeedValue(1, V4UpgradeMCI+1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := EncodeFeedValue(2, V4UpgradeMCI+1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !(low < high) {
		t.Fatalf("expected lexicographic order to match numeric order: %s vs %s", low, high)
	}
}

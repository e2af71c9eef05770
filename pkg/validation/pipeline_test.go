package validation

import (
	"context"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

func sampleUnit() *dag.Unit {
	return &dag.Unit{
		Version:     dag.VersionV4,
		Alt:         "1",
		ParentUnits: []string{"p1", "p2"},
		Authors: []dag.Author{
			{Address: "addrA", Authentifiers: map[string]string{"r": "sig"}},
		},
		Messages: []dag.Message{
			{App: dag.AppText, Payload: "hello"},
		},
		Witnesses: []string{"w1", "w2", "w3"},
		Timestamp: 1000,
	}
}

func newTestPipeline() *Pipeline {
	return New(Deps{
		Alt:         "1",
		WitnessList: []string{"w1", "w2", "w3"},
		HasUnit:     func(ctx context.Context, unit string) (bool, error) { return false, nil },
	})
}

func TestStage1RejectsEmptyMessages(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.Messages = nil

	err := p.stage1Structural(u)
	if err == nil {
		t.Fatal("expected error for empty messages")
	}
	if verr, ok := err.(*Error); !ok || verr.Kind != KindUnitError {
		t.Fatalf("expected KindUnitError, got %v", err)
	}
}

func TestStage1RejectsTooManyParents(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	parents := make([]string, dag.MaxParentsPerUnit+1)
	for i := range parents {
		parents[i] = string(rune('a' + i))
	}
	u.ParentUnits = parents

	if err := p.stage1Structural(u); err == nil {
		t.Fatal("expected error for too many parents")
	}
}

func TestStage2RejectsWrongAlt(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.Alt = "wrong-network"

	err := p.stage2HashVersionAlt(u)
	if err == nil {
		t.Fatal("expected error for wrong alt")
	}
}

func TestStage2RejectsUnsupportedVersion(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.Version = "9.9"

	if err := p.stage2HashVersionAlt(u); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestStage5RejectsUnsortedParents(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.ParentUnits = []string{"p2", "p1"}

	err := p.stage5Parents(context.Background(), u)
	if err == nil {
		t.Fatal("expected error for unsorted parents")
	}
}

func TestStage6RejectsMinorityWitnessMatch(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.Witnesses = []string{"other1"}

	err := p.stage6Witnesses(context.Background(), u)
	if err == nil {
		t.Fatal("expected error for minority witness match")
	}
}

func TestStage6AcceptsMajorityWitnessMatch(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()

	if err := p.stage6Witnesses(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStage9RejectsUnbalancedPayment(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.Messages = []dag.Message{
		{App: dag.AppPayment, Payload: map[string]interface{}{
			"asset": "",
			"inputs": []map[string]interface{}{
				{"amount": 100},
			},
			"outputs": []map[string]interface{}{
				{"address": "addrB", "amount": 50},
			},
		}},
	}

	err := p.stage9Messages(context.Background(), u)
	if err == nil {
		t.Fatal("expected error for unbalanced payment")
	}
}

func TestStage9AcceptsBalancedPayment(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.Messages = []dag.Message{
		{App: dag.AppPayment, Payload: map[string]interface{}{
			"asset": "",
			"inputs": []map[string]interface{}{
				{"amount": 100},
			},
			"outputs": []map[string]interface{}{
				{"address": "addrB", "amount": 100},
			},
		}},
	}

	if err := p.stage9Messages(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStage8RequiresTPSFeeOnV4(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.TPSFee = 0

	if err := p.stage8Fees(context.Background(), u); err == nil {
		t.Fatal("expected error for missing TPS fee on v4 unit")
	}
}

func TestStage8SkippedBeforeV4(t *testing.T) {
	p := newTestPipeline()
	u := sampleUnit()
	u.Version = dag.VersionV3
	u.TPSFee = 0

	if err := p.stage8Fees(context.Background(), u); err != nil {
		t.Fatalf("unexpected error pre-v4: %v", err)
	}
}

func TestStructuralDepthGuardCatchesDeepNesting(t *testing.T) {
	var v interface{} = "leaf"
	for i := 0; i < dag.MaxStructuralDepth+10; i++ {
		v = map[string]interface{}{"n": v}
	}
	if _, ok := structuralDepth(v, 0); ok {
		t.Fatal("expected structural depth guard to trip")
	}
}

package aaexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

type fakeEvaluator struct {
	ifResults map[string]bool
	effects   map[string]Effect
	errOn     string
}

func (f *fakeEvaluator) EvaluateIf(expr string, t *Trigger, vars map[string]interface{}) (bool, error) {
	if expr == "" {
		return true, nil
	}
	return f.ifResults[expr], nil
}

func (f *fakeEvaluator) ExecuteStatement(stmt dag.AAStatement, t *Trigger, vars map[string]interface{}) (Effect, error) {
	if f.errOn != "" && stmt.Expr == f.errOn {
		return Effect{}, errors.New("boom")
	}
	if e, ok := f.effects[stmt.Expr]; ok {
		return e, nil
	}
	return Effect{}, nil
}

func testDeps(aa *dag.AAAddress, responseCount int) Deps {
	return Deps{
		ResolveAA: func(ctx context.Context, address string) (*dag.AAAddress, error) { return aa, nil },
		GetBalance: func(ctx context.Context, address, asset string) (uint64, error) { return 1000, nil },
		GetStateVar: func(ctx context.Context, address, name string) (json.RawMessage, bool, error) {
			return nil, false, nil
		},
		CountResponsesForPrimaryTrigger: func(ctx context.Context, unit string) (int, error) { return responseCount, nil },
	}
}

func TestExecuteBouncesWhenResponseCeilingReached(t *testing.T) {
	aa := &dag.AAAddress{Address: "AA1", Definition: dag.AADefinition{}}
	deps := testDeps(aa, 10)
	x := New(deps, &fakeEvaluator{})

	trig := &Trigger{Unit: "u1", AAAddress: "AA1", PrimaryUnit: "u1"}
	res, err := x.Execute(context.Background(), trig, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Bounced {
		t.Fatal("expected bounce once response ceiling reached")
	}
}

func TestExecuteSelectsFirstMatchingCase(t *testing.T) {
	aa := &dag.AAAddress{Address: "AA1", Definition: dag.AADefinition{
		Messages: []dag.AAMessageCase{
			{If: "cond1", Messages: []dag.AAStatement{{Kind: "payment", Expr: "pay1"}}},
			{If: "", Messages: []dag.AAStatement{{Kind: "payment", Expr: "pay2"}}},
		},
	}}
	deps := testDeps(aa, 0)
	eval := &fakeEvaluator{
		ifResults: map[string]bool{"cond1": false},
		effects: map[string]Effect{
			"pay2": {Payment: &PaymentEffect{Asset: "", Address: "addrB", Amount: 100}},
		},
	}
	x := New(deps, eval)

	trig := &Trigger{Unit: "u1", AAAddress: "AA1", PrimaryUnit: "u1"}
	res, err := x.Execute(context.Background(), trig, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Bounced {
		t.Fatalf("unexpected bounce: %s", res.BounceMsg)
	}
	if len(res.Payments) != 1 || res.Payments[0].Address != "addrB" {
		t.Fatalf("expected payment to addrB, got %+v", res.Payments)
	}
}

func TestExecuteBouncesOnStatementError(t *testing.T) {
	aa := &dag.AAAddress{Address: "AA1", Definition: dag.AADefinition{
		Messages: []dag.AAMessageCase{
			{If: "", Messages: []dag.AAStatement{{Kind: "payment", Expr: "bad"}}},
		},
	}}
	deps := testDeps(aa, 0)
	eval := &fakeEvaluator{errOn: "bad"}
	x := New(deps, eval)

	trig := &Trigger{Unit: "u1", AAAddress: "AA1", PrimaryUnit: "u1"}
	res, err := x.Execute(context.Background(), trig, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Bounced {
		t.Fatal("expected bounce on statement error")
	}
}

func TestSecondaryTriggerPreservesPrimaryAndIncrementsDepth(t *testing.T) {
	u := &dag.Unit{UnitHash: "u1", Authors: []dag.Author{{Address: "addrA"}}}
	primary := BuildTrigger(u, "AA1", nil, nil)
	secondary := primary.Secondary("u2", "AA2", nil, nil)

	if secondary.PrimaryUnit != "u1" {
		t.Fatalf("expected primary unit u1, got %s", secondary.PrimaryUnit)
	}
	if secondary.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", secondary.Depth)
	}
	if secondary.Author != "AA1" {
		t.Fatalf("expected secondary trigger author AA1 (the sending AA), got %s", secondary.Author)
	}
}

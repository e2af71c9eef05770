package aaexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// Evaluator runs the formula-language pieces of an AA program: case
// selection ("if") and statement execution. It is the external
// collaborator spec.md §1 places the formula language behind; aaexec
// itself only sequences cases/statements and turns their effects into
// storage writes and response-unit messages.
type Evaluator interface {
	// EvaluateIf reports whether a case's If expression holds for trigger,
	// given the AA's current local variables (populated by earlier
	// statements in the same execution, including Init blocks).
	EvaluateIf(expr string, trigger *Trigger, vars map[string]interface{}) (bool, error)

	// ExecuteStatement runs one statement and returns the effect it
	// produces, mutating vars in place for assignment-shaped statements.
	ExecuteStatement(stmt dag.AAStatement, trigger *Trigger, vars map[string]interface{}) (Effect, error)
}

// Effect is the structured result of one AA statement — the subset of
// "var"/"payment"/"data"/"data_feed"/"state" statement kinds the executor
// itself must act on (bookkeeping and response generation); anything else
// the evaluator reports stays opaque to aaexec.
type Effect struct {
	Payment  *PaymentEffect
	StateVar *StateVarEffect
	Bounce   string // non-empty means the execution must bounce with this message
}

// PaymentEffect is one payment a response unit must carry.
type PaymentEffect struct {
	Asset   string
	Address string
	Amount  uint64
}

// StateVarEffect is one state variable write.
type StateVarEffect struct {
	Name  string
	Value json.RawMessage
}

// Deps bundles the storage-backed operations the executor needs, kept as
// narrow function types (mirroring pkg/validation.Deps) so execution can be
// tested without a database.
type Deps struct {
	ResolveAA                   func(ctx context.Context, address string) (*dag.AAAddress, error)
	GetBalance                  func(ctx context.Context, address, asset string) (uint64, error)
	GetStateVar                 func(ctx context.Context, address, name string) (json.RawMessage, bool, error)
	CountResponsesForPrimaryTrigger func(ctx context.Context, primaryTriggerUnit string) (int, error)
}

// Result is what one AA execution produces for its trigger: the payments
// and state-var writes emitted by the chosen case's statements, or a bounce
// and its message. Secondary triggers those payments would invoke are not
// part of it.
type Result struct {
	Trigger   *Trigger
	Payments  []PaymentEffect
	StateVars []StateVarEffect
	Bounced   bool
	BounceMsg string
}

// Executor runs AA programs against triggers.
type Executor struct {
	deps Deps
	eval Evaluator
}

// New builds an Executor over deps and eval.
func New(deps Deps, eval Evaluator) *Executor {
	return &Executor{deps: deps, eval: eval}
}

// Execute runs the AA at t.AAAddress against t, enforcing
// MAX_RESPONSES_PER_PRIMARY_TRIGGER against the primary trigger's running
// response count before doing any work (spec.md §4.5: bounded
// secondary-trigger fan-out).
func (x *Executor) Execute(ctx context.Context, t *Trigger, maxResponses int) (*Result, error) {
	count, err := x.deps.CountResponsesForPrimaryTrigger(ctx, t.PrimaryUnit)
	if err != nil {
		return nil, fmt.Errorf("aaexec: count responses for %s: %w", t.PrimaryUnit, err)
	}
	if count >= maxResponses {
		return &Result{Trigger: t, Bounced: true, BounceMsg: "max AA responses per primary trigger exceeded"}, nil
	}

	aa, err := x.deps.ResolveAA(ctx, t.AAAddress)
	if err != nil {
		return nil, fmt.Errorf("aaexec: resolve AA %s: %w", t.AAAddress, err)
	}

	vars := make(map[string]interface{})
	if aa.Definition.Init != nil {
		if err := x.runBlock(aa.Definition.Init, t, vars); err != nil {
			return bounceResult(t, err), nil
		}
	}

	var chosen *dag.AAMessageCase
	for i := range aa.Definition.Messages {
		c := &aa.Definition.Messages[i]
		ok, err := x.eval.EvaluateIf(c.If, t, vars)
		if err != nil {
			return bounceResult(t, err), nil
		}
		if ok {
			chosen = c
			break
		}
	}
	if chosen == nil {
		return &Result{Trigger: t}, nil
	}
	if chosen.Init != nil {
		if err := x.runBlock(chosen.Init, t, vars); err != nil {
			return bounceResult(t, err), nil
		}
	}

	result := &Result{Trigger: t}
	for _, stmt := range chosen.Messages {
		effect, err := x.eval.ExecuteStatement(stmt, t, vars)
		if err != nil {
			return bounceResult(t, err), nil
		}
		if effect.Bounce != "" {
			return &Result{Trigger: t, Bounced: true, BounceMsg: effect.Bounce}, nil
		}
		if effect.Payment != nil {
			result.Payments = append(result.Payments, *effect.Payment)
		}
		if effect.StateVar != nil {
			result.StateVars = append(result.StateVars, *effect.StateVar)
		}
	}
	return result, nil
}

func (x *Executor) runBlock(block *dag.AABlock, t *Trigger, vars map[string]interface{}) error {
	for _, stmt := range block.Statements {
		effect, err := x.eval.ExecuteStatement(stmt, t, vars)
		if err != nil {
			return err
		}
		if effect.Bounce != "" {
			return fmt.Errorf("aaexec: init block bounced: %s", effect.Bounce)
		}
	}
	return nil
}

func bounceResult(t *Trigger, err error) *Result {
	return &Result{Trigger: t, Bounced: true, BounceMsg: err.Error()}
}

// RequiredStorageBalance reports whether address's current byte balance
// (its AA-held "base" asset balance, spec.md §4.5) covers deltaStorageSize
// more bytes of state. AAs that go negative on storage must bounce rather
// than commit a state write they can't afford.
func (x *Executor) RequiredStorageBalance(ctx context.Context, address string, deltaStorageSize int64, bytePrice uint64) (bool, error) {
	if deltaStorageSize <= 0 {
		return true, nil
	}
	balance, err := x.deps.GetBalance(ctx, address, "")
	if err != nil {
		return false, fmt.Errorf("aaexec: get balance for %s: %w", address, err)
	}
	required := uint64(deltaStorageSize) * bytePrice
	return balance >= required, nil
}

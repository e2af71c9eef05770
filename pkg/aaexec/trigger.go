// Package aaexec implements Autonomous Agent execution: trigger
// construction, AA definition resolution (including parameterized
// instantiations), message-case selection, response-unit generation,
// bounded secondary-trigger fan-out and bounce handling (spec.md §4.5).
// The formula language AAStatement.Expr carries is an external
// collaborator (spec.md §1 Non-goals) — this package evaluates case
// selection and statement execution through an injected Evaluator
// rather than interpreting expressions itself, the same boundary
// pkg/address draws around its `formula` definition-tree leaf.
package aaexec

import (
	"github.com/meshledger/dagnode/pkg/dag"
)

// Trigger is what invokes an AA: a unit whose first author paid to the
// AA's address, carrying the aggregated outputs and a derived data
// message (spec.md §4.5: "trigger.address/trigger.data/trigger.output*").
type Trigger struct {
	Unit          string
	Author        string // authors[0].address
	AAAddress     string
	Data          map[string]interface{}
	Outputs       map[string]uint64 // asset -> amount received by the AA in this trigger
	PrimaryUnit   string            // the root trigger of this secondary-trigger chain
	Depth         int               // 0 for a primary trigger
}

// BuildTrigger constructs the Trigger a payment to aaAddress produces. data
// is the decoded payload of the unit's `data` message addressed to the AA,
// if any (nil when the unit carries none).
func BuildTrigger(u *dag.Unit, aaAddress string, outputs map[string]uint64, data map[string]interface{}) *Trigger {
	var author string
	if len(u.Authors) > 0 {
		author = u.Authors[0].Address
	}
	return &Trigger{
		Unit:      u.UnitHash,
		Author:    author,
		AAAddress: aaAddress,
		Data:      data,
		Outputs:   outputs,
		PrimaryUnit: u.UnitHash,
		Depth:     0,
	}
}

// Secondary derives the trigger a response unit r sends onward to the next
// AA it pays, preserving the primary trigger at the root of the chain and
// incrementing depth so the executor can enforce
// MAX_RESPONSES_PER_PRIMARY_TRIGGER.
func (t *Trigger) Secondary(responseUnit, nextAAAddress string, outputs map[string]uint64, data map[string]interface{}) *Trigger {
	return &Trigger{
		Unit:        responseUnit,
		Author:      t.AAAddress,
		AAAddress:   nextAAAddress,
		Data:        data,
		Outputs:     outputs,
		PrimaryUnit: t.PrimaryUnit,
		Depth:       t.Depth + 1,
	}
}

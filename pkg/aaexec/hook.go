package aaexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/storage"
)

// Hook bundles what a writer pre-commit hook needs to detect and run an AA
// trigger from a newly-inserted unit's payment messages, kept outside
// pkg/writer so the writer package never imports pkg/aaexec directly —
// cmd/dagnode wires Hook.PreCommit in as a writer.PreCommitHook purely by
// matching its function signature, keeping the dependency graph acyclic
// (spec.md §4.6).
type Hook struct {
	exec         *Executor
	aaRepo       *storage.AARepository
	maxResponses int
}

// NewHook builds a Hook over exec and aaRepo.
func NewHook(exec *Executor, aaRepo *storage.AARepository, maxResponses int) *Hook {
	return &Hook{exec: exec, aaRepo: aaRepo, maxResponses: maxResponses}
}

// PreCommit matches writer.PreCommitHook's signature exactly. For every
// payment message in u addressed to a registered AA, it builds and runs a
// primary trigger, recording the trigger/response and any state-variable
// effects inside tx so they commit atomically with the unit itself
// (spec.md §4.5, §4.6). Response-unit composition and broadcast are left
// to the outbound gossip layer (spec.md §1 Non-goals) — only the
// bookkeeping an in-process executor can settle synchronously happens
// here.
func (h *Hook) PreCommit(ctx context.Context, tx *storage.Tx, u *dag.Unit) error {
	for i, msg := range u.Messages {
		if msg.App != dag.AppPayment {
			continue
		}
		pm, err := decodeTriggerPayment(msg.Payload)
		if err != nil {
			return fmt.Errorf("aaexec: decode payment message %d of %s: %w", i, u.UnitHash, err)
		}

		outputsByAddress := make(map[string]map[string]uint64)
		for _, out := range pm.Outputs {
			asset := out.Asset
			if asset == "" {
				asset = pm.Asset
			}
			if outputsByAddress[out.Address] == nil {
				outputsByAddress[out.Address] = make(map[string]uint64)
			}
			outputsByAddress[out.Address][asset] += out.Amount
		}

		for address, outputs := range outputsByAddress {
			if _, err := h.aaRepo.GetAAAddress(ctx, address); err != nil {
				if err == storage.ErrNotFound {
					continue // an ordinary payment address, not an AA: nothing to trigger
				}
				return fmt.Errorf("aaexec: resolve aa %s: %w", address, err)
			}

			t := BuildTrigger(u, address, outputs, decodeDataMessage(u))
			result, err := h.exec.Execute(ctx, t, h.maxResponses)
			if err != nil {
				return fmt.Errorf("aaexec: execute trigger %s->%s: %w", u.UnitHash, address, err)
			}
			if err := h.aaRepo.RecordTrigger(ctx, tx, u.UnitHash, address, t.Depth, t.PrimaryUnit); err != nil {
				return err
			}
			for _, sv := range result.StateVars {
				if err := h.aaRepo.SetStateVar(ctx, tx, address, sv.Name, sv.Value); err != nil {
					return err
				}
			}
			if err := h.aaRepo.RecordResponse(ctx, tx, u.UnitHash, address, 0, "", result.Bounced, result.BounceMsg); err != nil {
				return err
			}
		}
	}
	return nil
}

type triggerPayment struct {
	Asset   string `json:"asset"`
	Outputs []struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
		Asset   string `json:"asset"`
	} `json:"outputs"`
}

// decodeTriggerPayment re-parses a payment message's opaque payload for
// trigger detection, independently of pkg/writer's identical decode — the
// two packages read the same wire shape for different purposes (storage
// rows vs. trigger construction) and neither should import the other just
// to share an unmarshal step.
func decodeTriggerPayment(payload interface{}) (triggerPayment, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return triggerPayment{}, fmt.Errorf("aaexec: marshal payment payload: %w", err)
	}
	var pm triggerPayment
	if err := json.Unmarshal(b, &pm); err != nil {
		return triggerPayment{}, fmt.Errorf("aaexec: unmarshal payment payload: %w", err)
	}
	return pm, nil
}

// decodeDataMessage returns the decoded payload of u's first "data"
// message, if any, for trigger.data (spec.md §4.5).
func decodeDataMessage(u *dag.Unit) map[string]interface{} {
	for _, msg := range u.Messages {
		if msg.App != dag.AppData {
			continue
		}
		if m, ok := msg.Payload.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

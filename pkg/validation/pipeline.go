package validation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/meshledger/dagnode/pkg/address"
	"github.com/meshledger/dagnode/pkg/config"
	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/hash"
	"github.com/meshledger/dagnode/pkg/storage"
)

// Deps bundles the lookups the pipeline needs from the storage layer and
// from the node's witness/network configuration. It is intentionally a
// struct of narrow function types rather than the concrete storage types,
// so tests can substitute fakes without building a Postgres-backed
// storage.Client.
type Deps struct {
	Alt         string
	WitnessList []string

	HasUnit            func(ctx context.Context, unit string) (bool, error)
	IsStable           func(ctx context.Context, unit string) (bool, error)
	GetUnitProps       func(ctx context.Context, unit string) (*dag.UnitProps, error)
	GetBallByUnit      func(ctx context.Context, unit string) (string, error)
	ResolveDefinition  func(ctx context.Context, address string) (*dag.DefinitionNode, uint64, error)
	UnspentOutputs     func(ctx context.Context, address, asset string) ([]dag.Output, error)
	DataFeedLookup     address.DataFeedLookup
	MerkleLookup       address.MerkleLookup
	Now                func() int64
}

// Pipeline runs the nine validation stages against a candidate unit.
type Pipeline struct {
	deps Deps
	sigs *address.SigVerifiers
}

// New builds a Pipeline over deps.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, sigs: address.NewSigVerifiers()}
}

// DepsFromConfig seeds the network-level fields of Deps (alt-tag, witness
// list) from cfg; callers still need to fill in the storage-backed lookups
// themselves since Deps intentionally has no dependency on *storage.Client.
func DepsFromConfig(cfg *config.Config) Deps {
	return Deps{
		Alt:         cfg.Alt,
		WitnessList: cfg.WitnessList,
	}
}

// Validate runs all nine stages and returns the first failure, or nil if u
// is acceptable. Stage 3 (payload size) runs before stage 2 so the size
// limit is enforced before the canonical unit hash is computed; the other
// stages run in numeric order. The recursive structural walk (stage 1)
// stops at dag.MaxStructuralDepth.
func (p *Pipeline) Validate(ctx context.Context, u *dag.Unit) error {
	if err := p.stage1Structural(u); err != nil {
		return err
	}
	if err := p.stage3PayloadSize(u); err != nil {
		return err
	}
	if err := p.stage2HashVersionAlt(u); err != nil {
		return err
	}
	if err := p.stage4Duplicate(ctx, u); err != nil {
		return err
	}
	if err := p.stage5Parents(ctx, u); err != nil {
		return err
	}
	if err := p.stage6Witnesses(ctx, u); err != nil {
		return err
	}
	if err := p.stage7AuthorsAndSignatures(ctx, u); err != nil {
		return err
	}
	if err := p.stage8Fees(ctx, u); err != nil {
		return err
	}
	if err := p.stage9Messages(ctx, u); err != nil {
		return err
	}
	return nil
}

// ---- Stage 1: structural ----

func (p *Pipeline) stage1Structural(u *dag.Unit) error {
	if u == nil {
		return newErr(KindUnitError, 1, "unit is nil", nil)
	}
	if len(u.Messages) == 0 {
		return newErr(KindUnitError, 1, "unit has no messages", nil)
	}
	if len(u.Messages) > dag.MaxMessagesPerUnit {
		return newErr(KindUnitError, 1, fmt.Sprintf("too many messages: %d > %d", len(u.Messages), dag.MaxMessagesPerUnit), nil)
	}
	if len(u.Authors) == 0 {
		return newErr(KindUnitError, 1, "unit has no authors", nil)
	}
	if len(u.Authors) > dag.MaxAuthorsPerUnit {
		return newErr(KindUnitError, 1, fmt.Sprintf("too many authors: %d > %d", len(u.Authors), dag.MaxAuthorsPerUnit), nil)
	}
	if len(u.ParentUnits) == 0 {
		return newErr(KindUnitError, 1, "unit has no parents (non-genesis)", nil)
	}
	if len(u.ParentUnits) > dag.MaxParentsPerUnit {
		return newErr(KindUnitError, 1, fmt.Sprintf("too many parents: %d > %d", len(u.ParentUnits), dag.MaxParentsPerUnit), nil)
	}
	for i, msg := range u.Messages {
		if depth, ok := structuralDepth(msg.Payload, 0); !ok || depth > dag.MaxStructuralDepth {
			return newErr(KindUnitError, 1, fmt.Sprintf("message %d exceeds structural depth limit", i), nil)
		}
	}
	return nil
}

// structuralDepth walks payload carrying a depth counter rather than
// relying on native recursion limits, returning false once depth exceeds
// MaxStructuralDepth so the caller fails before stack exhaustion could.
func structuralDepth(v interface{}, depth int) (int, bool) {
	if depth > dag.MaxStructuralDepth {
		return depth, false
	}
	switch t := v.(type) {
	case map[string]interface{}:
		max := depth
		for _, sub := range t {
			d, ok := structuralDepth(sub, depth+1)
			if !ok {
				return d, false
			}
			if d > max {
				max = d
			}
		}
		return max, true
	case []interface{}:
		max := depth
		for _, sub := range t {
			d, ok := structuralDepth(sub, depth+1)
			if !ok {
				return d, false
			}
			if d > max {
				max = d
			}
		}
		return max, true
	default:
		return depth, true
	}
}

// ---- Stage 2: hash/version/alt ----

func (p *Pipeline) stage2HashVersionAlt(u *dag.Unit) error {
	switch u.Version {
	case dag.VersionLegacy, dag.VersionV3, dag.VersionV4:
	default:
		return newErr(KindUnitError, 2, fmt.Sprintf("unsupported version %q", u.Version), nil)
	}
	if u.Alt != p.deps.Alt {
		return newErr(KindUnitError, 2, fmt.Sprintf("wrong network alt: got %q want %q", u.Alt, p.deps.Alt), nil)
	}

	want, err := hash.UnitHash(u)
	if err != nil {
		return newErr(KindUnitError, 2, "compute unit hash", err)
	}
	if u.UnitHash != "" && u.UnitHash != want {
		return newErr(KindUnitError, 2, fmt.Sprintf("hash mismatch: claimed %q computed %q", u.UnitHash, want), nil)
	}
	return nil
}

// ---- Stage 3: payload size, before any deep-clone/canonicalization ----

func (p *Pipeline) stage3PayloadSize(u *dag.Unit) error {
	b, err := json.Marshal(u)
	if err != nil {
		return newErr(KindUnitError, 3, "marshal unit for size check", err)
	}
	if len(b) > dag.MaxUnitLength {
		return newErr(KindUnitError, 3, fmt.Sprintf("unit exceeds max length: %d > %d", len(b), dag.MaxUnitLength), nil)
	}
	return nil
}

// ---- Stage 4: duplicate ----

func (p *Pipeline) stage4Duplicate(ctx context.Context, u *dag.Unit) error {
	if p.deps.HasUnit == nil {
		return nil
	}
	exists, err := p.deps.HasUnit(ctx, u.UnitHash)
	if err != nil {
		return newErr(KindTransientError, 4, "check duplicate", err)
	}
	if exists {
		return newErr(KindUnitError, 4, fmt.Sprintf("unit %s already present", u.UnitHash), nil)
	}
	return nil
}

// ---- Stage 5: parents ----

func (p *Pipeline) stage5Parents(ctx context.Context, u *dag.Unit) error {
	sorted := append([]string(nil), u.ParentUnits...)
	sort.Strings(sorted)
	for i, parent := range u.ParentUnits {
		if parent != sorted[i] {
			return newErr(KindUnitError, 5, "parent_units must be sorted", nil)
		}
		if i > 0 && u.ParentUnits[i-1] == parent {
			return newErr(KindUnitError, 5, "duplicate parent unit", nil)
		}
	}

	for _, parent := range u.ParentUnits {
		if p.deps.GetUnitProps == nil {
			continue
		}
		props, err := p.deps.GetUnitProps(ctx, parent)
		if err == storage.ErrNotFound {
			return newErr(KindUnresolvedDependency, 5, fmt.Sprintf("parent %s not yet known", parent), nil)
		}
		if err != nil {
			return newErr(KindTransientError, 5, "load parent props", err)
		}
		if props.Timestamp > 0 && u.Timestamp > 0 && props.Timestamp >= u.Timestamp {
			return newErr(KindUnitError, 5, "unit does not strictly postdate a parent", nil)
		}
	}

	if u.LastBallUnit != "" {
		if p.deps.IsStable != nil {
			stable, err := p.deps.IsStable(ctx, u.LastBallUnit)
			if err != nil {
				return newErr(KindTransientError, 5, "check last_ball_unit stability", err)
			}
			if !stable {
				return newErr(KindUnresolvedDependency, 5, "last_ball_unit is not yet stable", nil)
			}
		}
		if p.deps.GetBallByUnit != nil {
			ball, err := p.deps.GetBallByUnit(ctx, u.LastBallUnit)
			if err != nil {
				return newErr(KindTransientError, 5, "load ball for last_ball_unit", err)
			}
			if u.LastBall != "" && u.LastBall != ball {
				return newErr(KindInvalidJoint, 5, "last_ball does not match recomputed ball(last_ball_unit)", nil)
			}
		}
	}
	return nil
}

// ---- Stage 6: witnesses ----

func (p *Pipeline) stage6Witnesses(ctx context.Context, u *dag.Unit) error {
	if len(p.deps.WitnessList) == 0 || len(u.Witnesses) == 0 {
		return nil
	}
	declared := make(map[string]bool, len(u.Witnesses))
	for _, w := range u.Witnesses {
		declared[w] = true
	}
	matches := 0
	for _, w := range p.deps.WitnessList {
		if declared[w] {
			matches++
		}
	}
	if matches*2 <= len(p.deps.WitnessList) {
		return newErr(KindUnitError, 6, "declared witnesses do not reach a majority match with the active witness list", nil)
	}
	return nil
}

// ---- Stage 7: authors & signatures ----

func (p *Pipeline) stage7AuthorsAndSignatures(ctx context.Context, u *dag.Unit) error {
	messageToSign, err := hash.UnitHashToSign(u)
	if err != nil {
		return newErr(KindUnitError, 7, "compute unit_hash_to_sign", err)
	}
	digest, err := base64.StdEncoding.DecodeString(messageToSign)
	if err != nil {
		// UnitHashToSign returns base64 text, so authors sign the decoded
		// 32-byte digest; the string form itself is used only if that
		// text fails to decode.
		digest = []byte(messageToSign)
	}

	for _, a := range u.Authors {
		def := a.Definition
		originMCI := uint64(0)
		if def == nil && p.deps.ResolveDefinition != nil {
			stored, mci, err := p.deps.ResolveDefinition(ctx, a.Address)
			if err != nil {
				return newErr(KindUnitError, 7, fmt.Sprintf("resolve definition for %s", a.Address), err)
			}
			def = stored
			originMCI = mci
		}
		if def == nil {
			return newErr(KindUnitError, 7, fmt.Sprintf("no definition available for author %s", a.Address), nil)
		}

		evalCtx := &address.Context{
			Authentifiers: a.Authentifiers,
			MessageToSign: digest,
			Sigs:          p.sigs,
			Feeds:         p.deps.DataFeedLookup,
			Merkle:        p.deps.MerkleLookup,
			Resolve: func(addr string) (*dag.DefinitionNode, error) {
				if p.deps.ResolveDefinition == nil {
					return nil, fmt.Errorf("no definition resolver configured")
				}
				d, _, err := p.deps.ResolveDefinition(ctx, addr)
				return d, err
			},
			Outputs: func(addr, asset string) []uint64 {
				if p.deps.UnspentOutputs == nil {
					return nil
				}
				outs, err := p.deps.UnspentOutputs(ctx, addr, asset)
				if err != nil {
					return nil
				}
				amounts := make([]uint64, len(outs))
				for i, o := range outs {
					amounts[i] = o.Amount
				}
				return amounts
			},
			Now:       p.nowOrZero(),
			OriginMCI: func(string) (uint64, bool) { return originMCI, originMCI > 0 },
		}
		if evalCtx.Feeds == nil {
			evalCtx.Feeds = func(string, string, uint64) (string, bool) { return "", false }
		}
		if evalCtx.Merkle == nil {
			evalCtx.Merkle = func(string, string) bool { return false }
		}

		ok, err := address.Evaluate(def, "r", evalCtx)
		if err != nil {
			return newErr(KindUnitError, 7, fmt.Sprintf("evaluate definition for %s", a.Address), err)
		}
		if !ok {
			return newErr(KindUnitError, 7, fmt.Sprintf("signature/authentifier check failed for %s", a.Address), nil)
		}
	}
	return nil
}

func (p *Pipeline) nowOrZero() int64 {
	if p.deps.Now == nil {
		return 0
	}
	return p.deps.Now()
}

// ---- Stage 8: fees ----

func (p *Pipeline) stage8Fees(ctx context.Context, u *dag.Unit) error {
	if u.Version != dag.VersionV4 {
		return nil
	}
	size, err := json.Marshal(u)
	if err != nil {
		return newErr(KindUnitError, 8, "marshal unit for fee sizing", err)
	}
	required := RequiredTPSFee(len(size))
	if u.TPSFee < required {
		return newErr(KindUnitError, 8, fmt.Sprintf("insufficient TPS fee: %d < %d", u.TPSFee, required), nil)
	}
	return nil
}

// RequiredTPSFee computes the minimum TPS fee a v4 unit of byteSize bytes
// must declare: one fee unit per byte. Stage 8 is its only caller; pkg/fees
// does not compute TPS fees.
func RequiredTPSFee(byteSize int) uint64 {
	const feePerByte = 1
	return uint64(byteSize) * feePerByte
}

// ---- Stage 9: messages ----

func (p *Pipeline) stage9Messages(ctx context.Context, u *dag.Unit) error {
	balances := make(map[string]int64)
	for i, msg := range u.Messages {
		switch msg.App {
		case dag.AppPayment:
			if err := validatePaymentBalance(msg.Payload, balances); err != nil {
				return newErr(KindUnitError, 9, fmt.Sprintf("message %d: payment balance", i), err)
			}
		case dag.AppDefinition, dag.AppAddressDefinitionChange:
			if err := validateDefinitionMessage(msg.Payload); err != nil {
				return newErr(KindUnitError, 9, fmt.Sprintf("message %d: definition", i), err)
			}
		}
	}
	for asset, delta := range balances {
		if delta != 0 {
			return newErr(KindUnitError, 9, fmt.Sprintf("asset %q inputs/outputs do not balance (delta=%d)", asset, delta), nil)
		}
	}
	return nil
}

type paymentPayload struct {
	Asset   string      `json:"asset"`
	Inputs  []dag.Input `json:"inputs"`
	Outputs []struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
	} `json:"outputs"`
}

func validatePaymentBalance(payload interface{}, balances map[string]int64) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var pp paymentPayload
	if err := json.Unmarshal(b, &pp); err != nil {
		return err
	}
	for _, in := range pp.Inputs {
		balances[pp.Asset] += int64(in.Amount)
	}
	for _, out := range pp.Outputs {
		balances[pp.Asset] -= int64(out.Amount)
	}
	return nil
}

func validateDefinitionMessage(payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if len(b) > dag.MaxAAStringLength*8 {
		return fmt.Errorf("definition payload too large: %d bytes", len(b))
	}
	return nil
}


package address

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/meshledger/dagnode/pkg/dag"
)

// Evaluate runs the bottom-up interpreter over node, returning whether the
// tree is satisfied by ctx.Authentifiers and the other lookups ctx carries.
// path is the authentifier-object key for node ("r" at the definition
// root); and/or/r-of-set/weighted-and number their children path+".0",
// path+".1", ...
//
// Every branch is evaluated unconditionally, never short-circuited, so
// that ctx.Complexity reflects the whole tree — including an `address`
// branch the authentifier path didn't take — per the re-validation
// invariant that a redefined nested address must still be checked against
// MAX_COMPLEXITY even when a sibling branch is what actually authenticated.
func Evaluate(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	if node == nil {
		return false, fmt.Errorf("address: nil definition node at %q", path)
	}
	if err := ctx.addComplexity(node); err != nil {
		return false, err
	}

	switch node.Op {
	case dag.OpSig:
		return evalSig(node, path, ctx)
	case dag.OpHash:
		return evalHash(node, path, ctx)
	case dag.OpAnd:
		return evalAnd(node, path, ctx)
	case dag.OpOr:
		return evalOr(node, path, ctx)
	case dag.OpROfSet:
		return evalROfSet(node, path, ctx)
	case dag.OpWeightedAnd:
		return evalWeightedAnd(node, path, ctx)
	case dag.OpAddress:
		return evalAddress(node, path, ctx)
	case dag.OpDefinitionTemplate:
		return evalDefinitionTemplate(node, path, ctx)
	case dag.OpNot:
		ok, err := Evaluate(node.Sub, path, ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case dag.OpInDataFeed:
		return evalInDataFeed(node, ctx), nil
	case dag.OpInMerkle:
		return evalInMerkle(node, path, ctx), nil
	case dag.OpTimestamp:
		return compareRelation(ctx.Now, node.Bound, node.Relation), nil
	case dag.OpMCI:
		return compareRelation(int64(ctx.MCI), node.Bound, node.Relation), nil
	case dag.OpAge:
		return evalAge(node, ctx), nil
	case dag.OpHas:
		return evalHas(node, ctx, false), nil
	case dag.OpHasOne:
		return evalHas(node, ctx, true), nil
	case dag.OpHasEqual:
		return evalHasEqual(node, ctx), nil
	case dag.OpSum:
		return evalSum(node, ctx), nil
	case dag.OpAttested:
		return evalAttested(node, ctx), nil
	case dag.OpSeen:
		return ctx.Witnessed["unit:"+node.SeenUnit], nil
	case dag.OpSeenAddress:
		return ctx.Witnessed["address:"+node.SeenAddress], nil
	case dag.OpCosignedBy:
		return ctx.Witnessed["cosigner:"+node.SeenAddress], nil
	case dag.OpFormula:
		ok, present := ctx.FormulaResults[path]
		return present && ok, nil
	default:
		return false, fmt.Errorf("%w: %q", dag.ErrUnknownOp, node.Op)
	}
}

func evalSig(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	authHex, ok := ctx.Authentifiers[path]
	if !ok {
		return false, nil
	}
	pubKey, err := base64.StdEncoding.DecodeString(node.PubKey)
	if err != nil {
		return false, fmt.Errorf("address: decode pubkey at %q: %w", path, err)
	}
	sig, err := base64.StdEncoding.DecodeString(authHex)
	if err != nil {
		return false, fmt.Errorf("address: decode signature at %q: %w", path, err)
	}
	return ctx.Sigs.Verify(node.Scheme, pubKey, ctx.MessageToSign, sig)
}

func evalHash(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	preimageB64, ok := ctx.Authentifiers[path]
	if !ok {
		return false, nil
	}
	preimage, err := base64.StdEncoding.DecodeString(preimageB64)
	if err != nil {
		return false, fmt.Errorf("address: decode hash preimage at %q: %w", path, err)
	}
	want, err := base64.StdEncoding.DecodeString(node.HashValue)
	if err != nil {
		return false, fmt.Errorf("address: decode hash value at %q: %w", path, err)
	}
	got := sha256.Sum256(preimage)
	return string(got[:]) == string(want), nil
}

func evalAnd(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	all := true
	for i, sub := range node.Subs {
		ok, err := Evaluate(sub, childPath(path, i), ctx)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

func evalOr(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	any := false
	for i, sub := range node.Subs {
		ok, err := Evaluate(sub, childPath(path, i), ctx)
		if err != nil {
			return false, err
		}
		any = any || ok
	}
	return any, nil
}

func evalROfSet(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	count := 0
	for i, sub := range node.Subs {
		ok, err := Evaluate(sub, childPath(path, i), ctx)
		if err != nil {
			return false, err
		}
		if ok {
			count++
		}
	}
	return count >= node.Required, nil
}

func evalWeightedAnd(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	var weight int
	for i, sub := range node.Subs {
		ok, err := Evaluate(sub, childPath(path, i), ctx)
		if err != nil {
			return false, err
		}
		if ok && i < len(node.Weights) {
			weight += int(node.Weights[i])
		}
	}
	return weight >= node.Required, nil
}

func evalAddress(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	def, err := ctx.Resolve(node.RefAddress)
	if err != nil {
		return false, fmt.Errorf("address: resolve %q: %w", node.RefAddress, err)
	}
	return Evaluate(def, path, ctx)
}

func evalDefinitionTemplate(node *dag.DefinitionNode, path string, ctx *Context) (bool, error) {
	def, err := ctx.Resolve(node.TemplateAddress)
	if err != nil {
		return false, fmt.Errorf("address: resolve template %q: %w", node.TemplateAddress, err)
	}
	substituted := substituteTemplateParams(def, node.TemplateParams)
	return Evaluate(substituted, path, ctx)
}

// substituteTemplateParams deep-clones def and replaces any leaf string
// field equal to "$<param>" with its bound value, the way a definition
// template's free variables are bound at instantiation.
func substituteTemplateParams(def *dag.DefinitionNode, params map[string]string) *dag.DefinitionNode {
	if def == nil || len(params) == 0 {
		return def
	}
	clone := *def
	sub := func(s string) string {
		if v, ok := params["$"+s]; ok {
			return v
		}
		if len(s) > 1 && s[0] == '$' {
			if v, ok := params[s]; ok {
				return v
			}
		}
		return s
	}
	clone.PubKey = sub(clone.PubKey)
	clone.RefAddress = sub(clone.RefAddress)
	clone.HashValue = sub(clone.HashValue)
	clone.FeedName = sub(clone.FeedName)
	clone.Value = sub(clone.Value)
	clone.AssetFilter = sub(clone.AssetFilter)
	clone.EqualField = sub(clone.EqualField)
	clone.SumAsset = sub(clone.SumAsset)
	clone.SeenUnit = sub(clone.SeenUnit)
	clone.SeenAddress = sub(clone.SeenAddress)
	if clone.Subs != nil {
		clone.Subs = make([]*dag.DefinitionNode, len(def.Subs))
		for i, s := range def.Subs {
			clone.Subs[i] = substituteTemplateParams(s, params)
		}
	}
	clone.Sub = substituteTemplateParams(def.Sub, params)
	return &clone
}

func evalInDataFeed(node *dag.DefinitionNode, ctx *Context) bool {
	for _, oracle := range node.Oracles {
		value, ok := ctx.Feeds(oracle, node.FeedName, ctx.MCI)
		if !ok {
			continue
		}
		if compareStrings(value, node.Value, node.Comparison) {
			return true
		}
	}
	return false
}

func evalInMerkle(node *dag.DefinitionNode, path string, ctx *Context) bool {
	element, ok := ctx.Authentifiers[path]
	if !ok {
		return false
	}
	return ctx.Merkle(node.MerkleRoot, element)
}

func evalAge(node *dag.DefinitionNode, ctx *Context) bool {
	origin, ok := ctx.OriginMCI(node.RefAddress)
	if !ok {
		return false
	}
	age := int64(ctx.MCI) - int64(origin)
	return compareRelation(age, node.Bound, node.Relation)
}

func evalHas(node *dag.DefinitionNode, ctx *Context, exactlyOne bool) bool {
	amounts := ctx.Outputs("", node.AssetFilter)
	matches := 0
	for _, a := range amounts {
		if a >= node.AmountAtLeast {
			matches++
		}
	}
	if exactlyOne {
		return matches == 1
	}
	return matches > 0
}

func evalHasEqual(node *dag.DefinitionNode, ctx *Context) bool {
	amounts := ctx.Outputs("", node.AssetFilter)
	if len(amounts) < 2 {
		return false
	}
	return amounts[0] == amounts[1]
}

func evalSum(node *dag.DefinitionNode, ctx *Context) bool {
	var total uint64
	for _, a := range ctx.Outputs("", node.SumAsset) {
		total += a
	}
	return total >= node.SumAtLeast
}

func evalAttested(node *dag.DefinitionNode, ctx *Context) bool {
	count := 0
	for _, oracle := range node.Oracles {
		value, ok := ctx.Feeds(oracle, node.FeedName, ctx.MCI)
		if ok && value == node.Value {
			count++
		}
	}
	if node.MinCount > 0 {
		return count >= node.MinCount
	}
	return count > 0
}

func childPath(parent string, i int) string {
	return parent + "." + strconv.Itoa(i)
}

func compareRelation(got, bound int64, relation string) bool {
	switch relation {
	case "<":
		return got < bound
	case "<=":
		return got <= bound
	case ">":
		return got > bound
	case ">=":
		return got >= bound
	case "=", "":
		return got == bound
	default:
		return false
	}
}

func compareStrings(got, want, comparison string) bool {
	switch comparison {
	case "=", "":
		return got == want
	case "!=":
		return got != want
	default:
		// Numeric comparisons fall back to lexicographic order on the
		// fixed-width encoded feed values (pkg/hash.EncodeFeedValue),
		// which is exactly what makes that encoding useful here.
		switch comparison {
		case "<":
			return got < want
		case "<=":
			return got <= want
		case ">":
			return got > want
		case ">=":
			return got >= want
		default:
			return false
		}
	}
}

// Package address implements the bottom-up interpreter over address
// capability trees (pkg/dag.DefinitionNode). It generalizes the teacher's
// multi-scheme attestation verification (pkg/attestation/strategy) from "one
// scheme checks one attestation" to "a tree of sig/hash/boolean/oracle
// leaves checks one author", dispatching every sig leaf through
// pkg/sigscheme and every nested address leaf through a caller-supplied
// resolver.
package address

import "github.com/meshledger/dagnode/pkg/dag"

// DataFeedLookup resolves the most recent value an oracle posted to a named
// feed at or before atMCI, for the `in data feed` operator.
type DataFeedLookup func(oracle, feed string, atMCI uint64) (value string, ok bool)

// MerkleLookup reports whether element is included under root, for the
// `in merkle` operator.
type MerkleLookup func(root, element string) bool

// AddressResolver resolves a stored definition for address, for the
// `address` and `definition template` operators and for address-valued
// entries of an `r of set` / `weighted and` set.
type AddressResolver func(addr string) (*dag.DefinitionNode, error)

// OutputLookup lists the amounts of the outputs an address has received in
// asset within the unit/trigger under evaluation, one entry per output, for
// `has`/`has one`/`has equal`/`sum`. The evaluator counts the qualifying
// entries itself to tell `has` (any) from `has one` (exactly one).
type OutputLookup func(address, asset string) (amounts []uint64)

// Context carries everything an Evaluate call needs beyond the tree and
// authentifiers themselves: the chain-state lookups a leaf may consult and
// the running complexity budget that MAX_COMPLEXITY bounds.
type Context struct {
	// Authentifiers is keyed by the dot-joined tree path Evaluate assigns
	// each sig/hash leaf (root is "r", and/or/r-of-set/weighted-and number
	// their subs "r.0", "r.1", ...), mirroring how definitions address
	// their authentifier object.
	Authentifiers map[string]string

	// MessageToSign is what every sig leaf's signature must authenticate —
	// normally the unit's unit_hash_to_sign.
	MessageToSign []byte

	Sigs     *SigVerifiers
	Feeds    DataFeedLookup
	Merkle   MerkleLookup
	Resolve  AddressResolver
	Outputs  OutputLookup

	Now       int64  // unix seconds, for `timestamp`
	MCI       uint64 // the unit's own MCI (or current tip MCI pre-stabilization), for `mci`/`age`
	Witnessed map[string]bool // seen-unit / cosigned-by bookkeeping computed by the caller

	// OriginMCI resolves the MCI an address was first defined at, for `age`.
	OriginMCI func(address string) (mci uint64, ok bool)

	// FormulaResults carries the external formula collaborator's verdict
	// for each `formula` leaf, keyed by the same tree path used for
	// Authentifiers. A leaf with no entry fails closed (spec.md §1: the
	// formula language itself is an external collaborator, out of scope
	// here).
	FormulaResults map[string]bool

	// Complexity accumulates across the whole tree, including branches the
	// authentifier path never exercises — spec.md §9 scenario 4 requires a
	// redefined nested address to be fully re-evaluated during
	// re-validation even when the signer authenticated through a sibling
	// branch.
	Complexity int
	ops        int
}

func (c *Context) addComplexity(n *dag.DefinitionNode) error {
	c.Complexity += n.Complexity()
	c.ops++
	if c.Complexity > dag.MaxComplexity {
		return dag.ErrComplexityExceeded
	}
	if c.ops > dag.MaxOps {
		return dag.ErrTooManyOps
	}
	return nil
}

package dag

// DefinitionOp is the closed set of address-definition tree operators
// named in spec.md §9.
type DefinitionOp string

const (
	OpSig                  DefinitionOp = "sig"
	OpHash                 DefinitionOp = "hash"
	OpAnd                  DefinitionOp = "and"
	OpOr                   DefinitionOp = "or"
	OpROfSet               DefinitionOp = "r of set"
	OpWeightedAnd          DefinitionOp = "weighted and"
	OpAddress              DefinitionOp = "address"
	OpDefinitionTemplate   DefinitionOp = "definition template"
	OpNot                  DefinitionOp = "not"
	OpInDataFeed           DefinitionOp = "in data feed"
	OpInMerkle             DefinitionOp = "in merkle"
	OpTimestamp            DefinitionOp = "timestamp"
	OpMCI                  DefinitionOp = "mci"
	OpAge                  DefinitionOp = "age"
	OpHas                  DefinitionOp = "has"
	OpHasOne               DefinitionOp = "has one"
	OpHasEqual             DefinitionOp = "has equal"
	OpSum                  DefinitionOp = "sum"
	OpAttested             DefinitionOp = "attested"
	OpSeen                 DefinitionOp = "seen"
	OpSeenAddress          DefinitionOp = "seen address"
	OpCosignedBy           DefinitionOp = "cosigned by"
	OpFormula              DefinitionOp = "formula"
)

// SigScheme names which signature algorithm a `sig` leaf authenticates
// with. See pkg/sigscheme for the verifiers.
type SigScheme string

const (
	SchemeEd25519   SigScheme = "ed25519"
	SchemeSecp256k1 SigScheme = "secp256k1"
	SchemeBLS12381  SigScheme = "bls12-381"
)

// DefinitionNode is a node of the address-definition capability tree. Only
// the fields relevant to Op are populated; this mirrors the source
// protocol's tagged-array encoding (`[op, params]`) without needing a
// dynamic type.
type DefinitionNode struct {
	Op DefinitionOp

	// OpSig / OpHash
	PubKey string
	Scheme SigScheme // defaults to SchemeEd25519 when empty
	HashValue string

	// OpAnd / OpOr / OpROfSet / OpWeightedAnd
	Subs    []*DefinitionNode
	Weights []uint32 // parallel to Subs, OpWeightedAnd only
	Required int     // OpROfSet: how many of Subs must be satisfied; OpWeightedAnd: required weight

	// OpAddress
	RefAddress string

	// OpDefinitionTemplate
	TemplateAddress string
	TemplateParams  map[string]string

	// OpNot
	Sub *DefinitionNode

	// OpInDataFeed / OpAttested
	Oracles   []string
	FeedName  string
	Comparison string
	Value     string
	MinCount  int

	// OpInMerkle
	MerkleAddress string
	MerkleRoot    string

	// OpTimestamp / OpMCI / OpAge
	Relation string // "<", "<=", ">", ">=", "="
	Bound    int64

	// OpHas / OpHasOne / OpHasEqual
	AssetFilter string
	AmountAtLeast uint64
	EqualField    string

	// OpSum
	SumAsset string
	SumAtLeast uint64
	SumFilter map[string]string

	// OpSeen / OpSeenAddress / OpCosignedBy
	SeenUnit    string
	SeenAddress string

	// OpFormula: opaque bytecode, interpreted by an external collaborator
	// (spec.md §1 — out of scope). The tree only carries its declared cost.
	FormulaSource string
	DeclaredOps   int
	DeclaredComplexity int
}

// Complexity returns the static complexity contribution of this node alone
// (not counting children); MAX_COMPLEXITY (100) bounds the sum across the
// whole tree, threaded through every branch including unexecuted ones
// during re-validation (spec.md §9, scenario 4).
func (n *DefinitionNode) Complexity() int {
	switch n.Op {
	case OpSig, OpHash:
		return 1
	case OpFormula:
		if n.DeclaredComplexity > 0 {
			return n.DeclaredComplexity
		}
		return 1
	default:
		return 1
	}
}

// Walk calls fn on every node in the tree, pre-order. It is used by the
// complexity/depth accounting pass and by the evaluator.
func (n *DefinitionNode) Walk(fn func(*DefinitionNode, int) error, depth int) error {
	if n == nil {
		return nil
	}
	if depth > MaxDefinitionDepth {
		return ErrDefinitionTooDeep
	}
	if err := fn(n, depth); err != nil {
		return err
	}
	for _, s := range n.Subs {
		if err := s.Walk(fn, depth+1); err != nil {
			return err
		}
	}
	if n.Sub != nil {
		if err := n.Sub.Walk(fn, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Package dag defines the core data model of the DAG ledger: units, the
// typed messages carried inside them, balls, authors, and address
// definitions. Nothing in this package touches storage or the network; it
// is the shared vocabulary every other package builds on.
package dag

import "time"

// Limits mirrors the wire-level size/complexity ceilings enforced by the
// validation pipeline (C3).
const (
	MaxUnitLength         = 5 * 1000 * 1000
	MaxMessagesPerUnit     = 128
	MaxAuthorsPerUnit      = 16
	MaxParentsPerUnit      = 16
	MaxComplexity          = 100
	MaxOps                 = 2000
	MaxAAStringLength      = 4096
	MaxResponsesPerTrigger = 10
	HashLength             = 44 // base64 SHA-256, PUBKEY_LENGTH shares the value
	MaxDefinitionDepth     = 100
	MaxPrivateChainDepth   = 100
	MaxStructuralDepth     = 1000 // conservative recursion guard, stays well under native stack limits
)

// Version gates which canonical serialization a unit uses.
type Version string

const (
	VersionLegacy Version = "1.0"
	VersionV3     Version = "3.0"
	VersionV4     Version = "4.0" // introduces the TPS-fee rule
)

// App identifies the payload type of a Message.
type App string

const (
	AppPayment                 App = "payment"
	AppData                    App = "data"
	AppDataFeed                App = "data_feed"
	AppDefinition              App = "definition"
	AppAsset                   App = "asset"
	AppAssetAttestors          App = "asset_attestors"
	AppAttestation             App = "attestation"
	AppPoll                    App = "poll"
	AppVote                    App = "vote"
	AppText                    App = "text"
	AppProfile                 App = "profile"
	AppDefinitionTemplate      App = "definition_template"
	AppState                   App = "state"
	AppAddressDefinitionChange App = "address_definition_change"
	AppSystemVote              App = "system_vote"
	AppSystemVoteCount         App = "system_vote_count"
)

// Unit is the atomic DAG vertex (spec.md §3 "Unit").
type Unit struct {
	UnitHash         string    `json:"unit,omitempty"` // 44-char base64 SHA-256; empty until computed
	Version          Version   `json:"version"`
	Alt              string    `json:"alt"`
	ParentUnits      []string  `json:"parent_units"`
	LastBallUnit     string    `json:"last_ball_unit,omitempty"`
	LastBall         string    `json:"last_ball,omitempty"`
	WitnessListUnit  string    `json:"witness_list_unit,omitempty"`
	Witnesses        []string  `json:"witnesses,omitempty"` // embedded witness list, mutually exclusive with WitnessListUnit
	Authors          []Author  `json:"authors"`
	Messages         []Message `json:"messages"`
	HeadersCommission uint64   `json:"headers_commission"`
	PayloadCommission uint64   `json:"payload_commission"`
	TPSFee           uint64    `json:"tps_fee"`
	BurnFee          uint64    `json:"burn_fee,omitempty"`
	OversizeFee      uint64    `json:"oversize_fee,omitempty"`
	Timestamp        int64     `json:"timestamp"`
	MaxAAResponses   *uint32   `json:"max_aa_responses,omitempty"`
	ContentHash      string    `json:"content_hash,omitempty"` // set when the unit has been voided

	// Properties below are computed/assigned, never part of the canonical
	// hash input; they live alongside the unit in storage (C2).
	Level              uint64 `json:"-"`
	WitnessedLevel     uint64 `json:"-"`
	IsOnMainChain      bool   `json:"-"`
	MainChainIndex     *uint64 `json:"-"`
	LatestIncludedMCI  *uint64 `json:"-"`
	IsStable           bool   `json:"-"`
	IsFree             bool   `json:"-"`
	Sequence           string `json:"-"` // "good" | "temp-bad" | "final-bad"
	BestParentUnit     string `json:"-"`
}

// Author is one signer of a unit.
type Author struct {
	Address        string            `json:"address"`
	Definition     *DefinitionNode   `json:"definition,omitempty"` // present only when defining/redefining
	Authentifiers  map[string]string `json:"authentifiers"`        // path -> base64 signature/proof
}

// Message is a typed payload inside a unit.
type Message struct {
	App     App         `json:"app"`
	Payload interface{} `json:"payload"`
}

// Ball is the canonical hash commitment of a stable unit's position in
// history. Balls only exist for stable units (spec.md §3 "Ball").
type Ball struct {
	UnitHash      string   `json:"unit"`
	ParentBalls   []string `json:"parent_balls"`
	SkiplistBalls []string `json:"skiplist_balls,omitempty"`
	IsNonserial   bool     `json:"is_nonserial"`
	Ball          string   `json:"ball"`
}

// UnitProps is the subset of a unit's computed properties the main-chain
// engine and caches pass around; it deliberately excludes the message body
// so that cache entries stay small.
type UnitProps struct {
	UnitHash          string
	Level             uint64
	WitnessedLevel    uint64
	BestParentUnit    string
	WitnessListUnit   string
	LastBallUnit      string
	ParentUnits       []string
	IsOnMainChain     bool
	MainChainIndex    *uint64
	LatestIncludedMCI *uint64
	IsStable          bool
	IsFree            bool
	Sequence          string
	Authors           []string // author addresses, for witness counting
	Timestamp         int64
}

// AAAddress marks an address whose definition is an Autonomous Agent
// program (spec.md §3 "AA").
type AAAddress struct {
	Address       string
	BaseAA        string // non-empty when this is a parameterized instantiation
	Params        map[string]interface{}
	Definition    AADefinition
	StorageSize   uint64
	CreatedAt     time.Time
}

// AADefinition is the body of `['autonomous agent', {...}]`.
type AADefinition struct {
	Messages    []AAMessageCase
	Init        *AABlock
	DocURL      string
	Getters     map[string]string
	BounceFees  map[string]uint64 // asset -> base fee, "base" key for bytes
}

// AAMessageCase is one `{if, init, messages:[...]}` case in an AA program.
type AAMessageCase struct {
	If       string
	Init     *AABlock
	Messages []AAStatement
}

// AABlock is a free-form statement block (assignments run before the case's
// messages); the formula language itself is out of scope (spec.md §1).
type AABlock struct {
	Statements []AAStatement
}

// AAStatement is one formula-language statement; Expr carries opaque
// bytecode/text that an external evaluator (out of scope) interprets. The
// core only needs to know the statement's declared complexity/op cost and,
// for `state` and payment-shaped statements, enough structure to build
// response-unit messages deterministically.
type AAStatement struct {
	Kind string // "var", "payment", "data", "data_feed", "definition", "asset", "state", ...
	Expr string
}

// Output is one (unit, msg_idx, out_idx) triple produced by a payment
// message.
type Output struct {
	UnitHash string
	MsgIndex int
	OutIndex int
	Address  string
	Amount   uint64
	Asset    string // "" means base asset
	IsSpent  bool
	BlindingAggregate string
}

// Input references the output it spends.
type Input struct {
	Type        string // "transfer" | "issue" | "witnessing" | "headers_commission"
	UnitHash    string
	MsgIndex    int
	OutIndex    int
	Amount      uint64
	Asset       string
	SpendProofHash string
}

// Joint is the wire envelope a peer sends and the unit store persists: the
// unit itself plus, once the unit is included in a ball, that ball and its
// skiplist units (spec.md §3 "Joint").
type Joint struct {
	Unit          *Unit    `json:"unit"`
	Ball          string   `json:"ball,omitempty"`
	SkiplistUnits []string `json:"skiplist_units,omitempty"`
}
